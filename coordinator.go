package speed

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/SharonIV0x86/SPEED/internal/aead"
	"github.com/SharonIV0x86/SPEED/internal/config"
	"github.com/SharonIV0x86/SPEED/internal/executor"
	"github.com/SharonIV0x86/SPEED/internal/frame"
	"github.com/SharonIV0x86/SPEED/internal/fswriter"
	"github.com/SharonIV0x86/SPEED/internal/keyfile"
	"github.com/SharonIV0x86/SPEED/internal/metrics"
	"github.com/SharonIV0x86/SPEED/internal/registry"
	"github.com/SharonIV0x86/SPEED/internal/worker"
)

const accessRegistryDirName = "access_registry"

// Coordinator is the public entry point of the bus: one instance per local
// process. It owns the watcher loop, the per-peer executor pool, the
// registry, and the AEAD key, and dispatches incoming frames per spec
// §4.F.ii.
type Coordinator struct {
	worker.Worker

	selfName   string
	busDir     string
	selfInbox  string
	threadMode ThreadMode
	cfg        *config.Config

	reg     *registry.Registry
	metrics *metrics.Metrics
	log     *log.Logger

	keyMu   sync.RWMutex
	key     [aead.KeySize]byte
	haveKey bool

	cbMu     sync.RWMutex
	callback Callback

	methodsMu sync.RWMutex
	methods   map[string]MethodFunc

	pendingMu sync.Mutex
	pending   map[string]struct{}

	seq uint64 // atomic, fetch-and-increment

	pool *executor.Pool

	seenMu sync.Mutex
	seen   map[string]struct{}

	paused int32 // atomic bool: 1 == watcher suspended

	started int32 // atomic bool
	killed  int32 // atomic bool
}

// New constructs a Coordinator for selfName rooted at busDir, creating
// B/, B/<selfName>/, and B/access_registry/, and publishing this
// process's discovery marker (spec §4.F "new").
func New(selfName string, threadMode ThreadMode, busDir string, cfg *config.Config) (*Coordinator, error) {
	if err := os.MkdirAll(busDir, 0o700); err != nil {
		return nil, fmt.Errorf("speed: create bus dir: %w", err)
	}
	selfInbox := filepath.Join(busDir, selfName)
	if err := os.MkdirAll(selfInbox, 0o700); err != nil {
		return nil, fmt.Errorf("speed: create self inbox: %w", err)
	}
	accessDir := filepath.Join(busDir, accessRegistryDirName)
	reg, err := registry.New(accessDir, selfName)
	if err != nil {
		return nil, fmt.Errorf("speed: create registry: %w", err)
	}
	if err := reg.PublishMarker(); err != nil {
		return nil, fmt.Errorf("speed: publish marker: %w", err)
	}

	c := &Coordinator{
		selfName:   selfName,
		busDir:     busDir,
		selfInbox:  selfInbox,
		threadMode: threadMode,
		cfg:        cfg,
		reg:        reg,
		metrics:    metrics.New(selfName),
		log:        log.New(os.Stderr).WithPrefix("speed." + selfName),
		methods:    make(map[string]MethodFunc),
		pending:    make(map[string]struct{}),
		seen:       make(map[string]struct{}),
	}
	c.pool = executor.NewPool(cfg.ExecutorCapacityOrDefault(), cfg.IdleTimeoutOrDefault(), c.processTask, c.log)
	return c, nil
}

// SetKeyFile loads and validates the shared AEAD key (spec §4.F
// "set_key_file"). Returns ErrInvalidKey wrapping the underlying cause.
func (c *Coordinator) SetKeyFile(path string) error {
	raw, err := keyfile.Read(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, err := aead.DeriveKey(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	c.keyMu.Lock()
	c.key = key
	c.haveKey = true
	c.keyMu.Unlock()
	return nil
}

func (c *Coordinator) currentKey() ([aead.KeySize]byte, bool) {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.key, c.haveKey
}

// SetCallback installs the user's message callback, invoked only for MSG
// and PONG frames (spec §4.F "set_callback").
func (c *Coordinator) SetCallback(fn Callback) {
	c.cbMu.Lock()
	c.callback = fn
	c.cbMu.Unlock()
}

func (c *Coordinator) deliver(m Message) {
	c.cbMu.RLock()
	cb := c.callback
	c.cbMu.RUnlock()
	if cb != nil {
		cb(m)
	}
}

// RegisterMethod adds name to the local dynamic-dispatch table (spec
// §4.F "register_method").
func (c *Coordinator) RegisterMethod(name string, fn MethodFunc) {
	c.methodsMu.Lock()
	c.methods[name] = fn
	c.methodsMu.Unlock()
}

// InvokeMethod looks up name in the local dynamic-dispatch table and calls
// it with args. It does not cross process boundaries — see
// INVOKE_METHOD frames for the wire-level counterpart dispatched on
// receipt from a peer.
func (c *Coordinator) InvokeMethod(name string, args []string) bool {
	c.methodsMu.RLock()
	fn, ok := c.methods[name]
	c.methodsMu.RUnlock()
	if !ok {
		return false
	}
	fn(args)
	return true
}

// AddProcess idempotently authorizes name, sends it a CON_REQ, and records
// it in the pending-connection set (spec §4.F "add_process").
func (c *Coordinator) AddProcess(name string) error {
	if atomic.LoadInt32(&c.killed) == 1 {
		return ErrKilled
	}
	c.reg.Add(name)
	c.markPending(name)
	return c.sendControl(name, frame.TypeCONREQ, nil)
}

// AccessList returns a snapshot of every peer name currently authorized on
// this process (the "access" set of spec §3/§4.D).
func (c *Coordinator) AccessList() []string {
	return c.reg.AccessSnapshot()
}

func (c *Coordinator) markPending(name string) {
	c.pendingMu.Lock()
	c.pending[name] = struct{}{}
	c.pendingMu.Unlock()
}

func (c *Coordinator) isPending(name string) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	_, ok := c.pending[name]
	return ok
}

func (c *Coordinator) clearPending(name string) {
	c.pendingMu.Lock()
	delete(c.pending, name)
	c.pendingMu.Unlock()
}

// nextSeq returns the next sequence number for an outgoing frame, advancing
// the counter. Every frame type, including control frames, consumes a real
// value (spec.md §9 open question 2/3).
func (c *Coordinator) nextSeq() uint64 {
	return atomic.AddUint64(&c.seq, 1) - 1
}

// Send constructs a MSG frame for text and writes it into receiver's
// inbox, enforcing the handshake preconditions of spec §4.F.i.
func (c *Coordinator) Send(text, receiver string) error {
	if atomic.LoadInt32(&c.killed) == 1 {
		return ErrKilled
	}
	if err := c.checkSendPreconditions(receiver); err != nil {
		return err
	}
	return c.sendFrame(receiver, frame.TypeMSG, []byte(text))
}

// Ping sends a PING control frame to receiver.
func (c *Coordinator) Ping(receiver string) error {
	if atomic.LoadInt32(&c.killed) == 1 {
		return ErrKilled
	}
	return c.sendControl(receiver, frame.TypePING, nil)
}

// Pong sends a PONG control frame to receiver.
func (c *Coordinator) Pong(receiver string) error {
	if atomic.LoadInt32(&c.killed) == 1 {
		return ErrKilled
	}
	return c.sendControl(receiver, frame.TypePONG, nil)
}

// checkSendPreconditions implements spec §4.F.i in order: global (with a
// rescan on first miss), access, connected.
func (c *Coordinator) checkSendPreconditions(receiver string) error {
	if !c.reg.ContainsGlobal(receiver) {
		if err := c.reg.RescanGlobal(); err != nil {
			return fmt.Errorf("speed: rescan global: %w", err)
		}
		if !c.reg.ContainsGlobal(receiver) {
			return ErrUnknownPeer
		}
	}
	if !c.reg.ContainsAccess(receiver) {
		return ErrNotAuthorized
	}
	if !c.reg.ContainsConnected(receiver) {
		c.markPending(receiver)
		if err := c.sendControl(receiver, frame.TypeCONREQ, nil); err != nil {
			return err
		}
		return ErrNotConnected
	}
	return nil
}

func (c *Coordinator) sendControl(receiver string, typ frame.Type, payload []byte) error {
	return c.sendFrame(receiver, typ, payload)
}

// sendFrame encrypts and publishes one frame to receiver's inbox. A frame
// that fails to seal or write hands its sequence number back so the next
// frame reuses it (spec §4.C); if another frame has already taken a later
// number in the meantime, the failed number stays consumed.
func (c *Coordinator) sendFrame(receiver string, typ frame.Type, payload []byte) error {
	if err := frame.Validate(c.selfName, receiver); err != nil {
		return err
	}

	key, ok := c.currentKey()
	if !ok {
		return fmt.Errorf("%w: no key installed", ErrInvalidKey)
	}

	seq := c.nextSeq()
	sealed, err := aead.SealFrame(key, []byte(c.selfName), []byte(receiver), payload)
	if err != nil {
		atomic.CompareAndSwapUint64(&c.seq, seq+1, seq)
		return fmt.Errorf("speed: seal frame: %w", err)
	}

	f := &frame.Frame{
		Version:   frame.CurrentVersion,
		Type:      typ,
		SenderPID: uint32(os.Getpid()),
		Timestamp: uint64(nowUnixNano()),
		SeqNum:    seq,
		Sender:    sealed.Sender,
		Receiver:  sealed.Receiver,
		Nonce:     sealed.Base,
		Payload:   sealed.Payload,
	}
	raw := frame.Encode(f)

	if err := fswriter.Write(c.busDir, receiver, f.Timestamp, f.SeqNum, raw); err != nil {
		atomic.CompareAndSwapUint64(&c.seq, seq+1, seq)
		c.metrics.FramesDropped.WithLabelValues("write_failed").Inc()
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	c.metrics.FramesSent.WithLabelValues(typ.String()).Inc()
	return nil
}

// nowUnixNano returns the wall-clock time in nanoseconds for a frame's
// timestamp field. Values are not guaranteed to be unique or increasing
// across calls; ordering relies on seq_num, not on the timestamp.
func nowUnixNano() int64 {
	return time.Now().UnixNano()
}

// Stop cooperatively pauses the watcher loop; workers already draining
// continue to completion (spec §5 "suspension points").
func (c *Coordinator) Stop() {
	atomic.StoreInt32(&c.paused, 1)
}

// Resume un-pauses a previously Stopped watcher.
func (c *Coordinator) Resume() {
	atomic.StoreInt32(&c.paused, 0)
}

func (c *Coordinator) isPaused() bool {
	return atomic.LoadInt32(&c.paused) == 1
}

// Start launches the watcher. In Single mode it blocks in the watcher loop
// until Kill; in Multi mode it spawns the loop on a goroutine and returns
// immediately (spec §4.F "start").
func (c *Coordinator) Start() error {
	c.cbMu.RLock()
	hasCB := c.callback != nil
	c.cbMu.RUnlock()
	if !hasCB {
		return ErrNoCallback
	}
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return ErrAlreadyStarted
	}

	if c.threadMode == Multi {
		c.Go(c.watchLoop)
		return nil
	}
	c.watchLoop()
	return nil
}

func (c *Coordinator) watchLoop() {
	interval := c.cfg.ScanIntervalOrDefault()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.HaltCh():
			return
		case <-ticker.C:
			if c.isPaused() {
				continue
			}
			c.scanOnce()
			c.metrics.QueueDepth.Set(float64(c.pool.Depth()))
		}
	}
}

// Kill executes the teardown sequence of spec §4.F.iii and is idempotent
// on repeated calls.
func (c *Coordinator) Kill() error {
	if !atomic.CompareAndSwapInt32(&c.killed, 0, 1) {
		return nil
	}
	c.Halt()
	c.pool.StopAll()

	peers := c.reg.AccessSnapshot()
	for _, name := range peers {
		if err := c.sendControl(name, frame.TypeEXITNOTIF, nil); err != nil {
			c.log.Warn("exit notification failed", "peer", name, "error", err)
		}
	}
	if err := c.reg.UnpublishMarker(); err != nil {
		return fmt.Errorf("speed: unpublish marker: %w", err)
	}
	c.Wait()
	return nil
}
