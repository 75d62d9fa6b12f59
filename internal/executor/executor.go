// Package executor implements the per-peer FIFO executor pool (spec §4.E):
// for each remote sender name, an independent worker drains that sender's
// tasks in strictly increasing seq_num order, buffering out-of-order
// arrivals until the gap closes. This is what makes per-sender delivery
// order survive a filesystem watcher that can observe files in any order.
package executor

import (
	"errors"
	"sync"
	"time"

	"os"

	"github.com/charmbracelet/log"
	"github.com/eapache/queue"

	"github.com/SharonIV0x86/SPEED/internal/worker"
)

// DefaultCapacity is the default combined buffer+ready bound per peer.
const DefaultCapacity = 256

// DefaultIdleTimeout is how long an idle per-peer worker waits before
// exiting; it is recreated on the next arrival for that peer.
const DefaultIdleTimeout = 5 * time.Second

// ErrQueueFull is returned by TryEnqueue when a peer's buffer is at
// capacity.
var ErrQueueFull = errors.New("executor: queue full")

// ErrStopped is returned by Enqueue/TryEnqueue when the peer executor they
// are inserting into is stopped before the task is accepted. StopAll does
// not close the pool: a later Enqueue starts a fresh executor for its
// sender.
var ErrStopped = errors.New("executor: stopped")

// Task is one unit of per-sender work, ordered by SeqNum. Payload is
// opaque to the pool; the coordinator uses it to carry a file path.
type Task struct {
	SeqNum  uint64
	Payload interface{}
}

// ProcessFunc processes one task for one sender, in order.
type ProcessFunc func(sender string, task Task)

// Pool owns one peerExecutor per observed sender name.
type Pool struct {
	worker.Worker

	mu          sync.Mutex
	peers       map[string]*peerExecutor
	capacity    int
	idleTimeout time.Duration
	process     ProcessFunc
	log         *log.Logger
}

// NewPool constructs a Pool. capacity <= 0 and idleTimeout <= 0 fall back
// to DefaultCapacity / DefaultIdleTimeout respectively.
func NewPool(capacity int, idleTimeout time.Duration, process ProcessFunc, logger *log.Logger) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Pool{
		peers:       make(map[string]*peerExecutor),
		capacity:    capacity,
		idleTimeout: idleTimeout,
		process:     process,
		log:         logger.WithPrefix("executor"),
	}
}

// Enqueue blocks until the task is accepted into sender's buffer (or the
// peer/pool is stopped). Dropping is never permitted: a message is either
// buffered for in-order delivery or the caller's write path fails upstream.
func (p *Pool) Enqueue(sender string, task Task) error {
	pe := p.getOrCreate(sender)
	if err := pe.enqueue(task, true); err != nil {
		return err
	}
	// The worker may have idled out between getOrCreate and the insert.
	pe.ensureRunning(p)
	return nil
}

// TryEnqueue is the non-blocking variant: it returns ErrQueueFull instead
// of blocking when sender's buffer is at capacity (spec §4.E, "or returns
// QueueFull if a non-blocking variant is used").
func (p *Pool) TryEnqueue(sender string, task Task) error {
	pe := p.getOrCreate(sender)
	if err := pe.enqueue(task, false); err != nil {
		return err
	}
	pe.ensureRunning(p)
	return nil
}

func (p *Pool) getOrCreate(sender string) *peerExecutor {
	p.mu.Lock()
	pe, ok := p.peers[sender]
	if !ok {
		pe = newPeerExecutor(sender, p.capacity, p.idleTimeout, p.process, p.log)
		p.peers[sender] = pe
	}
	p.mu.Unlock()
	pe.ensureRunning(p)
	return pe
}

// StopAll halts every peer executor, discards unprocessed buffered tasks
// (their files remain on disk for a subsequent run), and blocks until all
// worker goroutines have exited.
func (p *Pool) StopAll() {
	p.mu.Lock()
	peers := p.peers
	p.peers = make(map[string]*peerExecutor)
	p.mu.Unlock()

	for _, pe := range peers {
		pe.stop()
	}
	p.Wait()
}

// Depth returns the combined buffered+ready task count across every known
// peer, for exposing as a gauge (e.g. speed_executor_queue_depth).
func (p *Pool) Depth() int {
	p.mu.Lock()
	peers := make([]*peerExecutor, 0, len(p.peers))
	for _, pe := range p.peers {
		peers = append(peers, pe)
	}
	p.mu.Unlock()

	total := 0
	for _, pe := range peers {
		pe.mu.Lock()
		total += pe.size()
		pe.mu.Unlock()
	}
	return total
}

// peerExecutor is the per-sender reorder buffer and worker.
type peerExecutor struct {
	log *log.Logger

	mu      sync.Mutex
	notFull *sync.Cond
	buffer  map[uint64]Task
	ready   *queue.Queue
	nextSeq uint64

	capacity    int
	idleTimeout time.Duration
	process     ProcessFunc
	sender      string

	signal  chan struct{}
	stopCh  chan struct{}
	stopped bool
	running bool // guarded by mu: at most one worker goroutine per peer
}

func newPeerExecutor(sender string, capacity int, idleTimeout time.Duration, process ProcessFunc, logger *log.Logger) *peerExecutor {
	pe := &peerExecutor{
		log:         logger,
		buffer:      make(map[uint64]Task),
		ready:       queue.New(),
		capacity:    capacity,
		idleTimeout: idleTimeout,
		process:     process,
		sender:      sender,
		signal:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	pe.notFull = sync.NewCond(&pe.mu)
	return pe
}

func (pe *peerExecutor) size() int {
	return len(pe.buffer) + pe.ready.Length()
}

func (pe *peerExecutor) enqueue(task Task, blocking bool) error {
	pe.mu.Lock()
	for pe.size() >= pe.capacity {
		if pe.stopped {
			pe.mu.Unlock()
			return ErrStopped
		}
		if !blocking {
			pe.mu.Unlock()
			return ErrQueueFull
		}
		pe.notFull.Wait()
	}
	if pe.stopped {
		pe.mu.Unlock()
		return ErrStopped
	}
	pe.buffer[task.SeqNum] = task
	pe.drainLocked()
	pe.mu.Unlock()

	select {
	case pe.signal <- struct{}{}:
	default:
	}
	return nil
}

// drainLocked moves every contiguous run starting at nextSeq from the
// out-of-order buffer into the ready queue. Must be called with mu held.
func (pe *peerExecutor) drainLocked() {
	for {
		t, ok := pe.buffer[pe.nextSeq]
		if !ok {
			return
		}
		delete(pe.buffer, pe.nextSeq)
		pe.ready.Add(t)
		pe.nextSeq++
	}
}

// ensureRunning starts this peer's worker goroutine if one is not already
// active, so at most one worker exists per peer at a time (spec §4.E). The
// running flag is checked and set under mu so it can never race against
// run()'s own idle-exit decision (see run).
func (pe *peerExecutor) ensureRunning(p *Pool) {
	pe.mu.Lock()
	if pe.running {
		pe.mu.Unlock()
		return
	}
	pe.running = true
	if pe.stopped {
		pe.stopCh = make(chan struct{})
		pe.stopped = false
	}
	pe.mu.Unlock()
	p.Go(pe.run)
}

func (pe *peerExecutor) run() {
	timer := time.NewTimer(pe.idleTimeout)
	defer timer.Stop()

	for {
		pe.drainReady()

		select {
		case <-pe.stopCh:
			pe.mu.Lock()
			pe.running = false
			pe.mu.Unlock()
			return
		case <-pe.signal:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(pe.idleTimeout)
		case <-timer.C:
			// Hold mu across the idle check and the running-flag clear so
			// a concurrent enqueue/ensureRunning can never race this exit:
			// either it observes running==true and skips starting a new
			// worker (safe, because we haven't decided to exit yet), or it
			// observes running==false only after we have committed to
			// returning and the caller is responsible for a fresh ensureRunning.
			pe.mu.Lock()
			if pe.size() == 0 {
				pe.running = false
				pe.mu.Unlock()
				pe.log.Debug("idle worker exiting", "sender", pe.sender)
				return
			}
			pe.mu.Unlock()
			timer.Reset(pe.idleTimeout)
		}
	}
}

func (pe *peerExecutor) drainReady() {
	for {
		pe.mu.Lock()
		if pe.ready.Length() == 0 {
			pe.mu.Unlock()
			return
		}
		task := pe.ready.Remove().(Task)
		pe.mu.Unlock()
		pe.notFull.Broadcast()

		select {
		case <-pe.stopCh:
			return
		default:
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					pe.log.Error("panic processing task", "sender", pe.sender, "recover", r)
				}
			}()
			pe.process(pe.sender, task)
		}()
	}
}

func (pe *peerExecutor) stop() {
	pe.mu.Lock()
	pe.stopped = true
	pe.mu.Unlock()
	close(pe.stopCh)
	pe.notFull.Broadcast()
}
