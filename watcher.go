package speed

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/SharonIV0x86/SPEED/internal/aead"
	"github.com/SharonIV0x86/SPEED/internal/executor"
	"github.com/SharonIV0x86/SPEED/internal/frame"
)

// filenameRe matches the on-disk grammar of spec §6:
// <timestamp>_<receiver_name>_<seq>_<uuid>.ospeed
//
// Group 2 is the destination name the writer used — which, for any file
// sitting in our own inbox, is always our own name and carries no ordering
// information. The source sender for FIFO ordering comes from the
// encrypted header, decrypted below before the task is ever handed to the
// executor pool (spec.md §9 open question 1).
var filenameRe = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_]+)_(\d+)_([A-Za-z0-9\-]+)\.ospeed$`)

// scanOnce lists the self inbox once, skips already-seen files, and hands
// each new one to the per-sender executor pool after a lightweight
// pre-decrypt of just the sender field.
func (c *Coordinator) scanOnce() {
	entries, err := os.ReadDir(c.selfInbox)
	if err != nil {
		// The inbox is unreadable (e.g. deleted under us): stop the watcher.
		c.log.Error("scan inbox, stopping watcher", "error", err)
		c.Halt()
		return
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !filenameRe.MatchString(name) {
			continue
		}

		c.seenMu.Lock()
		_, already := c.seen[name]
		if !already {
			c.seen[name] = struct{}{}
		}
		c.seenMu.Unlock()
		if already {
			continue
		}

		path := filepath.Join(c.selfInbox, name)
		sender, seq, ok := c.routeKey(path, name)
		if !ok {
			c.forgetSeen(name)
			continue
		}

		task := executor.Task{SeqNum: seq, Payload: path}
		if err := c.pool.Enqueue(sender, task); err != nil {
			c.log.Warn("enqueue task", "sender", sender, "error", err)
			c.forgetSeen(name)
		}
	}
}

func (c *Coordinator) forgetSeen(name string) {
	c.seenMu.Lock()
	delete(c.seen, name)
	c.seenMu.Unlock()
}

// routeKey reads path, decrypts only its sender field, and returns the
// decrypted sender name plus the frame's seq_num — the pair the executor
// pool keys and orders on. A decode or sender-decrypt failure deletes the
// file; a read failure leaves it on disk, and the caller forgets its dedup
// entry so the next scan tries it again.
func (c *Coordinator) routeKey(path, name string) (sender string, seq uint64, ok bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", 0, false
	}
	f, err := frame.Decode(raw)
	if err != nil {
		c.log.Debug("malformed frame, dropping", "file", name, "error", err)
		c.removeFile(path, name)
		return "", 0, false
	}

	key, haveKey := c.currentKey()
	if !haveKey {
		c.log.Warn("no key installed, dropping frame", "file", name)
		c.removeFile(path, name)
		return "", 0, false
	}

	senderPlain, err := aead.OpenSender(key, f.Nonce, f.Sender)
	if err != nil {
		c.metrics.FramesDropped.WithLabelValues("auth_failed").Inc()
		c.log.Debug("sender decrypt failed, dropping", "file", name, "error", err)
		c.removeFile(path, name)
		return "", 0, false
	}

	return string(senderPlain), f.SeqNum, true
}

// processTask is the executor.ProcessFunc invoked, in strict per-sender
// seq_num order, for every task the watcher enqueued. sender is already
// the decrypted header value; task.Payload is the file path.
func (c *Coordinator) processTask(sender string, task executor.Task) {
	path, _ := task.Payload.(string)
	name := filepath.Base(path)
	defer func() {
		c.removeFile(path, name)
		c.forgetSeen(name)
	}()

	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	f, err := frame.Decode(raw)
	if err != nil {
		return
	}

	key, haveKey := c.currentKey()
	if !haveKey {
		return
	}
	decodedSender, receiver, payload, err := aead.OpenFrame(key, f.Nonce, f.Sender, f.Receiver, f.Payload)
	if err != nil {
		c.metrics.FramesDropped.WithLabelValues("auth_failed").Inc()
		f.LogFields(c.log)
		return
	}
	if err := frame.Validate(string(decodedSender), string(receiver)); err != nil {
		c.metrics.FramesDropped.WithLabelValues("invalid_message").Inc()
		c.log.Warn("invalid message, dropping", "file", name, "error", err)
		f.LogFields(c.log)
		return
	}

	c.metrics.FramesReceived.WithLabelValues(f.Type.String()).Inc()
	c.dispatch(sender, f, payload)
}

// dispatch implements the state machine of spec §4.F.ii.
func (c *Coordinator) dispatch(sender string, f *frame.Frame, payload []byte) {
	switch f.Type {
	case frame.TypeMSG:
		c.deliver(Message{SenderName: sender, PayloadText: string(payload), Timestamp: f.Timestamp, SequenceNum: f.SeqNum})

	case frame.TypePONG:
		c.deliver(Message{SenderName: sender, PayloadText: string(payload), Timestamp: f.Timestamp, SequenceNum: f.SeqNum})

	case frame.TypePING:
		if err := c.sendControl(sender, frame.TypePONG, nil); err != nil {
			c.log.Warn("reply pong failed", "peer", sender, "error", err)
		}

	case frame.TypeCONREQ:
		if c.reg.ContainsAccess(sender) {
			if err := c.sendControl(sender, frame.TypeCONRES, nil); err != nil {
				c.log.Warn("reply con_res failed", "peer", sender, "error", err)
			}
		}

	case frame.TypeCONRES:
		if c.isPending(sender) {
			c.reg.Connect(sender)
			c.clearPending(sender)
		}

	case frame.TypeEXITNOTIF:
		c.reg.RemoveFromGlobal(sender)
		c.reg.RemoveFromAccess(sender)
		c.reg.RemoveFromConnected(sender)

	case frame.TypeINVOKEMETHOD:
		methodName, args := decodeInvocation(payload)
		if !c.InvokeMethod(methodName, args) {
			c.log.Info("invoke_method: no such method, dropping", "method", methodName, "peer", sender)
		}

	default:
		c.log.Warn("unknown frame type, dropping", "type", f.Type, "peer", sender)
	}
}

// removeFile deletes path, tolerating its prior absence (another path may
// have already removed it under a race).
func (c *Coordinator) removeFile(path, name string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.log.Warn("remove processed file", "file", name, "error", err)
	}
}
