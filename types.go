// Package speed implements the SPEED runtime coordinator: a filesystem-backed
// inter-process messaging bus. Each process publishes a discovery marker,
// watches its own inbox directory, and exchanges authenticated-encrypted
// frames by dropping files into peers' inboxes (spec §1-§2).
package speed

import "errors"

// ThreadMode selects whether Start blocks the caller in the watcher loop
// (Single) or spawns a background goroutine and returns immediately
// (Multi) — spec §4.F "start()".
type ThreadMode int

const (
	// Single runs the watcher loop on the caller's goroutine; Start blocks
	// until Kill or an unrecoverable I/O error.
	Single ThreadMode = iota
	// Multi spawns the watcher loop on its own goroutine; Start returns
	// immediately.
	Multi
)

// Message is the decoded payload delivered to the user callback for MSG
// and PONG frames (spec §3 "Decoded message").
type Message struct {
	SenderName  string
	PayloadText string
	Timestamp   uint64
	SequenceNum uint64
}

// Callback is invoked for every delivered MSG or PONG frame.
type Callback func(Message)

// MethodFunc is the signature for the dynamic method-invocation table
// (spec §4.F, §9 "no reflection required").
type MethodFunc func(args []string)

// Sentinel errors (spec §7).
var (
	// ErrInvalidKey is returned by SetKeyFile when the key file is
	// missing, not valid Base64, or of the wrong decoded length.
	ErrInvalidKey = errors.New("speed: invalid key")

	// ErrUnknownPeer is returned by Send when the receiver is absent from
	// both the global and (after a rescan) still-absent discovery set.
	ErrUnknownPeer = errors.New("speed: unknown peer")

	// ErrNotAuthorized is returned by Send when the receiver has not been
	// added via AddProcess.
	ErrNotAuthorized = errors.New("speed: not authorized")

	// ErrNotConnected is returned by Send when the handshake with the
	// receiver has not completed; a CON_REQ is emitted as a side effect
	// and the caller is expected to retry.
	ErrNotConnected = errors.New("speed: not connected, connection request sent")

	// ErrWriteFailed is returned when a frame could not be published to
	// the receiver's inbox; the sequence number it took is handed back
	// unless a later frame has already taken the next one.
	ErrWriteFailed = errors.New("speed: write failed")

	// ErrNoCallback is returned by Start if no callback has been
	// installed via SetCallback.
	ErrNoCallback = errors.New("speed: no callback installed")

	// ErrAlreadyStarted is returned by Start if the watcher is already
	// running.
	ErrAlreadyStarted = errors.New("speed: already started")

	// ErrKilled is returned by every operation that sends a frame
	// (AddProcess, Send, Ping, Pong, InvokeRemote) when invoked after Kill.
	ErrKilled = errors.New("speed: coordinator killed")
)
