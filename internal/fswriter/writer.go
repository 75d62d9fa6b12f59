// Package fswriter atomically publishes one encoded frame into a peer's
// inbox directory, using the open-as-.ispeed-then-rename-to-.ospeed idiom
// (spec §4.C) so a concurrently polling watcher never observes a partial
// file.
package fswriter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/uuid"
)

// ErrWriteFailed wraps any filesystem error encountered while publishing a
// frame. Callers must not advance their sequence counter when this is
// returned (spec §4.C, §7).
type ErrWriteFailed struct {
	Err error
}

func (e *ErrWriteFailed) Error() string {
	return fmt.Sprintf("fswriter: write failed: %v", e.Err)
}

func (e *ErrWriteFailed) Unwrap() error { return e.Err }

// Write publishes raw into busDir/receiver/ with a filename of the form
// <timestamp>_<receiver>_<seq>_<uuid>.ospeed (spec §6). The receiver's
// inbox directory is created on demand.
func Write(busDir, receiver string, timestamp, seq uint64, raw []byte) error {
	inbox := filepath.Join(busDir, receiver)
	if err := os.MkdirAll(inbox, 0o700); err != nil {
		return &ErrWriteFailed{Err: err}
	}

	token, err := uuid.NewV4()
	if err != nil {
		return &ErrWriteFailed{Err: err}
	}

	stem := fmt.Sprintf("%d_%s_%d_%s", timestamp, receiver, seq, token.String())
	tmpPath := filepath.Join(inbox, stem+".ispeed")
	finalPath := filepath.Join(inbox, stem+".ospeed")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return &ErrWriteFailed{Err: err}
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &ErrWriteFailed{Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return &ErrWriteFailed{Err: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return &ErrWriteFailed{Err: err}
	}
	return nil
}

// PublishMarker atomically publishes a marker file at dir/<name><finalExt>
// using the same write-then-rename pattern as Write; the registry uses it
// for access_registry/<name>.oregistry. contents is typically just the
// process name.
func PublishMarker(dir, name, tmpExt, finalExt string, contents []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &ErrWriteFailed{Err: err}
	}
	tmpPath := filepath.Join(dir, name+tmpExt)
	finalPath := filepath.Join(dir, name+finalExt)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return &ErrWriteFailed{Err: err}
	}
	if _, err := f.Write(contents); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &ErrWriteFailed{Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return &ErrWriteFailed{Err: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return &ErrWriteFailed{Err: err}
	}
	return nil
}

// RemoveMarker deletes dir/<name><ext>, tolerating its absence.
func RemoveMarker(dir, name, ext string) error {
	err := os.Remove(filepath.Join(dir, name+ext))
	if err != nil && !os.IsNotExist(err) {
		return &ErrWriteFailed{Err: err}
	}
	return nil
}
