// Package registry maintains the three peer-name sets described in spec
// §4.D — global (discovered), access (authorized), connected (handshake
// complete) — plus the self-process marker file that signals this process
// is alive to anyone scanning access_registry/.
package registry

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/SharonIV0x86/SPEED/internal/fswriter"
)

const (
	markerFinalExt = ".oregistry"
	markerTmpExt   = ".iregistry"
)

// Registry tracks discovered, authorized, and connected peer names for one
// local process, and owns that process's visible marker file.
type Registry struct {
	selfName string
	dir      string // <bus>/access_registry

	mu        sync.RWMutex
	global    map[string]struct{}
	access    map[string]struct{}
	connected map[string]struct{}
}

// New returns a Registry rooted at accessRegistryDir for the process named
// selfName. The directory is created if absent, matching
// AccessRegistry's constructor behavior in the original implementation.
func New(accessRegistryDir, selfName string) (*Registry, error) {
	if err := os.MkdirAll(accessRegistryDir, 0o700); err != nil {
		return nil, err
	}
	return &Registry{
		selfName:  selfName,
		dir:       accessRegistryDir,
		global:    make(map[string]struct{}),
		access:    make(map[string]struct{}),
		connected: make(map[string]struct{}),
	}, nil
}

// Add inserts name into the access set. Idempotent.
func (r *Registry) Add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.access[name] = struct{}{}
}

// RemoveFromAccess removes name from the access set, and from the connected
// set as well so that connected stays a subset of access.
func (r *Registry) RemoveFromAccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.access, name)
	delete(r.connected, name)
}

// RemoveFromGlobal removes name from the global (discovered) set.
func (r *Registry) RemoveFromGlobal(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.global, name)
}

// RemoveFromConnected removes name from the connected set.
func (r *Registry) RemoveFromConnected(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connected, name)
}

// ContainsGlobal reports whether name has been discovered.
func (r *Registry) ContainsGlobal(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.global[name]
	return ok
}

// ContainsAccess reports whether name is authorized.
func (r *Registry) ContainsAccess(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.access[name]
	return ok
}

// ContainsConnected reports whether name has completed the handshake.
func (r *Registry) ContainsConnected(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connected[name]
	return ok
}

// Connect inserts name into the connected set. Idempotent; does not check
// membership in access (callers are expected to have already verified
// access per spec invariant 1, connected ⊆ access).
func (r *Registry) Connect(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[name] = struct{}{}
}

// AccessSnapshot returns a copy of the current access set.
func (r *Registry) AccessSnapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.access))
	for name := range r.access {
		out = append(out, name)
	}
	return out
}

// RescanGlobal walks the access_registry directory, taking each regular
// file's stem (sans extension) as a discovered peer name, skipping self,
// and replacing the global set wholesale (spec §4.D).
func (r *Registry) RescanGlobal() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	next := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		if stem == "" || stem == r.selfName {
			continue
		}
		next[stem] = struct{}{}
	}
	r.mu.Lock()
	r.global = next
	r.mu.Unlock()
	return nil
}

// PublishMarker atomically publishes this process's <self>.oregistry
// marker file (spec invariant 4: present for the entire observable
// lifetime of the process).
func (r *Registry) PublishMarker() error {
	return fswriter.PublishMarker(r.dir, r.selfName, markerTmpExt, markerFinalExt, []byte(r.selfName))
}

// UnpublishMarker removes this process's marker file.
func (r *Registry) UnpublishMarker() error {
	return fswriter.RemoveMarker(r.dir, r.selfName, markerFinalExt)
}
