// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tether

import (
	"sync"

	"github.com/google/uuid"
)

// Handle identifies a per-interface state machine without exposing a
// pointer to it. The master state machine's request list and the registry
// both hold Handles; only the master's dispatch table resolves a
// Handle back to the channel that actually delivers messages to it. This
// keeps the master and the interface machines from holding direct cyclic
// references to one another.
type Handle = uuid.UUID

// TetherEntry is the registry's per-interface record.
type TetherEntry struct {
	Handle    Handle
	Type      InterfaceType
	LastState InterfaceState
	LastError ErrorCode

	sm *ifaceSM
}

// Registry maps tetherable interface names to their TetherEntry. All access
// is guarded by a single mutex held only for the duration of a map
// read/mutation; it is never held across a channel send or external call.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*TetherEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*TetherEntry)}
}

// Get returns a copy of the entry for iface, if tracked.
func (r *Registry) Get(iface string) (TetherEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[iface]
	if !ok {
		return TetherEntry{}, false
	}
	return *e, true
}

// put installs entry under iface. Internal: callers go through
// interfaceAdded/interfaceStatusChanged so the conflict policy is applied
// consistently.
func (r *Registry) put(iface string, e *TetherEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[iface] = e
}

// Remove deletes iface's entry, if any.
func (r *Registry) Remove(iface string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, iface)
}

// Snapshot returns an immutable copy of the registry for iteration without
// holding the lock.
func (r *Registry) Snapshot() map[string]TetherEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]TetherEntry, len(r.entries))
	for k, v := range r.entries {
		out[k] = *v
	}
	return out
}

// setState updates iface's LastState in place, if tracked.
func (r *Registry) setState(iface string, s InterfaceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[iface]; ok {
		e.LastState = s
	}
}

// setError updates iface's LastError in place, if tracked. A non-NO_ERROR
// value is sticky until clearAllErrors (CMD_CLEAR_ERROR) or removal.
func (r *Registry) setError(iface string, code ErrorCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[iface]; ok {
		e.LastError = code
	}
}

// clearAllErrors resets every tracked entry's LastError to NoError, invoked by
// CMD_CLEAR_ERROR.
func (r *Registry) clearAllErrors() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.LastError = NoError
	}
}

// tetheredIfaces returns the names of every entry in StateTethered.
func (r *Registry) tetheredIfaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, e := range r.entries {
		if e.LastState == StateTethered {
			out = append(out, name)
		}
	}
	return out
}

// tetherableIfaces returns the names of every tracked entry.
func (r *Registry) tetherableIfaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

// erroredIfaces returns the names of every entry whose LastError is sticky.
func (r *Registry) erroredIfaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, e := range r.entries {
		if e.LastError != NoError {
			out = append(out, name)
		}
	}
	return out
}
