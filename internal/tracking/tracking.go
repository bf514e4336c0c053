package tracking

import (
	"fmt"
	"strings"
	"sync"

	"github.com/loykin/snapwatch/internal/detector"
)

// Entry is one tracked (process, source, destination) triple.
// Source and Destination may reference environment variables; they are
// expanded at use time, never stored expanded.
type Entry struct {
	ProcessName string            `json:"process" mapstructure:"process" validate:"required"`
	Source      string            `json:"source" mapstructure:"source" validate:"required"`
	Destination string            `json:"destination" mapstructure:"destination" validate:"required"`
	Detectors   []detector.Config `json:"detectors,omitempty" mapstructure:"detectors" validate:"dive"`

	// Running mirrors the last polled liveness. Only the watcher sets it.
	Running bool `json:"running" mapstructure:"-"`
}

// Validate checks the fields that the registry relies on.
func (e Entry) Validate() error {
	if err := ValidateName(e.ProcessName); err != nil {
		return err
	}
	if strings.TrimSpace(e.Source) == "" {
		return fmt.Errorf("entry %s: source is required", e.ProcessName)
	}
	if strings.TrimSpace(e.Destination) == "" {
		return fmt.Errorf("entry %s: destination is required", e.ProcessName)
	}
	return nil
}

// Status is an entry as reported to users: paths expanded, plus whether a
// start fingerprint is waiting for the process to stop.
type Status struct {
	Entry
	ResolvedSource      string `json:"resolved_source"`
	ResolvedDestination string `json:"resolved_destination"`
	Pending             bool   `json:"pending"`
}

// ValidateName rejects process names that cannot serve as a directory name.
func ValidateName(name string) error {
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return fmt.Errorf("process name is required")
	case n != name:
		return fmt.Errorf("process name %q has surrounding whitespace", name)
	case n == "." || n == "..":
		return fmt.Errorf("process name %q is reserved", name)
	case strings.ContainsAny(n, `/\`):
		return fmt.Errorf("process name %q must not contain path separators", name)
	}
	return nil
}

// sameConfig compares the caller-owned fields, ignoring Running.
func sameConfig(a, b Entry) bool {
	if a.ProcessName != b.ProcessName || a.Source != b.Source || a.Destination != b.Destination {
		return false
	}
	if len(a.Detectors) != len(b.Detectors) {
		return false
	}
	for i := range a.Detectors {
		if a.Detectors[i] != b.Detectors[i] {
			return false
		}
	}
	return true
}

// Registry is the ordered, concurrency-safe list of tracked entries.
// Process names are unique: the per-process backup root is keyed by name.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*Entry
}

// NewRegistry creates a registry holding entries in the given order.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]*Entry, len(entries))}
	for _, e := range entries {
		if err := r.Add(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add appends a new entry. Running always starts false.
func (r *Registry) Add(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ProcessName]; ok {
		return fmt.Errorf("process %s is already tracked", e.ProcessName)
	}
	e.Running = false
	e.Detectors = append([]detector.Config(nil), e.Detectors...)
	r.entries[e.ProcessName] = &e
	r.order = append(r.order, e.ProcessName)
	return nil
}

// Remove deletes the entry for name. It reports whether one existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Rename changes the tracked process name of an entry, keeping its position
// and running state.
func (r *Registry) Rename(oldName, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[oldName]
	if !ok {
		return fmt.Errorf("unknown process: %s", oldName)
	}
	if oldName == newName {
		return nil
	}
	if _, taken := r.entries[newName]; taken {
		return fmt.Errorf("process %s is already tracked", newName)
	}
	delete(r.entries, oldName)
	e.ProcessName = newName
	r.entries[newName] = e
	for i, n := range r.order {
		if n == oldName {
			r.order[i] = newName
			break
		}
	}
	return nil
}

// Get returns a copy of the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return clone(*e), true
}

// Snapshot returns copies of all entries in registry order.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, clone(*r.entries[n]))
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetRunning records the polled liveness of name. Reserved for the watcher.
func (r *Registry) SetRunning(name string, running bool) {
	r.mu.Lock()
	if e, ok := r.entries[name]; ok {
		e.Running = running
	}
	r.mu.Unlock()
}

// Sync makes the registry hold exactly entries, keyed by process name.
// Entries whose configuration changed keep their running state.
func (r *Registry) Sync(entries []Entry) (added, removed, updated []string, err error) {
	want := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, nil, nil, err
		}
		if _, dup := want[e.ProcessName]; dup {
			return nil, nil, nil, fmt.Errorf("process %s is listed twice", e.ProcessName)
		}
		want[e.ProcessName] = e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0:0]
	for _, n := range r.order {
		if _, ok := want[n]; !ok {
			delete(r.entries, n)
			removed = append(removed, n)
			continue
		}
		kept = append(kept, n)
	}
	r.order = kept
	for _, e := range entries {
		cur, ok := r.entries[e.ProcessName]
		if !ok {
			e.Running = false
			ne := clone(e)
			r.entries[e.ProcessName] = &ne
			r.order = append(r.order, e.ProcessName)
			added = append(added, e.ProcessName)
			continue
		}
		if !sameConfig(*cur, e) {
			running := cur.Running
			*cur = clone(e)
			cur.Running = running
			updated = append(updated, e.ProcessName)
		}
	}
	return added, removed, updated, nil
}

func clone(e Entry) Entry {
	e.Detectors = append([]detector.Config(nil), e.Detectors...)
	return e
}
