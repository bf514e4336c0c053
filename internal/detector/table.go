package detector

import (
	"context"
	"sort"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Table is a point-in-time set of running process names.
// Lookups are case-insensitive and ignore a trailing ".exe", so "Notepad"
// matches "notepad.exe". Several instances of a name count once.
type Table struct {
	names map[string]string // normalized -> first observed spelling
}

// NewTable builds a table from process names.
func NewTable(names ...string) *Table {
	t := &Table{names: make(map[string]string, len(names))}
	for _, n := range names {
		k := Normalize(n)
		if k == "" {
			continue
		}
		if _, ok := t.names[k]; !ok {
			t.names[k] = n
		}
	}
	return t
}

// Scan lists the processes of the local system.
// Processes that exit while being inspected are skipped.
func Scan(ctx context.Context) (*Table, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil || n == "" {
			continue
		}
		names = append(names, n)
	}
	return NewTable(names...), nil
}

// Has reports whether any process with the given name is running.
func (t *Table) Has(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.names[Normalize(name)]
	return ok
}

// Names returns the distinct process names, sorted case-insensitively.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.names))
	for _, n := range t.names {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Normalize maps a process name to its lookup key.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(n, ".exe")
}
