package naming

import (
	"sort"
	"time"
)

// Layout is the backup directory name format: a UTC instant with second
// resolution, e.g. "20261016T142530Z". The process name is carried by the
// parent directory, so names only encode the creation time.
const Layout = "20060102T150405Z"

// Encode returns the directory name for a backup created at t.
func Encode(t time.Time) string { return t.UTC().Format(Layout) }

// Decode parses a backup directory name. It reports false for anything that is
// not exactly what Encode produces; such entries are ignored by callers.
func Decode(name string) (time.Time, bool) {
	if len(name) != len(Layout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(Layout, name, time.UTC)
	if err != nil || Encode(t) != name {
		return time.Time{}, false
	}
	return t, true
}

// Valid reports whether name decodes.
func Valid(name string) bool {
	_, ok := Decode(name)
	return ok
}

// Sort returns the decodable names ordered newest first. Undecodable names are dropped.
func Sort(names []string) []string {
	type item struct {
		name string
		at   time.Time
	}
	items := make([]item, 0, len(names))
	for _, n := range names {
		if at, ok := Decode(n); ok {
			items = append(items, item{name: n, at: at})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].at.After(items[j].at) })
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name
	}
	return out
}
