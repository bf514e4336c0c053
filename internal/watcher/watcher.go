package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/snapwatch/internal/detector"
	"github.com/loykin/snapwatch/internal/metrics"
	"github.com/loykin/snapwatch/internal/tracking"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = time.Second

// EventType is a liveness transition.
type EventType int

const (
	// Started fires once on a Stopped -> Running transition.
	Started EventType = iota
	// Stopped fires once on a Running -> Stopped transition.
	Stopped
)

func (t EventType) String() string {
	switch t {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event carries a copy of the entry as it was when the transition was seen.
type Event struct {
	Type  EventType
	Entry tracking.Entry
	At    time.Time
}

// Handler receives transitions. HandleEvent is called from the poll
// goroutine, in tick order.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// ScanFunc produces the table of running process names for one tick.
type ScanFunc func(ctx context.Context) (*detector.Table, error)

type Options struct {
	Interval time.Duration
	// Scan defaults to detector.Scan.
	Scan   ScanFunc
	Logger *slog.Logger
	Now    func() time.Time
}

type liveness struct {
	cfgs []detector.Config
	dets []detector.Detector
	err  error
}

// Watcher polls the liveness of every tracked entry and turns changes into
// Started/Stopped events. The per-entry state lives only here, keyed by
// process name; an entry first seen is Stopped.
type Watcher struct {
	reg      *tracking.Registry
	handler  Handler
	interval time.Duration
	scan     ScanFunc
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	state  map[string]bool
	checks map[string]liveness
}

func New(reg *tracking.Registry, h Handler, opts Options) *Watcher {
	w := &Watcher{
		reg:      reg,
		handler:  h,
		interval: opts.Interval,
		scan:     opts.Scan,
		logger:   opts.Logger,
		now:      opts.Now,
		state:    make(map[string]bool),
		checks:   make(map[string]liveness),
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if w.scan == nil {
		w.scan = detector.Scan
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// Run polls until ctx is done. The first scan happens immediately.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("Watcher started", "interval", w.interval, "entries", w.reg.Len())
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		if err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("Process scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher stopped")
			return nil
		case <-t.C:
		}
	}
}

// Tick performs one scan and dispatches the resulting events. A failing
// check for one entry is logged and leaves that entry's state unchanged.
func (w *Watcher) Tick(ctx context.Context) error {
	table, err := w.scan(ctx)
	if err != nil {
		return err
	}
	at := w.now()

	var events []Event
	w.mu.Lock()
	entries := w.reg.Snapshot()
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.ProcessName] = struct{}{}
		alive, err := w.alive(e, table)
		if err != nil {
			metrics.IncCheckError(e.ProcessName)
			w.logger.Warn("Liveness check failed", "process", e.ProcessName, "error", err)
			continue
		}
		prev := w.state[e.ProcessName]
		w.state[e.ProcessName] = alive
		w.reg.SetRunning(e.ProcessName, alive)
		if prev == alive {
			continue
		}
		metrics.RecordTransition(e.ProcessName, alive)
		e.Running = alive
		ev := Event{Type: Stopped, Entry: e, At: at}
		if alive {
			ev.Type = Started
		}
		events = append(events, ev)
	}
	for name := range w.state {
		if _, ok := seen[name]; !ok {
			delete(w.state, name)
			delete(w.checks, name)
			metrics.Forget(name)
		}
	}
	w.mu.Unlock()

	for _, ev := range events {
		w.logger.Info("Process "+ev.Type.String(), "process", ev.Entry.ProcessName)
		if w.handler != nil {
			w.handler.HandleEvent(ctx, ev)
		}
	}
	return nil
}

// alive reports whether the entry's process is running: present in the
// process table, or reported alive by any configured detector. The error is
// returned only when nothing reported alive and a detector failed.
func (w *Watcher) alive(e tracking.Entry, table *detector.Table) (bool, error) {
	if table.Has(e.ProcessName) {
		return true, nil
	}
	if len(e.Detectors) == 0 {
		return false, nil
	}
	p := w.checksFor(e)
	if p.err != nil {
		return false, p.err
	}
	var firstErr error
	for _, d := range p.dets {
		ok, err := d.Alive()
		if ok {
			return true, nil
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", d.Describe(), err)
		}
	}
	return false, firstErr
}

// checksFor returns the cached detectors of e, rebuilding them when the
// configuration changed. Caller holds w.mu.
func (w *Watcher) checksFor(e tracking.Entry) liveness {
	if p, ok := w.checks[e.ProcessName]; ok && sameConfigs(p.cfgs, e.Detectors) {
		return p
	}
	dets, err := detector.Build(e.ProcessName, e.Detectors)
	p := liveness{cfgs: append([]detector.Config(nil), e.Detectors...), dets: dets, err: err}
	w.checks[e.ProcessName] = p
	return p
}

func sameConfigs(a, b []detector.Config) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Rename re-keys an entry in the registry and the liveness state without
// firing any event.
func (w *Watcher) Rename(oldName, newName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.reg.Rename(oldName, newName); err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	if st, ok := w.state[oldName]; ok {
		w.state[newName] = st
		delete(w.state, oldName)
		metrics.Forget(oldName)
		metrics.SetRunning(newName, st)
	}
	delete(w.checks, oldName)
	w.logger.Info("Entry renamed", "from", oldName, "to", newName)
	return nil
}

// State returns the last polled liveness of name.
func (w *Watcher) State(name string) (running, known bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	running, known = w.state[name]
	return running, known
}

// Processes returns the running process names of the system, sorted.
func (w *Watcher) Processes(ctx context.Context) ([]string, error) {
	t, err := w.scan(ctx)
	if err != nil {
		return nil, err
	}
	return t.Names(), nil
}
