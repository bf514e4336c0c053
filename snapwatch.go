package snapwatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/snapwatch/internal/backup"
	"github.com/loykin/snapwatch/internal/config"
	"github.com/loykin/snapwatch/internal/errs"
	"github.com/loykin/snapwatch/internal/history"
	"github.com/loykin/snapwatch/internal/metrics"
	"github.com/loykin/snapwatch/internal/orchestrator"
	"github.com/loykin/snapwatch/internal/restore"
	"github.com/loykin/snapwatch/internal/tracking"
	"github.com/loykin/snapwatch/internal/watcher"
)

// Re-export core types for external consumers.

type Entry = tracking.Entry

type Record = backup.Record

type Result = orchestrator.Result

type HistoryEvent = history.Event

type EntryStatus = tracking.Status

type Options struct {
	Confirm  orchestrator.ConfirmFunc
	OnResult func(Result)
	// History receives lifecycle events; nil disables history.
	History history.Sink
	Logger  *slog.Logger
	DryRun  bool
	// Scan and Now replace the process table and clock, mainly for tests.
	Scan watcher.ScanFunc
	Now  func() time.Time
}

// Service wires the registry, backup store, restore resolver, watcher and
// orchestrator for one configuration.
type Service struct {
	cfg      *config.Config
	reg      *tracking.Registry
	store    *backup.Store
	resolver *restore.Resolver
	watcher  *watcher.Watcher
	orch     *orchestrator.Orchestrator
	history  history.Sink
	logger   *slog.Logger

	// emu serializes entry edits. inline holds the entries declared outside
	// the tracking file, tracked the tracking file's current entries.
	emu     sync.Mutex
	inline  []tracking.Entry
	tracked []tracking.Entry
}

// New builds a Service from a loaded configuration. Nothing runs until Run.
func New(cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	vars, err := cfg.Environment()
	if err != nil {
		return nil, err
	}
	inline, tracked, err := splitEntries(cfg)
	if err != nil {
		return nil, err
	}
	all := concat(inline, tracked)
	if err := config.ValidateEntries(all); err != nil {
		return nil, err
	}
	reg, err := tracking.NewRegistry(all...)
	if err != nil {
		return nil, errs.E(errs.KindInvalidConfig, "snapwatch.new", cfg.Path, err)
	}
	storeOpts := []backup.Option{backup.WithEnv(vars), backup.WithLogger(logger)}
	if opts.Now != nil {
		storeOpts = append(storeOpts, backup.WithClock(opts.Now))
	}
	store := backup.New(storeOpts...)
	confirm := opts.Confirm
	if confirm == nil && !cfg.Backup.AutoConfirm {
		// without auto confirmation and no prompt, changes are only logged
		confirm = func(context.Context, tracking.Entry) bool { return false }
	}
	orch := orchestrator.New(store, orchestrator.Options{
		Confirm:  confirm,
		OnResult: opts.OnResult,
		History:  opts.History,
		Logger:   logger,
		DryRun:   opts.DryRun || cfg.Backup.DryRun,
	})
	w := watcher.New(reg, orch, watcher.Options{
		Interval: cfg.Interval(),
		Scan:     opts.Scan,
		Logger:   logger,
		Now:      opts.Now,
	})
	return &Service{
		cfg:      cfg,
		reg:      reg,
		store:    store,
		resolver: restore.New(store, logger),
		watcher:  w,
		orch:     orch,
		history:  opts.History,
		logger:   logger,
		inline:   inline,
		tracked:  tracked,
	}, nil
}

// splitEntries separates cfg.Entries into inline entries and the entries of
// the tracking file. A tracking file that does not exist yet holds nothing;
// it is created by the first AddEntry.
func splitEntries(cfg *config.Config) (inline, tracked []tracking.Entry, err error) {
	if cfg.TrackingFile == "" {
		return append([]tracking.Entry(nil), cfg.Entries...), nil, nil
	}
	if _, statErr := os.Stat(cfg.TrackingFile); statErr == nil {
		if tracked, err = config.LoadEntries(cfg.TrackingFile); err != nil {
			return nil, nil, err
		}
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return nil, nil, errs.E(errs.KindInvalidConfig, "snapwatch.new", cfg.TrackingFile, statErr)
	}
	fromFile := make(map[string]struct{}, len(tracked))
	for _, e := range tracked {
		fromFile[e.ProcessName] = struct{}{}
	}
	for _, e := range cfg.Entries {
		if _, ok := fromFile[e.ProcessName]; !ok {
			inline = append(inline, e)
		}
	}
	return inline, tracked, nil
}

func concat(a, b []tracking.Entry) []tracking.Entry {
	out := make([]tracking.Entry, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// Run polls processes until ctx is done. When the configuration names a
// tracking file, its changes are applied to the registry while running.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.watcher.Run(ctx) })
	if s.cfg.TrackingFile != "" {
		g.Go(func() error {
			return config.Watch(ctx, s.cfg.TrackingFile, config.DefaultDebounce, func(entries []tracking.Entry) {
				if err := s.reload(entries); err != nil {
					s.logger.Error("Tracking file rejected", "error", err)
				}
			})
		})
	}
	return g.Wait()
}

// Tick runs a single poll.
func (s *Service) Tick(ctx context.Context) error { return s.watcher.Tick(ctx) }

// Close waits for queued backups and closes the history sink.
func (s *Service) Close() error {
	s.orch.Close()
	if c, ok := s.history.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Sync replaces the entries declared outside the tracking file; the
// tracking file's entries stay. Removed entries lose any pending start
// fingerprint, so a later re-add never compares against stale content.
func (s *Service) Sync(entries []tracking.Entry) error {
	s.emu.Lock()
	defer s.emu.Unlock()
	return s.apply(append([]tracking.Entry(nil), entries...), s.tracked)
}

// reload applies new tracking file content next to the inline entries.
func (s *Service) reload(entries []tracking.Entry) error {
	s.emu.Lock()
	defer s.emu.Unlock()
	return s.apply(s.inline, entries)
}

// apply makes the registry hold inline followed by tracked. Caller holds emu.
func (s *Service) apply(inline, tracked []tracking.Entry) error {
	all := concat(inline, tracked)
	if err := config.ValidateEntries(all); err != nil {
		return err
	}
	before := s.reg.Snapshot()
	added, removed, updated, err := s.reg.Sync(all)
	if err != nil {
		return errs.E(errs.KindInvalidConfig, "snapwatch.sync", "", err)
	}
	s.inline, s.tracked = inline, tracked
	gone := make(map[string]struct{}, len(removed))
	for _, n := range removed {
		gone[n] = struct{}{}
	}
	for _, e := range before {
		if _, ok := gone[e.ProcessName]; ok {
			s.orch.Forget(e)
		}
	}
	if len(added)+len(removed)+len(updated) > 0 {
		s.logger.Info("Entries synced", "added", added, "removed", removed, "updated", updated)
	}
	return nil
}

// AddEntry starts tracking e. With a tracking file configured the entry is
// written to it; otherwise it lives in memory only.
func (s *Service) AddEntry(e tracking.Entry) error {
	s.emu.Lock()
	defer s.emu.Unlock()
	if _, ok := s.reg.Get(e.ProcessName); ok {
		return errs.Invalidf("snapwatch.add_entry", "process %q is already tracked", e.ProcessName)
	}
	e.Running = false
	if s.cfg.TrackingFile == "" {
		return s.apply(append(append([]tracking.Entry(nil), s.inline...), e), s.tracked)
	}
	return s.persist(append(append([]tracking.Entry(nil), s.tracked...), e))
}

// RemoveEntry stops tracking process. Entries declared in the main config
// cannot be removed while a tracking file is configured.
func (s *Service) RemoveEntry(process string) error {
	s.emu.Lock()
	defer s.emu.Unlock()
	if _, err := s.Entry(process); err != nil {
		return err
	}
	if i := indexOf(s.tracked, process); i >= 0 {
		return s.persist(without(s.tracked, i))
	}
	if err := s.inlineEditable("snapwatch.remove_entry", process); err != nil {
		return err
	}
	return s.apply(without(s.inline, indexOf(s.inline, process)), s.tracked)
}

// persist writes tracked to the tracking file, then applies it. Caller holds emu.
func (s *Service) persist(tracked []tracking.Entry) error {
	if err := config.ValidateEntries(concat(s.inline, tracked)); err != nil {
		return err
	}
	if err := config.SaveEntries(s.cfg.TrackingFile, tracked); err != nil {
		return err
	}
	if err := s.apply(s.inline, tracked); err != nil {
		if rerr := config.SaveEntries(s.cfg.TrackingFile, s.tracked); rerr != nil {
			s.logger.Error("Failed to restore tracking file", "path", s.cfg.TrackingFile, "error", rerr)
		}
		return err
	}
	return nil
}

// inlineEditable rejects edits of inline entries that the next start would
// undo, i.e. whenever entries are persisted to a tracking file.
func (s *Service) inlineEditable(op, process string) error {
	if s.cfg.TrackingFile == "" {
		return nil
	}
	return errs.Invalidf(op, "process %q is declared in %s; edit that file instead", process, s.cfg.Path)
}

func indexOf(entries []tracking.Entry, process string) int {
	for i, e := range entries {
		if e.ProcessName == process {
			return i
		}
	}
	return -1
}

func without(entries []tracking.Entry, i int) []tracking.Entry {
	out := make([]tracking.Entry, 0, len(entries)-1)
	out = append(out, entries[:i]...)
	return append(out, entries[i+1:]...)
}

// TrackingFile is the file entry edits are written to, or "".
func (s *Service) TrackingFile() string { return s.cfg.TrackingFile }

// Entries returns every tracked entry in registry order.
func (s *Service) Entries() []EntryStatus {
	snap := s.reg.Snapshot()
	out := make([]EntryStatus, 0, len(snap))
	for _, e := range snap {
		t := s.store.Resolve(e)
		out = append(out, tracking.Status{
			Entry:               e,
			ResolvedSource:      t.Source,
			ResolvedDestination: t.Destination,
			Pending:             s.orch.Pending(e),
		})
	}
	return out
}

// Entry looks up a tracked entry by process name.
func (s *Service) Entry(process string) (tracking.Entry, error) {
	e, ok := s.reg.Get(process)
	if !ok {
		return tracking.Entry{}, errs.E(errs.KindUnknownEntry, "snapwatch.entry", "", fmt.Errorf("process %q is not tracked", process))
	}
	return e, nil
}

// Rename changes the tracked process name of an entry without firing any
// event. Existing backups stay under the old name's directory. An entry of
// the tracking file is renamed in that file too.
func (s *Service) Rename(oldName, newName string) error {
	s.emu.Lock()
	defer s.emu.Unlock()
	if _, err := s.Entry(oldName); err != nil {
		return err
	}
	i := indexOf(s.tracked, oldName)
	if i < 0 {
		if err := s.inlineEditable("snapwatch.rename", oldName); err != nil {
			return err
		}
	}
	if err := s.watcher.Rename(oldName, newName); err != nil {
		return errs.E(errs.KindInvalidConfig, "snapwatch.rename", "", err)
	}
	if i < 0 {
		next := append([]tracking.Entry(nil), s.inline...)
		next[indexOf(next, oldName)].ProcessName = newName
		s.inline = next
		return nil
	}
	next := append([]tracking.Entry(nil), s.tracked...)
	next[i].ProcessName = newName
	if err := config.SaveEntries(s.cfg.TrackingFile, next); err != nil {
		if rerr := s.watcher.Rename(newName, oldName); rerr != nil {
			s.logger.Error("Failed to undo rename", "from", newName, "to", oldName, "error", rerr)
		}
		return err
	}
	s.tracked = next
	return nil
}

// Backups lists the backups of process, newest first.
func (s *Service) Backups(ctx context.Context, process string) ([]Record, error) {
	e, err := s.Entry(process)
	if err != nil {
		return nil, err
	}
	return s.store.Records(ctx, e)
}

// Backup creates a backup of process now, regardless of changes.
func (s *Service) Backup(ctx context.Context, process string) (Record, error) {
	e, err := s.Entry(process)
	if err != nil {
		return Record{}, err
	}
	return s.orch.Backup(ctx, e)
}

// Delete removes one backup of process.
func (s *Service) Delete(ctx context.Context, process, name string) error {
	e, err := s.Entry(process)
	if err != nil {
		return err
	}
	err = s.store.Delete(ctx, e, name)
	s.record(ctx, history.EventDeleted, e, name, err)
	return err
}

// Restore copies a backup of process back onto its source and returns the
// name of the backup used. An empty name selects the latest.
func (s *Service) Restore(ctx context.Context, process, name string) (string, error) {
	e, err := s.Entry(process)
	if err != nil {
		return "", err
	}
	if name == "" {
		name, err = s.resolver.RestoreLatest(ctx, e)
	} else {
		name, err = s.resolver.Restore(ctx, e, name)
	}
	s.record(ctx, history.EventRestored, e, name, err)
	return name, err
}

// Processes lists the names of running processes, for picking new entries.
func (s *Service) Processes(ctx context.Context) ([]string, error) {
	return s.watcher.Processes(ctx)
}

// History returns recent events when the configured sink can be queried.
func (s *Service) History(ctx context.Context, process string, limit int) ([]HistoryEvent, error) {
	r, ok := s.history.(history.Reader)
	if !ok {
		return nil, history.ErrNotReadable
	}
	return r.Recent(ctx, process, limit)
}

func (s *Service) record(ctx context.Context, t history.EventType, e tracking.Entry, name string, err error) {
	if s.history == nil {
		return
	}
	ev := history.NewEvent(t, e.ProcessName)
	ev.Source = s.store.Resolve(e).Source
	ev.Backup = name
	if err != nil {
		ev.Error = err.Error()
	}
	if herr := s.history.Send(ctx, ev); herr != nil {
		s.logger.Warn("History sink failed", "event", string(t), "error", herr)
	}
}

// RegisterMetrics registers snapwatch Prometheus metrics with the provided registerer.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterMetricsDefault registers metrics against the default Prometheus registry.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics serves /metrics on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
