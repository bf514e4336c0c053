package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/snapwatch/internal/backup"
	"github.com/loykin/snapwatch/internal/checksum"
	"github.com/loykin/snapwatch/internal/history"
	"github.com/loykin/snapwatch/internal/metrics"
	"github.com/loykin/snapwatch/internal/tracking"
	"github.com/loykin/snapwatch/internal/watcher"
)

// Trigger says why a backup was attempted.
type Trigger string

const (
	TriggerChange Trigger = "change"
	TriggerManual Trigger = "manual"
)

// Skip reasons reported in Result.Skipped and the skipped metric.
const (
	SkipNoPending        = "no_pending"
	SkipUnchanged        = "unchanged"
	SkipFingerprintError = "fingerprint_error"
	SkipDeclined         = "declined"
	SkipDryRun           = "dry_run"
)

// Result reports the outcome of one stop evaluation or manual backup.
// Exactly one of Record, Err or Skipped is meaningful.
type Result struct {
	Entry   tracking.Entry
	Trigger Trigger
	Record  backup.Record
	Err     error
	Skipped string
}

// ConfirmFunc is asked before a change-triggered backup is created.
type ConfirmFunc func(ctx context.Context, e tracking.Entry) bool

// AutoConfirm accepts every backup.
func AutoConfirm(context.Context, tracking.Entry) bool { return true }

type Options struct {
	Confirm  ConfirmFunc
	OnResult func(Result)
	History  history.Sink
	Logger   *slog.Logger
	// DryRun logs the decision instead of creating the backup.
	DryRun bool
	// Fingerprint defaults to checksum.Of.
	Fingerprint func(path string) (checksum.Fingerprint, error)
	// QueueSize bounds each entry's pending events.
	QueueSize int
}

type worker struct {
	ctrl chan watcher.Event
}

// Orchestrator turns Started/Stopped events into backups. Each expanded
// source path gets its own worker goroutine fed through a buffered channel,
// so events of one entry are evaluated one at a time and in order while the
// poll loop keeps running. Keying by source keeps a renamed entry on the same
// worker as its pending fingerprint.
type Orchestrator struct {
	store *backup.Store
	opts  Options
	ctx   context.Context

	pmu     sync.Mutex
	pending map[string]checksum.Fingerprint

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

func New(store *backup.Store, opts Options) *Orchestrator {
	if opts.Confirm == nil {
		opts.Confirm = AutoConfirm
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Fingerprint == nil {
		opts.Fingerprint = checksum.Of
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Orchestrator{
		store:   store,
		opts:    opts,
		ctx:     context.Background(),
		pending: make(map[string]checksum.Fingerprint),
		workers: make(map[string]*worker),
	}
}

// Changed reports whether the content moved between two fingerprints.
func Changed(before, after checksum.Fingerprint) bool { return !before.Equal(after) }

// HandleEvent queues ev on its entry's worker. It blocks only when that
// worker's queue is full. Events arriving after Close are dropped.
func (o *Orchestrator) HandleEvent(_ context.Context, ev watcher.Event) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.opts.Logger.Warn("Event dropped after close", "process", ev.Entry.ProcessName, "event", ev.Type.String())
		return
	}
	key := o.store.Resolve(ev.Entry).Source
	w, ok := o.workers[key]
	if !ok {
		w = &worker{ctrl: make(chan watcher.Event, o.opts.QueueSize)}
		o.workers[key] = w
		o.wg.Add(1)
		go o.run(w)
	}
	// sending under mu keeps Close from closing the channel mid-send
	w.ctrl <- ev
	o.mu.Unlock()
}

func (o *Orchestrator) run(w *worker) {
	defer o.wg.Done()
	for ev := range w.ctrl {
		o.evaluate(o.ctx, ev)
	}
}

// Close stops accepting events, lets the workers drain their queues and
// waits for them.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, w := range o.workers {
		close(w.ctrl)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// Evaluate processes ev synchronously on the caller's goroutine.
func (o *Orchestrator) Evaluate(ctx context.Context, ev watcher.Event) {
	o.evaluate(ctx, ev)
}

func (o *Orchestrator) evaluate(ctx context.Context, ev watcher.Event) {
	e := ev.Entry
	src := o.store.Resolve(e).Source
	log := o.opts.Logger.With("process", e.ProcessName, "source", src)

	switch ev.Type {
	case watcher.Started:
		o.record(ctx, history.EventStarted, e, src, "", nil)
		fp, err := o.fingerprint(e.ProcessName, src)
		o.pmu.Lock()
		if err != nil {
			delete(o.pending, src)
		} else {
			o.pending[src] = fp
		}
		o.pmu.Unlock()
		if err != nil {
			log.Warn("Cannot fingerprint source at start; the next stop will not back up", "error", err)
			return
		}
		log.Debug("Fingerprint taken", "fingerprint", fp.String())

	case watcher.Stopped:
		o.record(ctx, history.EventStopped, e, src, "", nil)
		o.pmu.Lock()
		before, ok := o.pending[src]
		delete(o.pending, src)
		o.pmu.Unlock()
		if !ok {
			o.skip(ctx, e, src, TriggerChange, SkipNoPending)
			return
		}
		after, err := o.fingerprint(e.ProcessName, src)
		if err != nil {
			log.Warn("Cannot fingerprint source at stop; skipping backup", "error", err)
			o.skip(ctx, e, src, TriggerChange, SkipFingerprintError)
			return
		}
		if !Changed(before, after) {
			log.Info("Source unchanged; no backup")
			o.skip(ctx, e, src, TriggerChange, SkipUnchanged)
			return
		}
		log.Info("Source changed while the process ran", "before", before.String(), "after", after.String())
		if o.opts.DryRun {
			log.Info("Dry run: backup not created")
			o.skip(ctx, e, src, TriggerChange, SkipDryRun)
			return
		}
		if !o.opts.Confirm(ctx, e) {
			log.Info("Backup declined")
			o.skip(ctx, e, src, TriggerChange, SkipDeclined)
			return
		}
		_, _ = o.create(ctx, e, TriggerChange)
	}
}

// Backup creates a backup of e right away, without comparing fingerprints or
// asking for confirmation.
func (o *Orchestrator) Backup(ctx context.Context, e tracking.Entry) (backup.Record, error) {
	return o.create(ctx, e, TriggerManual)
}

func (o *Orchestrator) create(ctx context.Context, e tracking.Entry, trig Trigger) (backup.Record, error) {
	src := o.store.Resolve(e).Source
	rec, err := o.store.Create(ctx, e)
	res := Result{Entry: e, Trigger: trig, Record: rec, Err: err}
	if err != nil {
		metrics.IncBackupFailed(e.ProcessName)
		o.opts.Logger.Error("Backup failed", "process", e.ProcessName, "trigger", string(trig), "error", err)
		o.record(ctx, history.EventBackupFailed, e, src, "", err)
	} else {
		metrics.IncBackupCreated(e.ProcessName)
		o.record(ctx, history.EventBackupCreated, e, src, rec.Name, nil)
	}
	o.report(res)
	return rec, err
}

// Forget drops the pending fingerprint of e, e.g. when the entry is removed
// while its process runs.
func (o *Orchestrator) Forget(e tracking.Entry) {
	src := o.store.Resolve(e).Source
	o.pmu.Lock()
	delete(o.pending, src)
	o.pmu.Unlock()
}

// Pending reports whether a start fingerprint is held for e's source.
func (o *Orchestrator) Pending(e tracking.Entry) bool {
	src := o.store.Resolve(e).Source
	o.pmu.Lock()
	defer o.pmu.Unlock()
	_, ok := o.pending[src]
	return ok
}

func (o *Orchestrator) fingerprint(process, path string) (checksum.Fingerprint, error) {
	start := time.Now()
	fp, err := o.opts.Fingerprint(path)
	metrics.ObserveFingerprint(process, time.Since(start).Seconds())
	return fp, err
}

func (o *Orchestrator) skip(ctx context.Context, e tracking.Entry, src string, trig Trigger, reason string) {
	metrics.IncBackupSkipped(e.ProcessName, reason)
	ev := history.NewEvent(history.EventBackupSkipped, e.ProcessName)
	ev.Source = src
	ev.Error = reason
	o.send(ctx, ev)
	o.report(Result{Entry: e, Trigger: trig, Skipped: reason})
}

func (o *Orchestrator) report(r Result) {
	if o.opts.OnResult != nil {
		o.opts.OnResult(r)
	}
}

func (o *Orchestrator) record(ctx context.Context, t history.EventType, e tracking.Entry, src, name string, err error) {
	ev := history.NewEvent(t, e.ProcessName)
	ev.Source = src
	ev.Backup = name
	if err != nil {
		ev.Error = err.Error()
	}
	o.send(ctx, ev)
}

func (o *Orchestrator) send(ctx context.Context, ev history.Event) {
	if o.opts.History == nil {
		return
	}
	if err := o.opts.History.Send(ctx, ev); err != nil {
		o.opts.Logger.Warn("History sink failed", "event", string(ev.Type), "error", err)
	}
}
