package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/loykin/snapwatch"
	"github.com/loykin/snapwatch/internal/checksum"
	"github.com/loykin/snapwatch/internal/config"
	"github.com/loykin/snapwatch/internal/detector"
	"github.com/loykin/snapwatch/internal/history"
	"github.com/loykin/snapwatch/internal/history/factory"
	"github.com/loykin/snapwatch/internal/logger"
	"github.com/loykin/snapwatch/pkg/client"
)

type command struct {
	global *GlobalFlags
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func newCommand(global *GlobalFlags) *command {
	return &command{global: global, in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
}

// apiClient returns a client when --api-url is set.
func (c *command) apiClient() *client.Client {
	if c.global.APIUrl == "" {
		return nil
	}
	return client.New(client.Config{BaseURL: c.global.APIUrl, Timeout: c.global.APITimeout})
}

// setupLogging installs the configured logger as the default one.
func (c *command) setupLogging(cfg *config.Config) io.Closer {
	l, closer := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Color:      cfg.Log.Color,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}, c.errOut)
	slog.SetDefault(l)
	return closer
}

// openHistory opens the configured history sink, or returns nil.
func openHistory(cfg *config.Config) (history.Sink, error) {
	if cfg.History.DSN == "" {
		return nil, nil
	}
	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", cfg.History.DSN, err)
	}
	return sink, nil
}

// local builds an in-process service for on-demand commands.
func (c *command) local(opts snapwatch.Options) (*snapwatch.Service, func(), error) {
	cfg, err := config.Load(c.global.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	closeLog := c.setupLogging(cfg)
	sink, err := openHistory(cfg)
	if err != nil {
		_ = closeLog.Close()
		return nil, nil, err
	}
	opts.History = sink
	opts.Logger = slog.Default()
	svc, err := snapwatch.New(cfg, opts)
	if err != nil {
		_ = factory.Close(sink)
		_ = closeLog.Close()
		return nil, nil, err
	}
	return svc, func() {
		_ = svc.Close()
		_ = closeLog.Close()
	}, nil
}

func (c *command) Entries(ctx context.Context) error {
	var entries []client.Entry
	if api := c.apiClient(); api != nil {
		var err error
		if entries, err = api.Entries(ctx); err != nil {
			return err
		}
	} else {
		svc, done, err := c.local(snapwatch.Options{})
		if err != nil {
			return err
		}
		defer done()
		// without a running watcher, liveness comes from one process scan
		names, err := svc.Processes(ctx)
		if err != nil {
			return err
		}
		table := detector.NewTable(names...)
		for _, s := range svc.Entries() {
			e := fromStatus(s)
			e.Running = table.Has(s.ProcessName)
			entries = append(entries, e)
		}
	}
	if c.global.JSON {
		printJSON(c.out, entries)
		return nil
	}
	renderEntries(c.out, entries)
	return nil
}

func (c *command) List(ctx context.Context, process string) error {
	var backups []client.Backup
	if api := c.apiClient(); api != nil {
		var err error
		if backups, err = api.Backups(ctx, process); err != nil {
			return err
		}
	} else {
		svc, done, err := c.local(snapwatch.Options{})
		if err != nil {
			return err
		}
		defer done()
		recs, err := svc.Backups(ctx, process)
		if err != nil {
			return err
		}
		backups = fromRecords(recs)
	}
	if c.global.JSON {
		printJSON(c.out, backups)
		return nil
	}
	renderBackups(c.out, backups)
	return nil
}

func (c *command) Backup(ctx context.Context, process string) error {
	var b client.Backup
	if api := c.apiClient(); api != nil {
		var err error
		if b, err = api.Backup(ctx, process); err != nil {
			return err
		}
	} else {
		svc, done, err := c.local(snapwatch.Options{})
		if err != nil {
			return err
		}
		defer done()
		rec, err := svc.Backup(ctx, process)
		if err != nil {
			return err
		}
		b = fromRecord(rec)
	}
	_, _ = fmt.Fprintf(c.out, "Backup %s created at %s\n", b.Name, b.Path)
	return nil
}

func (c *command) Restore(ctx context.Context, f RestoreFlags) error {
	var used string
	if api := c.apiClient(); api != nil {
		res, err := api.Restore(ctx, f.Process, f.Backup)
		if err != nil {
			return err
		}
		used = res.Backup
	} else {
		svc, done, err := c.local(snapwatch.Options{})
		if err != nil {
			return err
		}
		defer done()
		if used, err = svc.Restore(ctx, f.Process, f.Backup); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(c.out, "Restored %s from backup %s\n", f.Process, used)
	return nil
}

func (c *command) Delete(ctx context.Context, f DeleteFlags) error {
	if api := c.apiClient(); api != nil {
		if err := api.Delete(ctx, f.Process, f.Backup); err != nil {
			return err
		}
	} else {
		svc, done, err := c.local(snapwatch.Options{})
		if err != nil {
			return err
		}
		defer done()
		if err := svc.Delete(ctx, f.Process, f.Backup); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(c.out, "Deleted backup %s of %s\n", f.Backup, f.Process)
	return nil
}

// editLocal builds a local service for entry edits. Without a daemon an edit
// only lasts if it is written to the tracking file.
func (c *command) editLocal() (*snapwatch.Service, func(), error) {
	svc, done, err := c.local(snapwatch.Options{})
	if err != nil {
		return nil, nil, err
	}
	if svc.TrackingFile() == "" {
		done()
		return nil, nil, fmt.Errorf("editing entries needs tracking_file in the config, or a running daemon (--api-url)")
	}
	return svc, done, nil
}

func (c *command) Add(ctx context.Context, f AddFlags) error {
	e := client.Entry{Process: f.Process, Source: f.Source, Destination: f.Destination}
	if api := c.apiClient(); api != nil {
		if _, err := api.AddEntry(ctx, e); err != nil {
			return err
		}
	} else {
		svc, done, err := c.editLocal()
		if err != nil {
			return err
		}
		defer done()
		if err := svc.AddEntry(snapwatch.Entry{ProcessName: f.Process, Source: f.Source, Destination: f.Destination}); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(c.out, "Tracking %s: %s -> %s\n", f.Process, f.Source, f.Destination)
	return nil
}

func (c *command) Remove(ctx context.Context, process string) error {
	if api := c.apiClient(); api != nil {
		if err := api.RemoveEntry(ctx, process); err != nil {
			return err
		}
	} else {
		svc, done, err := c.editLocal()
		if err != nil {
			return err
		}
		defer done()
		if err := svc.RemoveEntry(process); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(c.out, "Stopped tracking %s\n", process)
	return nil
}

func (c *command) Rename(ctx context.Context, oldName, newName string) error {
	if api := c.apiClient(); api != nil {
		if err := api.Rename(ctx, oldName, newName); err != nil {
			return err
		}
	} else {
		svc, done, err := c.editLocal()
		if err != nil {
			return err
		}
		defer done()
		if err := svc.Rename(oldName, newName); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(c.out, "Renamed %s to %s\n", oldName, newName)
	return nil
}

func (c *command) Processes(ctx context.Context) error {
	var names []string
	if api := c.apiClient(); api != nil {
		var err error
		if names, err = api.Processes(ctx); err != nil {
			return err
		}
	} else {
		table, err := detector.Scan(ctx)
		if err != nil {
			return err
		}
		names = table.Names()
	}
	if c.global.JSON {
		printJSON(c.out, names)
		return nil
	}
	renderProcesses(c.out, names)
	return nil
}

func (c *command) History(ctx context.Context, f HistoryFlags) error {
	var events []client.Event
	if api := c.apiClient(); api != nil {
		var err error
		if events, err = api.History(ctx, f.Process, f.Limit); err != nil {
			return err
		}
	} else {
		svc, done, err := c.local(snapwatch.Options{})
		if err != nil {
			return err
		}
		defer done()
		evs, err := svc.History(ctx, f.Process, f.Limit)
		if err != nil {
			return err
		}
		events = fromEvents(evs)
	}
	if c.global.JSON {
		printJSON(c.out, events)
		return nil
	}
	renderHistory(c.out, events)
	return nil
}

func (c *command) Checksum(path string) error {
	fp, err := checksum.Of(path)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s  %s\n", fp, path)
	return nil
}

// prompter asks on the terminal before change-triggered backups. Workers of
// different entries may ask at the same time, so questions are serialized.
type prompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) Confirm(_ context.Context, e snapwatch.Entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, "%s changed while %s was running. Create a backup? [y/N] ", e.Source, e.ProcessName)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// reportResult tells the user how a backup attempt ended.
func reportResult(w io.Writer) func(snapwatch.Result) {
	var mu sync.Mutex
	return func(r snapwatch.Result) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Err != nil:
			_, _ = fmt.Fprintf(w, "Backup of %s failed: %v\n", r.Entry.ProcessName, r.Err)
		case r.Skipped == "":
			_, _ = fmt.Fprintf(w, "Backup of %s created: %s\n", r.Entry.ProcessName, r.Record.Path)
		}
	}
}
