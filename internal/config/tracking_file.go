package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/loykin/snapwatch/internal/errs"
	"github.com/loykin/snapwatch/internal/tracking"
)

type trackingFile struct {
	Entries []tracking.Entry `mapstructure:"entries"`
}

// trackingFormat maps a tracking file to the viper config type used for it.
func trackingFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return "toml"
}

// LoadEntries reads the tracked entries from a TOML, JSON or YAML file
// holding an "entries" list. The format follows the file extension and
// defaults to TOML.
func LoadEntries(path string) ([]tracking.Entry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(trackingFormat(path))
	if err := v.ReadInConfig(); err != nil {
		return nil, errs.E(errs.KindInvalidConfig, "config.tracking_file", path, err)
	}
	var tf trackingFile
	if err := v.Unmarshal(&tf); err != nil {
		return nil, errs.E(errs.KindInvalidConfig, "config.tracking_file", path, err)
	}
	if err := ValidateEntries(tf.Entries); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tf.Entries, nil
}

// SaveEntries writes entries to the tracking file at path in the format
// LoadEntries reads it with. The file is written beside path and renamed
// into place, so a concurrent Watch never sees a half-written list.
func SaveEntries(path string, entries []tracking.Entry) error {
	if err := ValidateEntries(entries); err != nil {
		return err
	}
	list := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		list = append(list, entryMap(e))
	}
	v := viper.New()
	v.Set("entries", list)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errs.E(errs.KindIOFailure, "config.save_entries", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"-"+uuid.NewString()+"."+trackingFormat(path))
	if err := v.WriteConfigAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return errs.E(errs.KindIOFailure, "config.save_entries", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errs.E(errs.KindIOFailure, "config.save_entries", path, err)
	}
	return nil
}

func entryMap(e tracking.Entry) map[string]any {
	m := map[string]any{
		"process":     e.ProcessName,
		"source":      e.Source,
		"destination": e.Destination,
	}
	if len(e.Detectors) == 0 {
		return m
	}
	dets := make([]map[string]any, 0, len(e.Detectors))
	for _, d := range e.Detectors {
		dm := map[string]any{"type": d.Type}
		if d.Path != "" {
			dm["path"] = d.Path
		}
		if d.PID != 0 {
			dm["pid"] = d.PID
		}
		if d.Command != "" {
			dm["command"] = d.Command
		}
		if d.Timeout > 0 {
			dm["timeout"] = d.Timeout.String()
		}
		dets = append(dets, dm)
	}
	m["detectors"] = dets
	return m
}

// DefaultDebounce is how long Watch waits for writes to settle.
const DefaultDebounce = 300 * time.Millisecond

// Watch reloads the tracking file whenever it changes and passes the new
// entries to apply. Invalid content is logged and ignored, keeping the
// previous entries. The directory is watched rather than the file, since
// editors often replace files by rename. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, debounce time.Duration, apply func([]tracking.Entry)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve tracking file path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	name := filepath.Base(abs)
	slog.Info("Watching tracking file", "path", abs)
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				if ev.Op&fsnotify.Remove != 0 {
					slog.Warn("Tracking file removed; keeping current entries", "path", abs)
				}
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("Tracking file watcher error", "error", err)
		case <-timer.C:
			entries, err := LoadEntries(abs)
			if err != nil {
				slog.Error("Failed to reload tracking file", "path", abs, "error", err)
				continue
			}
			slog.Info("Tracking file reloaded", "path", abs, "entries", len(entries))
			apply(entries)
		}
	}
}
