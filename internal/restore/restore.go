package restore

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loykin/snapwatch/internal/backup"
	"github.com/loykin/snapwatch/internal/errs"
	"github.com/loykin/snapwatch/internal/metrics"
	"github.com/loykin/snapwatch/internal/tracking"
)

// Resolver copies a backup back over an entry's source. Copies only add or
// overwrite; files present at the destination but absent from the backup stay.
type Resolver struct {
	store  *backup.Store
	logger *slog.Logger
}

func New(store *backup.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Restore restores the named backup. It returns the name that was restored.
func (r *Resolver) Restore(ctx context.Context, e tracking.Entry, name string) (string, error) {
	return r.run(ctx, e, func(v backup.View) (string, error) { return name, nil })
}

// RestoreLatest restores the most recent backup, failing with
// KindNoBackupsFound when there is none.
func (r *Resolver) RestoreLatest(ctx context.Context, e tracking.Entry) (string, error) {
	return r.run(ctx, e, func(v backup.View) (string, error) {
		name, ok, err := v.Latest()
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errs.E(errs.KindNoBackupsFound, "restore.latest", v.Target.Root, nil)
		}
		return name, nil
	})
}

func (r *Resolver) run(ctx context.Context, e tracking.Entry, pick func(backup.View) (string, error)) (string, error) {
	var restored string
	err := r.store.With(ctx, e, func(v backup.View) error {
		name, err := pick(v)
		if err != nil {
			return err
		}
		dir, err := v.Dir(name)
		if err != nil {
			return err
		}
		if err := apply(ctx, v.Target.Source, dir); err != nil {
			return err
		}
		restored = name
		return nil
	})
	if err != nil {
		metrics.IncRestore(e.ProcessName, "error")
		r.logger.Error("Restore failed", "process", e.ProcessName, "error", err)
		return "", errs.E(errs.KindRestoreFailed, "restore", e.ProcessName, err)
	}
	metrics.IncRestore(e.ProcessName, "ok")
	r.logger.Info("Backup restored", "process", e.ProcessName, "name", restored)
	return restored, nil
}

// apply reconciles source with the copy of its base name inside backupDir.
// The kind of source at restore time decides the branch; when source does
// not exist, whichever of file or directory the backup holds is materialized.
func apply(ctx context.Context, source, backupDir string) error {
	stored := filepath.Join(backupDir, filepath.Base(source))
	storedInfo, storedErr := os.Stat(stored)
	if storedErr != nil && !errors.Is(storedErr, fs.ErrNotExist) {
		return errs.E(errs.KindIOFailure, "restore.stat", stored, storedErr)
	}

	srcInfo, err := os.Stat(source)
	switch {
	case err == nil && srcInfo.Mode().IsRegular():
		if storedErr != nil || !storedInfo.Mode().IsRegular() {
			return errs.E(errs.KindNoMatchingEntry, "restore.file", stored, nil)
		}
		return copyFile(stored, source)
	case err == nil && srcInfo.IsDir():
		if storedErr != nil || !storedInfo.IsDir() {
			return errs.E(errs.KindNoMatchingEntry, "restore.dir", stored, nil)
		}
		return copyDir(ctx, stored, source)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return errs.E(errs.KindIOFailure, "restore.stat", source, err)
	}

	// source is neither a file nor a directory
	switch {
	case storedErr != nil:
		return errs.E(errs.KindNoMatchingEntry, "restore.materialize", stored, nil)
	case storedInfo.Mode().IsRegular():
		return copyFile(stored, source)
	case storedInfo.IsDir():
		return copyDir(ctx, stored, source)
	}
	return errs.E(errs.KindNoMatchingEntry, "restore.materialize", stored, nil)
}

func copyFile(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o750); err != nil {
		return errs.E(errs.KindIOFailure, "restore.copy", to, err)
	}
	if err := backup.CopyFile(from, to); err != nil {
		return errs.E(errs.KindIOFailure, "restore.copy", to, err)
	}
	return nil
}

func copyDir(ctx context.Context, from, to string) error {
	if err := backup.CopyTree(ctx, from, to); err != nil {
		return errs.E(errs.KindIOFailure, "restore.copy", to, err)
	}
	return nil
}
