package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/snapwatch/internal/env"
	"github.com/loykin/snapwatch/internal/errs"
	"github.com/loykin/snapwatch/internal/naming"
	"github.com/loykin/snapwatch/internal/tracking"
)

const stagingPrefix = ".staging-"

// Record describes one backup directory.
type Record struct {
	Process   string    `json:"process"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
}

// Target is an entry with its paths expanded.
type Target struct {
	Process     string
	Source      string
	Destination string
	// Root is the per-process backup root, Destination/Process.
	Root string
}

// Store creates, lists and deletes backups. Every operation on a process's
// backup root runs under a per-process-name lock shared with restores.
type Store struct {
	env    *env.Env
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Store)

// WithEnv sets the variables used to expand entry paths.
func WithEnv(e *env.Env) Option { return func(s *Store) { s.env = e } }

// WithClock overrides the time source used to name new backups.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func New(opts ...Option) *Store {
	s := &Store{
		env:    env.New(),
		now:    time.Now,
		logger: slog.Default(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Resolve expands the entry's paths.
func (s *Store) Resolve(e tracking.Entry) Target {
	src := filepath.Clean(s.env.Expand(e.Source))
	dst := filepath.Clean(s.env.Expand(e.Destination))
	return Target{
		Process:     e.ProcessName,
		Source:      src,
		Destination: dst,
		Root:        filepath.Join(dst, e.ProcessName),
	}
}

func (s *Store) lockFor(process string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[process]
	if !ok {
		l = &sync.Mutex{}
		s.locks[process] = l
	}
	return l
}

// View is lock-free access to one process's backups, valid only inside With.
type View struct {
	Target Target
}

// Lock acquires the lock of the named process and returns its release func.
func (s *Store) Lock(process string) func() {
	l := s.lockFor(process)
	l.Lock()
	return l.Unlock
}

// With runs fn while holding the lock of e's process.
func (s *Store) With(ctx context.Context, e tracking.Entry, fn func(View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.Lock(e.ProcessName)
	defer unlock()
	return fn(View{Target: s.Resolve(e)})
}

// List returns backup names newest first. A missing root yields an empty list.
func (v View) List() ([]string, error) {
	ents, err := os.ReadDir(v.Target.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, errs.E(errs.KindIOFailure, "backup.list", v.Target.Root, err)
	}
	names := make([]string, 0, len(ents))
	for _, de := range ents {
		if de.IsDir() {
			names = append(names, de.Name())
		}
	}
	return naming.Sort(names), nil
}

// Latest returns the newest backup name.
func (v View) Latest() (string, bool, error) {
	names, err := v.List()
	if err != nil || len(names) == 0 {
		return "", false, err
	}
	return names[0], true, nil
}

// Dir returns the directory of the named backup, failing with KindBackupNotFound
// when it does not exist.
func (v View) Dir(name string) (string, error) {
	if !safeChild(name) {
		return "", errs.E(errs.KindBackupNotFound, "backup.lookup", name, nil)
	}
	p := filepath.Join(v.Target.Root, name)
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errs.E(errs.KindBackupNotFound, "backup.lookup", p, nil)
		}
		return "", errs.E(errs.KindIOFailure, "backup.lookup", p, err)
	}
	if !info.IsDir() {
		return "", errs.E(errs.KindBackupNotFound, "backup.lookup", p, errors.New("not a directory"))
	}
	return p, nil
}

// Create copies the entry's source into a new backup named after the current
// time. The copy is staged in a hidden directory and renamed into place, so a
// failed copy never shows up in List.
func (s *Store) Create(ctx context.Context, e tracking.Entry) (Record, error) {
	var rec Record
	err := s.With(ctx, e, func(v View) error {
		t := v.Target
		info, err := os.Stat(t.Source)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return errs.E(errs.KindPathNotFound, "backup.create", t.Source, err)
			}
			return errs.E(errs.KindIOFailure, "backup.create", t.Source, err)
		}
		if err := os.MkdirAll(t.Root, 0o750); err != nil {
			return errs.E(errs.KindIOFailure, "backup.create", t.Root, err)
		}

		staging := filepath.Join(t.Root, stagingPrefix+uuid.NewString())
		if err := os.Mkdir(staging, 0o750); err != nil {
			return errs.E(errs.KindIOFailure, "backup.create", staging, err)
		}
		committed := false
		defer func() {
			if !committed {
				if rmErr := os.RemoveAll(staging); rmErr != nil {
					s.logger.Warn("Failed to remove staging directory", "path", staging, "error", rmErr)
				}
			}
		}()

		base := filepath.Base(t.Source)
		if info.IsDir() {
			err = CopyTree(ctx, t.Source, filepath.Join(staging, base))
		} else {
			err = CopyFile(t.Source, filepath.Join(staging, base))
		}
		if err != nil {
			return errs.E(errs.KindIOFailure, "backup.create", t.Source, err)
		}

		now := s.now()
		name := naming.Encode(now)
		final := filepath.Join(t.Root, name)
		if _, statErr := os.Stat(final); statErr == nil {
			// same second as an existing backup: merge, last writer wins per file
			if err := CopyTree(ctx, staging, final); err != nil {
				return errs.E(errs.KindIOFailure, "backup.create", final, err)
			}
		} else {
			if err := os.Rename(staging, final); err != nil {
				return errs.E(errs.KindIOFailure, "backup.create", final, err)
			}
			committed = true
		}

		at, _ := naming.Decode(name)
		rec = Record{Process: t.Process, Name: name, CreatedAt: at, Path: final, Size: treeSize(final)}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	s.logger.Info("Backup created", "process", rec.Process, "name", rec.Name, "path", rec.Path, "bytes", rec.Size)
	return rec, nil
}

// List returns the entry's backups, most recent first.
func (s *Store) List(ctx context.Context, e tracking.Entry) ([]string, error) {
	var names []string
	err := s.With(ctx, e, func(v View) error {
		var err error
		names, err = v.List()
		return err
	})
	return names, err
}

// Records is List with decoded instants, paths and sizes.
func (s *Store) Records(ctx context.Context, e tracking.Entry) ([]Record, error) {
	var out []Record
	err := s.With(ctx, e, func(v View) error {
		names, err := v.List()
		if err != nil {
			return err
		}
		out = make([]Record, 0, len(names))
		for _, n := range names {
			at, _ := naming.Decode(n)
			p := filepath.Join(v.Target.Root, n)
			out = append(out, Record{Process: e.ProcessName, Name: n, CreatedAt: at, Path: p, Size: treeSize(p)})
		}
		return nil
	})
	return out, err
}

// Latest returns the most recent backup name, if any.
func (s *Store) Latest(ctx context.Context, e tracking.Entry) (string, bool, error) {
	var (
		name string
		ok   bool
	)
	err := s.With(ctx, e, func(v View) error {
		var err error
		name, ok, err = v.Latest()
		return err
	})
	return name, ok, err
}

// Delete removes the named backup and everything under it.
func (s *Store) Delete(ctx context.Context, e tracking.Entry, name string) error {
	return s.With(ctx, e, func(v View) error {
		dir, err := v.Dir(name)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dir); err != nil {
			hint := "delete failed"
			switch {
			case errors.Is(err, fs.ErrPermission):
				hint = "permission denied; check permissions"
			case errors.Is(err, fs.ErrExist), isBusy(err):
				hint = "file in use; ensure no files are locked"
			}
			return errs.E(errs.KindIOFailure, "backup.delete", dir, fmt.Errorf("%s: %w", hint, err))
		}
		s.logger.Info("Backup deleted", "process", e.ProcessName, "name", name)
		return nil
	})
}

// Path returns where the named backup lives, whether or not it exists.
func (s *Store) Path(e tracking.Entry, name string) string {
	return filepath.Join(s.Resolve(e).Root, name)
}

func safeChild(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "being used by another process")
}
