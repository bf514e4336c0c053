package errs

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the backup engine.
// A Kind is itself an error so callers can match with errors.Is(err, errs.KindX).
type Kind string

const (
	KindPathNotFound    Kind = "path not found"
	KindNoBackupsFound  Kind = "no backups found"
	KindNoMatchingEntry Kind = "no matching entry in backup"
	KindBackupNotFound  Kind = "backup not found"
	KindIOFailure       Kind = "i/o failure"
	KindRestoreFailed   Kind = "restore failed"
	KindInvalidConfig   Kind = "invalid config"
	KindUnknownEntry    Kind = "unknown entry"
)

func (k Kind) Error() string { return string(k) }

// Error is a classified failure. Op names the operation (e.g. "backup.create"),
// Path the filesystem path involved, if any.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// E builds a classified error. cause may be nil.
func E(kind Kind, op, path string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Op + ": " + string(e.Kind)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's kind. Inner kinds are reached through Unwrap.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Is reports whether err, or any error it wraps, carries kind.
func Is(err error, kind Kind) bool { return errors.Is(err, kind) }

// KindOf returns the outermost kind found in err's chain, or "" when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Invalidf returns a KindInvalidConfig error with a formatted message.
func Invalidf(op, format string, args ...any) *Error {
	return E(KindInvalidConfig, op, "", fmt.Errorf(format, args...))
}
