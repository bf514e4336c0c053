package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of recorded event.
type EventType string

const (
	EventStarted       EventType = "started"
	EventStopped       EventType = "stopped"
	EventBackupCreated EventType = "backup_created"
	EventBackupFailed  EventType = "backup_failed"
	EventBackupSkipped EventType = "backup_skipped"
	EventRestored      EventType = "restored"
	EventDeleted       EventType = "deleted"
)

// Event is one entry of the backup history exported to external systems.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Process    string    `json:"process"`
	Source     string    `json:"source,omitempty"`
	Backup     string    `json:"backup,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewEvent stamps a new event with a random id and the current UTC time.
func NewEvent(t EventType, process string) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC(), Process: process}
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can query back what they stored.
type Reader interface {
	// Recent returns up to limit events, newest first. An empty process matches all.
	Recent(ctx context.Context, process string, limit int) ([]Event, error)
}

// Multi fans an event out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent reads from the first sink that implements Reader.
func (m Multi) Recent(ctx context.Context, process string, limit int) ([]Event, error) {
	for _, s := range m {
		if r, ok := s.(Reader); ok {
			return r.Recent(ctx, process, limit)
		}
	}
	return nil, ErrNotReadable
}

// ErrNotReadable is returned by Recent when no configured sink can be queried.
var ErrNotReadable = errors.New("history: no readable sink configured")
