package client

import "time"

// Entry is a tracked entry as reported by the daemon
type Entry struct {
	Process             string     `json:"process"`
	Source              string     `json:"source"`
	Destination         string     `json:"destination"`
	Detectors           []Detector `json:"detectors,omitempty"`
	Running             bool       `json:"running"`
	ResolvedSource      string     `json:"resolved_source"`
	ResolvedDestination string     `json:"resolved_destination"`
	Pending             bool       `json:"pending"`
}

// Detector is an extra liveness check of an entry
type Detector struct {
	Type    string        `json:"type"`
	Path    string        `json:"path,omitempty"`
	PID     int           `json:"pid,omitempty"`
	Command string        `json:"command,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Backup describes one backup directory
type Backup struct {
	Process   string    `json:"process"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
}

// RenameRequest renames a tracked entry
type RenameRequest struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// RestoreResult names the backup a restore used
type RestoreResult struct {
	Process string `json:"process"`
	Backup  string `json:"backup"`
}

// Event is one history record
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Process    string    `json:"process"`
	Source     string    `json:"source,omitempty"`
	Backup     string    `json:"backup,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
