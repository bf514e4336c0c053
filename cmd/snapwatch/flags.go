package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	// Remote daemon connection; when set, on-demand commands go through the API
	APIUrl     string
	APITimeout time.Duration
	JSON       bool
}

// ServeFlags Flag structs to decouple cobra from logic for testing.
type ServeFlags struct {
	ConfigPath string
	Listen     string // overrides server.listen
	Confirm    bool   // ask on stdin before change-triggered backups
	DryRun     bool
	// NoServer disables the HTTP API even if the config enables it
	NoServer bool
}

type AddFlags struct {
	Process     string
	Source      string
	Destination string
}

type RestoreFlags struct {
	Process string
	Backup  string
}

type DeleteFlags struct {
	Process string
	Backup  string
}

type HistoryFlags struct {
	Process string
	Limit   int
}
