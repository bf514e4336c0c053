package detector

import (
	"fmt"
	"strings"
	"time"
)

// Detector is a strategy that determines if a process is running.
// Implementations may check a PID file, a PID number, or a custom command.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Config selects an additional detector for a tracked entry.
type Config struct {
	Type    string `json:"type" mapstructure:"type" validate:"required,oneof=pidfile pid command"`
	Path    string `json:"path,omitempty" mapstructure:"path"`
	PID     int    `json:"pid,omitempty" mapstructure:"pid"`
	Command string `json:"command,omitempty" mapstructure:"command"`
	// Timeout bounds a command check; zero means DefaultCommandTimeout.
	Timeout time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
}

// Build turns detector configs into detectors. owner is used in error messages.
func Build(owner string, cfgs []Config) ([]Detector, error) {
	dets := make([]Detector, 0, len(cfgs))
	for _, d := range cfgs {
		switch strings.ToLower(strings.TrimSpace(d.Type)) {
		case "pidfile":
			if d.Path == "" {
				return nil, fmt.Errorf("detector pidfile requires path for process %s", owner)
			}
			dets = append(dets, PIDFileDetector{PIDFile: d.Path})
		case "pid":
			if d.PID <= 0 {
				return nil, fmt.Errorf("detector pid requires positive pid for process %s", owner)
			}
			dets = append(dets, PIDDetector{PID: d.PID})
		case "command":
			if d.Command == "" {
				return nil, fmt.Errorf("detector command requires command for process %s", owner)
			}
			dets = append(dets, CommandDetector{Command: d.Command, Timeout: d.Timeout})
		default:
			return nil, fmt.Errorf("unknown detector type %q for process %s", d.Type, owner)
		}
	}
	return dets, nil
}
