package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/loykin/snapwatch/internal/detector"
)

// acquirePidFile refuses to start when pidFile names a live process, then
// writes our PID. The returned func removes the file.
func acquirePidFile(pidFile string) (func(), error) {
	if pidFile == "" {
		return func() {}, nil
	}
	// unreadable or garbage content counts as stale
	alive, _ := detector.PIDFileDetector{PIDFile: pidFile}.Alive()
	if alive {
		pid, _ := detector.ReadPIDFile(pidFile)
		return nil, fmt.Errorf("snapwatch is already running (pid %d, pidfile %s)", pid, pidFile)
	}
	if err := os.MkdirAll(filepath.Dir(pidFile), 0o750); err != nil {
		return nil, err
	}
	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		return nil, fmt.Errorf("write pidfile: %w", err)
	}
	return func() { _ = removePidFile(pidFile) }, nil
}

// writePidFile writes the daemon PID to a file
func writePidFile(pidFile string, pid int) error {
	// #nosec G302 G304 -- path comes from configuration
	f, err := os.OpenFile(pidFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.WriteString(strconv.Itoa(pid) + "\n")
	return err
}

// removePidFile removes the PID file
func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
