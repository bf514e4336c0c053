package detector

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a check command when none is configured.
const DefaultCommandTimeout = 5 * time.Second

// CommandDetector treats a zero exit status of Command as "running".
// A check that outlives Timeout is killed and reported as an error.
type CommandDetector struct {
	Command string
	Timeout time.Duration
}

// checkCommand splits cmdStr into an exec.Cmd bound to ctx. A shell is only
// involved when cmdStr contains shell metacharacters.
func checkCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	switch {
	case cmdStr == "":
		return trueCommand(ctx)
	case strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~"):
		return shellCommand(ctx, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204 -- check commands come from the tracking configuration
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

func (d CommandDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := checkCommand(ctx, d.Command).Run()
	if ctx.Err() != nil {
		return false, fmt.Errorf("check %q timed out after %s", d.Command, timeout)
	}
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }
