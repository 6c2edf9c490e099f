// Package terrain runs an out-of-process terrain-correction or calibration
// tool on one band file at a time.
package terrain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a tool run when none is configured.
const DefaultTimeout = 30 * time.Minute

// ToolError reports a failed tool run. It is fatal for the band and never
// retried.
type ToolError struct {
	Command  string
	Input    string
	TimedOut bool
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("terrain: %s on %s timed out", e.Command, e.Input)
	case e.ExitCode != 0:
		msg := fmt.Sprintf("terrain: %s on %s exited with status %d", e.Command, e.Input, e.ExitCode)
		if e.Stderr != "" {
			msg += ": " + e.Stderr
		}
		return msg
	case e.Err != nil:
		return fmt.Sprintf("terrain: %s on %s: %v", e.Command, e.Input, e.Err)
	}
	return fmt.Sprintf("terrain: %s on %s failed", e.Command, e.Input)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Runner invokes Command with Args, where "{in}" and "{out}" are replaced by
// the input and output paths.
type Runner struct {
	Command string
	Args    []string
	Timeout time.Duration
	Env     []string
}

// Run processes in into out. out must exist once the tool exits successfully.
func (r Runner) Run(ctx context.Context, in, out string) error {
	if r.Command == "" {
		return errors.New("terrain: no command configured")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, len(r.Args))
	repl := strings.NewReplacer("{in}", in, "{out}", out)
	for i, a := range r.Args {
		args[i] = repl.Replace(a)
	}

	cmd := exec.CommandContext(ctx, r.Command, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	// Children that outlive the killed tool must not hold Run open.
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	toolErr := &ToolError{Command: r.Command, Input: in, Stderr: tail(stderr.String(), 512)}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		toolErr.TimedOut = true
		toolErr.Err = ctx.Err()
		return toolErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		toolErr.Err = err
		return toolErr
	}
	if _, err := os.Stat(out); err != nil {
		toolErr.Err = fmt.Errorf("output %s missing: %w", out, err)
		return toolErr
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
