package terrain

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunSuccess(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tif")
	out := filepath.Join(dir, "out.tif")
	if err := os.WriteFile(in, []byte("raw"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := Runner{Command: "sh", Args: []string{"-c", `cp "$0" "$1"`, "{in}", "{out}"}, Timeout: 10 * time.Second}
	if err := r.Run(context.Background(), in, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "raw" {
		t.Fatalf("unexpected output %q, %v", data, err)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	requireShell(t)
	r := Runner{Command: "sh", Args: []string{"-c", "echo calibration failed >&2; exit 3"}}
	err := r.Run(context.Background(), "in", "out")
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("expected ToolError, got %v", err)
	}
	if te.ExitCode != 3 || te.Stderr != "calibration failed" || te.TimedOut {
		t.Fatalf("unexpected tool error %+v", te)
	}
}

func TestRunTimeout(t *testing.T) {
	requireShell(t)
	r := Runner{Command: "sh", Args: []string{"-c", "sleep 5"}, Timeout: 50 * time.Millisecond}
	start := time.Now()
	err := r.Run(context.Background(), "in", "out")
	var te *ToolError
	if !errors.As(err, &te) || !te.TimedOut {
		t.Fatalf("expected timeout ToolError, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestRunMissingOutput(t *testing.T) {
	requireShell(t)
	r := Runner{Command: "sh", Args: []string{"-c", "true"}}
	err := r.Run(context.Background(), "in", filepath.Join(t.TempDir(), "never.tif"))
	var te *ToolError
	if !errors.As(err, &te) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing-output ToolError, got %v", err)
	}
}

func TestRunRequiresCommand(t *testing.T) {
	if err := (Runner{}).Run(context.Background(), "in", "out"); err == nil {
		t.Fatalf("expected error without command")
	}
}
