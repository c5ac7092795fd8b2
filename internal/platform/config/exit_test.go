package config

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
)

// TestExitf_ExitsWithCode1 uses the subprocess pattern because os.Exit cannot
// be intercepted in-process.
func TestExitf_ExitsWithCode1(t *testing.T) {
	if os.Getenv("TEST_EXITF_SUBPROCESS") == "1" {
		Exitf("fatal: %s", "ledger unreachable")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitf_ExitsWithCode1$")
	cmd.Env = append(os.Environ(), "TEST_EXITF_SUBPROCESS=1")

	out, err := cmd.CombinedOutput()

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected *exec.ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", exitErr.ExitCode())
	}
	if !strings.Contains(string(out), "fatal: ledger unreachable") {
		t.Fatalf("expected stderr to contain message, got %q", string(out))
	}
}

func TestExitOnError(t *testing.T) {
	var buf bytes.Buffer
	code := -1
	exitWriter, exitFunc = &buf, func(c int) { code = c }
	t.Cleanup(func() { exitWriter, exitFunc = os.Stderr, os.Exit })

	ExitOnError("open journal", nil)
	if code != -1 {
		t.Fatalf("nil error should not exit, got code %d", code)
	}

	ExitOnError("open journal", errors.New("disk full"))
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if got := buf.String(); got != "open journal: disk full\n" {
		t.Fatalf("output = %q", got)
	}
}
