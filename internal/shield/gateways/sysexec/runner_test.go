package sysexec

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
)

func skipWithoutShellTools(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test relies on POSIX shell tools")
	}
}

func TestRunCapturesStdout(t *testing.T) {
	skipWithoutShellTools(t)
	r := New(5*time.Second, logpkg.NewNoopLogger())

	out, err := r.Run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("stdout = %q; want hello", out)
	}
}

func TestRunMissingBinary(t *testing.T) {
	r := New(5*time.Second, logpkg.NewNoopLogger())

	_, err := r.Run(context.Background(), "definitely-not-a-command-xyz")
	if err == nil {
		t.Fatal("Run of missing binary returned nil error")
	}
}

func TestRunHonorsTimeout(t *testing.T) {
	skipWithoutShellTools(t)
	r := New(50*time.Millisecond, logpkg.NewNoopLogger())

	start := time.Now()
	_, err := r.Run(context.Background(), "sleep", "10")
	if err == nil {
		t.Fatal("Run past timeout returned nil error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v; timeout not applied", elapsed)
	}
}

func TestRunHonorsCallerContext(t *testing.T) {
	skipWithoutShellTools(t)
	// no runner timeout: only the caller's context bounds the call
	r := New(0, logpkg.NewNoopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, "sleep", "10")
	if err == nil {
		t.Fatal("Run past context deadline returned nil error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v; context not honored", elapsed)
	}
}
