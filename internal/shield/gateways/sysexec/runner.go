// Package sysexec invokes external OS commands with bounded timeouts. Every
// OS collaborator (service query, service control, DNS flush) goes through a
// Runner so tests can substitute canned output and failures.
package sysexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
)

// Runner executes a command and returns its stdout. Implementations must
// honor ctx cancellation and must never block indefinitely; the unmanaged OS
// call surface has no guaranteed responsiveness.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner is the os/exec-backed Runner. A per-invocation timeout is
// layered onto the caller's context.
type ExecRunner struct {
	timeout time.Duration
	logger  logpkg.Logger
}

// New constructs an ExecRunner. A non-positive timeout disables the bound
// (the caller's context still applies).
func New(timeout time.Duration, logger logpkg.Logger) *ExecRunner {
	return &ExecRunner{timeout: timeout, logger: logger}
}

// Run executes the command and returns its stdout. On failure the error
// includes trimmed stderr, which is all the service-control tools report.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug(map[string]any{"cmd": name, "args": args}, "exec_start")
	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		r.logger.Debug(map[string]any{"cmd": name, "error": msg}, "exec_failed")
		return stdout.String(), fmt.Errorf("%s: %s", name, msg)
	}
	return stdout.String(), nil
}
