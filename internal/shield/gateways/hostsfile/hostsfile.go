// Package hostsfile applies and removes domain blocks against the OS hosts
// file and triggers DNS cache invalidation. It is the only component that
// mutates OS-level state for blocking.
//
// The hosts file is a shared mutable resource with no locking available
// from this process, so every write is followed by a re-read that verifies
// the change actually landed; a silent failure surfaces as
// ErrVerificationFailed instead of a false positive.
package hostsfile

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/gateways/sysexec"
)

// Redirect is the loopback address blocked domains resolve to.
const Redirect = "127.0.0.1"

// DefaultPath returns the platform hosts file location.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

// Adapter edits one hosts file. The mutex serializes our own writers; it
// cannot protect against other processes, which is what the verify-on-reread
// discipline is for.
type Adapter struct {
	mu     sync.Mutex
	path   string
	runner sysexec.Runner
	logger logpkg.Logger
}

// New constructs an Adapter for the hosts file at path. The runner is used
// for DNS cache flushes.
func New(path string, runner sysexec.Runner, logger logpkg.Logger) *Adapter {
	return &Adapter{path: path, runner: runner, logger: logger}
}

// CheckWritable reports whether the process can mutate the hosts file.
// Returns ErrPermissionDenied without elevation so the engine can degrade to
// advisory mode instead of failing every block.
func (a *Adapter) CheckWritable() error {
	f, err := os.OpenFile(a.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, a.path)
		}
		return err
	}
	return f.Close()
}

// Apply appends redirect lines for the bare and "www."-prefixed domain, then
// flushes the DNS cache.
//
// Idempotent: when both lines are already present the call succeeds without
// duplicating them. After writing, the file is re-read and both lines must
// be present, otherwise ErrVerificationFailed is returned. A flush failure
// after a verified write returns ErrDNSFlush; callers must treat it as a
// warning, the block itself is applied.
func (a *Adapter) Apply(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	content, err := a.read()
	if err != nil {
		return err
	}

	bare := Redirect + " " + name
	www := Redirect + " www." + name
	if strings.Contains(content, bare) && strings.Contains(content, www) {
		a.logger.Debug(map[string]any{"domain": name}, "hosts_already_applied")
		return nil
	}

	var sb strings.Builder
	if content != "" && !strings.HasSuffix(content, "\n") {
		sb.WriteByte('\n')
	}
	sb.WriteString(bare + "\n")
	sb.WriteString(www + "\n")
	if err := a.append(sb.String()); err != nil {
		return err
	}

	// read-verify-after-write: never report a block the file does not show
	updated, err := a.read()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrVerificationFailed, name, err)
	}
	if !strings.Contains(updated, bare) || !strings.Contains(updated, www) {
		return fmt.Errorf("%w: %s", domain.ErrVerificationFailed, name)
	}

	a.logger.Info(map[string]any{"domain": name}, "hosts_block_applied")
	return a.flushDNS(ctx)
}

// Remove rewrites the hosts file omitting lines that reference the domain or
// its "www." variant, flushes DNS, and re-verifies absence.
func (a *Adapter) Remove(ctx context.Context, name string) error {
	return a.RemoveMatching(ctx, []string{name})
}

// RemoveMatching is the bulk unblock: one rewrite dropping every line that
// references any of the given domains, then a single flush and verification
// pass. Same discipline as Remove.
func (a *Adapter) RemoveMatching(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	content, err := a.read()
	if err != nil {
		return err
	}

	var sb strings.Builder
	for _, line := range strings.SplitAfter(content, "\n") {
		if line == "" {
			continue
		}
		if referencesAny(line, names) {
			continue
		}
		sb.WriteString(line)
	}
	if err := a.write(sb.String()); err != nil {
		return err
	}

	updated, err := a.read()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err)
	}
	for _, line := range strings.Split(updated, "\n") {
		if referencesAny(line, names) {
			return fmt.Errorf("%w: line still present: %q", domain.ErrVerificationFailed, strings.TrimSpace(line))
		}
	}

	a.logger.Info(map[string]any{"domains": names}, "hosts_block_removed")
	return a.flushDNS(ctx)
}

// referencesAny reports whether a hosts line names one of the domains (bare
// or "www."-prefixed) as a hostname field. Field comparison, not substring,
// so unblocking "x.test" never drops lines for "prefix-x.test".
func referencesAny(line string, names []string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	for _, f := range fields[1:] {
		f = strings.ToLower(f)
		for _, name := range names {
			if f == name || f == "www."+name {
				return true
			}
		}
	}
	return false
}

// read returns the current file content, mapping permission errors onto the
// engine taxonomy. A missing file reads as empty.
func (a *Adapter) read() (string, error) {
	b, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		if os.IsPermission(err) {
			return "", fmt.Errorf("%w: reading %s", domain.ErrPermissionDenied, a.path)
		}
		return "", err
	}
	return string(b), nil
}

func (a *Adapter) append(s string) error {
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return a.writeErr(err)
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		return a.writeErr(err)
	}
	return nil
}

func (a *Adapter) write(s string) error {
	if err := os.WriteFile(a.path, []byte(s), 0o644); err != nil {
		return a.writeErr(err)
	}
	return nil
}

func (a *Adapter) writeErr(err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("%w: writing %s", domain.ErrPermissionDenied, a.path)
	}
	return err
}

// flushDNS invalidates the OS resolver cache so hosts edits take effect
// immediately. Non-fatal: failures come back as ErrDNSFlush warnings.
func (a *Adapter) flushDNS(ctx context.Context) error {
	if _, err := a.runner.Run(ctx, "ipconfig", "/flushdns"); err != nil {
		a.logger.Warn(map[string]any{"error": err.Error()}, "dns_flush_failed")
		return fmt.Errorf("%w: %v", domain.ErrDNSFlush, err)
	}
	a.logger.Debug(nil, "dns_flushed")
	return nil
}
