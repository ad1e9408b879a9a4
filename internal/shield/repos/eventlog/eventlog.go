// Package eventlog implements the append-only plain-text event logs (the
// block log and the service alert log). One line per event, each prefixed
// with a bracketed timestamp.
package eventlog

import (
	"fmt"
	"os"
	"sync"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

// stampLayout is the bracketed timestamp prefix on every line.
const stampLayout = "2006-01-02 15:04:05"

// Log appends timestamped lines to a single file. Safe for concurrent use;
// the guard loop and the control thread both write to the alert log.
type Log struct {
	mu    sync.Mutex
	path  string
	clock clock.Clock
}

// New returns a Log appending to path. The file is created on first append.
func New(path string, clk clock.Clock) *Log {
	return &Log{path: path, clock: clk}
}

// Append writes one timestamped line. Failures surface as ErrPersistence;
// callers treat logging failures as non-fatal.
func (l *Log) Append(msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", domain.ErrPersistence, l.path, err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s\n", l.clock.Now().Format(stampLayout), msg)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("%w: appending %s: %v", domain.ErrPersistence, l.path, err)
	}
	return nil
}

// Appendf formats and writes one timestamped line.
func (l *Log) Appendf(format string, args ...any) error {
	return l.Append(fmt.Sprintf(format, args...))
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}
