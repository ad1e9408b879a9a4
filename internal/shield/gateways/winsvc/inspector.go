// Package winsvc queries and controls OS services through the sc/net command
// line tools. The query output is parsed defensively: it is text produced by
// an external process and may be truncated or malformed at any point.
package winsvc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/gateways/sysexec"
)

// Inspector lists OS services and their state. Read-only.
type Inspector struct {
	runner sysexec.Runner
	logger logpkg.Logger
}

// NewInspector constructs an Inspector over the given runner.
func NewInspector(runner sysexec.Runner, logger logpkg.Logger) *Inspector {
	return &Inspector{runner: runner, logger: logger}
}

// List queries the full service table. A failed invocation returns an empty
// slice plus ErrServiceQuery; whatever output was produced before a failure
// is still parsed, so partial records survive truncation.
func (i *Inspector) List(ctx context.Context) ([]domain.ServiceRecord, error) {
	out, err := i.runner.Run(ctx, "sc", "queryex", "type=", "service", "state=", "all")
	if err != nil {
		i.logger.Error(map[string]any{"error": err.Error()}, "service_query_failed")
		return []domain.ServiceRecord{}, fmt.Errorf("%w: %v", domain.ErrServiceQuery, err)
	}
	return parseQueryOutput(out), nil
}

// parseQueryOutput converts sc queryex text into service records.
//
// Grammar: a "SERVICE_NAME:" line starts a new record; subsequent lines
// update fields of the current record until the next marker or end of input.
//   - "STATE : <code> <TEXT>"  -> status (RUNNING/STOPPED, else UNKNOWN)
//   - "PID : <n>"              -> pid
//   - "DISPLAY_NAME: <text>"   -> description
//
// A record with no field lines keeps defaults (UNKNOWN status, nil pid,
// empty description). Lines that fit no rule are ignored.
func parseQueryOutput(out string) []domain.ServiceRecord {
	records := make([]domain.ServiceRecord, 0, 64)
	var current *domain.ServiceRecord

	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		switch {
		case strings.HasPrefix(line, "SERVICE_NAME:"):
			if current != nil {
				records = append(records, *current)
			}
			current = &domain.ServiceRecord{
				Name: strings.TrimSpace(strings.TrimPrefix(line, "SERVICE_NAME:")),
			}
		case current == nil:
			// field lines before any marker are noise
		case strings.HasPrefix(line, "DISPLAY_NAME:"):
			current.Description = strings.TrimSpace(strings.TrimPrefix(line, "DISPLAY_NAME:"))
		case strings.HasPrefix(line, "STATE"):
			current.Status = parseStateLine(line)
		case strings.HasPrefix(line, "PID"):
			if pid, ok := parsePIDLine(line); ok {
				current.PID = &pid
			}
		}
	}
	if current != nil {
		records = append(records, *current)
	}
	return records
}

// parseStateLine extracts the status text from a "STATE : 4 RUNNING" line.
func parseStateLine(line string) domain.ServiceStatus {
	_, rhs, ok := strings.Cut(line, ":")
	if !ok {
		return domain.StatusUnknown
	}
	fields := strings.Fields(rhs)
	// first field is the numeric code, second the text
	if len(fields) < 2 {
		return domain.StatusUnknown
	}
	return domain.ParseServiceStatus(fields[1])
}

// parsePIDLine extracts the process id from a "PID : 1234" line.
func parsePIDLine(line string) (int, bool) {
	_, rhs, ok := strings.Cut(line, ":")
	if !ok {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(rhs))
	if err != nil || pid < 0 {
		return 0, false
	}
	return pid, true
}
