package domain

import (
	"fmt"
	"strings"
)

// ServiceStatus is the running state of an OS service as reported by the
// service-control query. Anything the parser cannot recognize is UNKNOWN.
type ServiceStatus uint8

const (
	// StatusUnknown is the default for records with no parsed state line.
	StatusUnknown ServiceStatus = iota
	// StatusRunning indicates the service is currently running.
	StatusRunning
	// StatusStopped indicates the service is installed but not running.
	StatusStopped
)

// String returns a stable string representation of the status.
func (s ServiceStatus) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusStopped:
		return "STOPPED"
	case StatusUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("ServiceStatus(%d)", s)
	}
}

// ParseServiceStatus maps service-control state text onto a ServiceStatus.
// Unrecognized text maps to UNKNOWN rather than an error; the query output
// is adversarial input and must never crash the caller.
func ParseServiceStatus(s string) ServiceStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RUNNING":
		return StatusRunning
	case "STOPPED":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

// ServiceRecord is one service from the OS service table. Records are
// ephemeral: rebuilt fresh on every poll, never persisted, and carry no
// identity across polls beyond the name.
type ServiceRecord struct {
	Name        string
	Status      ServiceStatus
	PID         *int
	Description string
}
