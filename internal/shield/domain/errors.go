package domain

import "errors"

// Flat error taxonomy for the protection engine. Components return these
// (usually wrapped with %w and context); callers match with errors.Is.
var (
	// ErrInvalidDomain indicates input that does not normalize to a usable host.
	ErrInvalidDomain = errors.New("invalid domain")

	// ErrAlreadyBlocked indicates the domain is already present in the block store.
	ErrAlreadyBlocked = errors.New("domain already blocked")

	// ErrNotFound indicates an unblock of a domain that is not in the block store.
	ErrNotFound = errors.New("domain not blocked")

	// ErrPermissionDenied indicates the process lacks the elevation required
	// to mutate OS-level state (hosts file, service table).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrVerificationFailed indicates a hosts-file write that was not observed
	// on re-read. The write must not be reported as applied.
	ErrVerificationFailed = errors.New("hosts file verification failed")

	// ErrDNSFlush is a non-fatal warning: the block itself applied but the
	// DNS cache flush did not, so changes may not take effect immediately.
	ErrDNSFlush = errors.New("dns cache flush failed")

	// ErrServiceQuery indicates the OS service-table query itself failed.
	ErrServiceQuery = errors.New("service query failed")

	// ErrServiceControl indicates a stop/disable failure for a single service.
	// It never aggregates; each failed service is reported independently.
	ErrServiceControl = errors.New("service control failed")

	// ErrAlreadyRunning / ErrNotRunning signal monitor state misuse.
	ErrAlreadyRunning = errors.New("monitoring already running")
	ErrNotRunning     = errors.New("monitoring not running")

	// ErrSettingsValidation indicates out-of-range or malformed settings.
	// Invalid values are rejected before persistence, never clamped.
	ErrSettingsValidation = errors.New("settings validation failed")

	// ErrPersistence indicates a file write failure in a repo.
	ErrPersistence = errors.New("persistence failed")
)
