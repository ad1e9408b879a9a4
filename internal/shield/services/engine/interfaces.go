package engine

import (
	"context"

	"github.com/haukened/rr-shield/internal/shield/domain"
)

// BlockStore is the source of truth for blocked domains.
type BlockStore interface {
	Add(input string, origin domain.BlockOrigin) (domain.BlockedDomain, error)
	Remove(input string) error
	RemoveAll() ([]domain.BlockedDomain, error)
	List() []domain.BlockedDomain
	Contains(name string) bool
	Len() int
}

// HostsAdapter mirrors block-store contents into the OS hosts file.
// Implementations return ErrDNSFlush as a non-fatal warning when the block
// applied but the cache flush did not.
type HostsAdapter interface {
	Apply(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	RemoveMatching(ctx context.Context, names []string) error
	CheckWritable() error
}

// Scorer computes safety scores. Purge clears any cached decisions; the
// engine calls it after every blocklist mutation.
type Scorer interface {
	Score(input string) domain.CheckResult
	Purge()
}

// Classifier reports suspicious keywords in a service description.
type Classifier interface {
	Match(description string) []string
}

// Monitor is the background service guard.
type Monitor interface {
	Start() error
	Stop() error
	Running() bool
	Verdicts() <-chan domain.SuspicionVerdict
	ThreatCount() int64
}

// Inspector lists OS services for on-demand queries from the presentation
// layer (the Monitor polls through its own copy).
type Inspector interface {
	List(ctx context.Context) ([]domain.ServiceRecord, error)
}

// Journal is the durable record of protective actions.
type Journal interface {
	RecordBlock(b domain.BlockedDomain) error
	RemoveBlock(name string) error
}

// EventLog is an append-only plain-text log.
type EventLog interface {
	Appendf(format string, args ...any) error
}
