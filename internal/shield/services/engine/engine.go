// Package engine orchestrates the protection components behind a single API
// for the presentation layer. All commands take and return plain data; no
// GUI types cross this boundary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/config"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

// DefaultBlockedSites are applied by BlockDefaults.
var DefaultBlockedSites = []string{"facebook.com", "twitter.com", "instagram.com"}

// recentChecks is how many URL results Status surfaces; the full history is
// retained for the session.
const recentChecks = 10

// Status is the engine snapshot rendered by dashboards.
type Status struct {
	ThreatsBlocked int64
	BlockedCount   int
	LastScanTime   time.Time
	Monitoring     bool
	Advisory       bool
	RecentChecks   []domain.CheckResult
}

// Engine owns the block store and settings (single writer: the control
// thread). The guard loop shares only the quarantine flag (atomic) and its
// own threat counter.
type Engine struct {
	store     BlockStore
	hosts     HostsAdapter
	scorer    Scorer
	classify  Classifier
	guard     Monitor
	inspector Inspector
	journal   Journal
	blockLog  EventLog
	clock     clock.Clock
	logger    logpkg.Logger

	env          string
	settingsPath string

	mu       sync.Mutex
	settings config.Settings
	history  []domain.CheckResult
	lastScan time.Time

	quarantine *atomic.Bool
	blocked    atomic.Int64
	advisory   bool
}

// Options collects the Engine dependencies.
type Options struct {
	Store        BlockStore
	Hosts        HostsAdapter
	Scorer       Scorer
	Classifier   Classifier
	Guard        Monitor
	Inspector    Inspector
	Journal      Journal
	BlockLog     EventLog
	Clock        clock.Clock
	Logger       logpkg.Logger
	Env          string
	SettingsPath string
	Settings     *config.Settings

	// Quarantine is the shared flag the guard loop reads. The engine is its
	// only writer.
	Quarantine *atomic.Bool
}

// New constructs the engine. Elevation is probed once: without write access
// to the hosts file the engine runs in advisory mode, where OS-level
// blocking fails with ErrPermissionDenied but everything else still works.
func New(opts Options) *Engine {
	e := &Engine{
		store:        opts.Store,
		hosts:        opts.Hosts,
		scorer:       opts.Scorer,
		classify:     opts.Classifier,
		guard:        opts.Guard,
		inspector:    opts.Inspector,
		journal:      opts.Journal,
		blockLog:     opts.BlockLog,
		clock:        opts.Clock,
		logger:       opts.Logger,
		env:          opts.Env,
		settingsPath: opts.SettingsPath,
		settings:     *opts.Settings,
		quarantine:   opts.Quarantine,
	}
	e.quarantine.Store(e.settings.AutoQuarantine)

	if err := e.hosts.CheckWritable(); err != nil {
		e.advisory = true
		e.logger.Warn(map[string]any{"error": err.Error()}, "elevation_missing_advisory_mode")
	}
	return e
}

// BlockDomain blocks a user-entered URL or domain: store first, then the
// hosts file, then the journal and block log. A hosts failure rolls the
// store back so the two never disagree.
func (e *Engine) BlockDomain(ctx context.Context, input string) error {
	return e.block(ctx, input, domain.OriginManual)
}

func (e *Engine) block(ctx context.Context, input string, origin domain.BlockOrigin) error {
	entry, err := e.store.Add(input, origin)
	if err != nil {
		e.logBlockFailure(input, err)
		return err
	}

	if err := e.hosts.Apply(ctx, entry.Domain); err != nil && !errors.Is(err, domain.ErrDNSFlush) {
		if rbErr := e.store.Remove(entry.Domain); rbErr != nil {
			e.logger.Error(map[string]any{"domain": entry.Domain, "error": rbErr.Error()}, "block_rollback_failed")
		}
		e.logBlockFailure(entry.Domain, err)
		return err
	} else if errors.Is(err, domain.ErrDNSFlush) {
		e.appendBlockLog("Warning: Failed to flush DNS for %s", entry.Domain)
	}

	if err := e.journal.RecordBlock(entry); err != nil {
		e.logger.Error(map[string]any{"domain": entry.Domain, "error": err.Error()}, "journal_record_failed")
	}

	e.scorer.Purge()
	e.blocked.Add(1)
	if origin == domain.OriginAuto {
		e.appendBlockLog("Auto-blocked dangerous site: %s", entry.Domain)
	} else {
		e.appendBlockLog("Blocked site: %s", entry.Domain)
	}
	e.logger.Info(map[string]any{"domain": entry.Domain, "origin": origin.String()}, "domain_blocked")
	return nil
}

// UnblockDomain removes a single domain: hosts file first (so a failure
// leaves the store still authoritative), then store, journal, and log.
func (e *Engine) UnblockDomain(ctx context.Context, input string) error {
	name, err := domain.Normalize(input)
	if err != nil {
		return err
	}
	if !e.store.Contains(name) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}

	if err := e.hosts.Remove(ctx, name); err != nil && !errors.Is(err, domain.ErrDNSFlush) {
		e.appendBlockLog("Error unblocking %s: %v", name, err)
		return err
	} else if errors.Is(err, domain.ErrDNSFlush) {
		e.appendBlockLog("Warning: Failed to flush DNS for unblock %s", name)
	}

	if err := e.store.Remove(name); err != nil {
		return err
	}
	if err := e.journal.RemoveBlock(name); err != nil {
		e.logger.Error(map[string]any{"domain": name, "error": err.Error()}, "journal_remove_failed")
	}

	e.scorer.Purge()
	e.appendBlockLog("Unblocked site: %s", name)
	e.logger.Info(map[string]any{"domain": name}, "domain_unblocked")
	return nil
}

// BlockDefaults blocks the built-in site list. Already-blocked entries are
// skipped; other failures are collected, never short-circuited. Returns how
// many new blocks were applied.
func (e *Engine) BlockDefaults(ctx context.Context) (int, error) {
	var errs []error
	blocked := 0
	for _, site := range DefaultBlockedSites {
		err := e.block(ctx, site, domain.OriginManual)
		switch {
		case err == nil:
			blocked++
		case errors.Is(err, domain.ErrAlreadyBlocked):
			// idempotent
		default:
			errs = append(errs, err)
		}
	}
	if blocked > 0 {
		e.appendBlockLog("Blocked %d default sites", blocked)
	}
	return blocked, errors.Join(errs...)
}

// UnblockAll clears every block: one bulk hosts rewrite, then the store.
func (e *Engine) UnblockAll(ctx context.Context) error {
	entries := e.store.List()
	if len(entries) == 0 {
		return nil
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Domain
	}

	if err := e.hosts.RemoveMatching(ctx, names); err != nil && !errors.Is(err, domain.ErrDNSFlush) {
		e.appendBlockLog("Error unblocking all sites: %v", err)
		return err
	} else if errors.Is(err, domain.ErrDNSFlush) {
		e.appendBlockLog("Warning: Failed to flush DNS for unblock all sites")
	}

	if _, err := e.store.RemoveAll(); err != nil {
		return err
	}
	for _, name := range names {
		if err := e.journal.RemoveBlock(name); err != nil {
			e.logger.Error(map[string]any{"domain": name, "error": err.Error()}, "journal_remove_failed")
		}
	}

	e.scorer.Purge()
	e.appendBlockLog("Unblocked all sites")
	e.logger.Info(map[string]any{"count": len(names)}, "all_domains_unblocked")
	return nil
}

// CheckURL scores the input and appends the result to the session history.
// When the score is DANGEROUS and auto-quarantine is enabled, the domain is
// blocked through the exact same path as a manual block (origin auto); an
// auto-block failure leaves the store unchanged and is not fatal to the
// check itself.
func (e *Engine) CheckURL(ctx context.Context, input string) domain.CheckResult {
	res := e.scorer.Score(input)

	e.mu.Lock()
	e.history = append(e.history, res)
	e.lastScan = res.CheckedAt
	e.mu.Unlock()

	e.appendBlockLog("Checked URL: %s, Score: %d, Status: %s", res.Domain, res.Score, res.Classification)

	if res.Classification == domain.Dangerous && e.quarantine.Load() {
		err := e.block(ctx, res.Domain, domain.OriginAuto)
		if err != nil && !errors.Is(err, domain.ErrAlreadyBlocked) && !errors.Is(err, domain.ErrInvalidDomain) {
			e.logger.Error(map[string]any{"domain": res.Domain, "error": err.Error()}, "auto_block_failed")
		}
	}
	return res
}

// History returns the full session URL-check history, oldest first.
func (e *Engine) History() []domain.CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.CheckResult, len(e.history))
	copy(out, e.history)
	return out
}

// ClearHistory drops the session URL-check history.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}

// StartMonitoring activates the service guard loop.
func (e *Engine) StartMonitoring() error {
	if err := e.guard.Start(); err != nil {
		return err
	}
	e.appendBlockLog("Service monitoring started")
	return nil
}

// StopMonitoring requests guard shutdown; up to one poll interval of
// latency applies.
func (e *Engine) StopMonitoring() error {
	if err := e.guard.Stop(); err != nil {
		return err
	}
	e.appendBlockLog("Service monitoring stopped")
	return nil
}

// Verdicts exposes the guard's event stream to the presentation layer.
func (e *Engine) Verdicts() <-chan domain.SuspicionVerdict {
	return e.guard.Verdicts()
}

// Services lists the OS service table on demand.
func (e *Engine) Services(ctx context.Context) ([]domain.ServiceRecord, error) {
	return e.inspector.List(ctx)
}

// BlockedDomains lists the current blocklist in insertion order.
func (e *Engine) BlockedDomains() []domain.BlockedDomain {
	return e.store.List()
}

// Status snapshots the session counters for display.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	recent := e.history
	if len(recent) > recentChecks {
		recent = recent[len(recent)-recentChecks:]
	}
	out := make([]domain.CheckResult, len(recent))
	copy(out, recent)

	return Status{
		ThreatsBlocked: e.blocked.Load() + e.guard.ThreatCount(),
		BlockedCount:   e.store.Len(),
		LastScanTime:   e.lastScan,
		Monitoring:     e.guard.Running(),
		Advisory:       e.advisory,
		RecentChecks:   out,
	}
}

// Settings returns a copy of the current engine settings.
func (e *Engine) Settings() config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// UpdateSettings validates and applies new settings. Out-of-range values are
// rejected (ErrSettingsValidation) without touching the current state.
// Applies the quarantine flag for the guard loop and reconfigures the log
// level.
func (e *Engine) UpdateSettings(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()

	e.quarantine.Store(s.AutoQuarantine)
	if err := logpkg.Configure(e.env, s.LogLevel); err != nil {
		e.logger.Warn(map[string]any{"level": s.LogLevel, "error": err.Error()}, "log_level_not_applied")
	}
	e.logger.Info(map[string]any{"auto_quarantine": s.AutoQuarantine, "log_level": s.LogLevel}, "settings_updated")
	return nil
}

// SaveSettings persists the settings document, refreshing its blocked-sites
// mirror from the store.
func (e *Engine) SaveSettings() error {
	e.mu.Lock()
	s := e.settings
	e.mu.Unlock()

	entries := e.store.List()
	s.CustomBlockedSites = make([]string, len(entries))
	for i, entry := range entries {
		s.CustomBlockedSites[i] = entry.Domain
	}

	if err := config.SaveSettings(e.settingsPath, &s); err != nil {
		return err
	}

	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
	return nil
}

// SystemSafetyScore rates the host 0-100: ten points off per suspicious
// running service.
func (e *Engine) SystemSafetyScore(ctx context.Context) (int, error) {
	records, err := e.inspector.List(ctx)
	if err != nil {
		return 0, err
	}
	score := 100
	for _, rec := range records {
		if rec.Status != domain.StatusRunning {
			continue
		}
		if len(e.classify.Match(rec.Description)) > 0 {
			score -= 10
		}
	}
	if score < 0 {
		score = 0
	}
	return score, nil
}

// ExportServicesReport writes a plain-text snapshot of the service table.
func (e *Engine) ExportServicesReport(ctx context.Context, w io.Writer) error {
	records, err := e.inspector.List(ctx)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Services Report - %s\n\n", e.clock.Now().Format("2006-01-02 15:04:05")); err != nil {
		return err
	}
	for _, rec := range records {
		pid := "N/A"
		if rec.PID != nil {
			pid = fmt.Sprintf("%d", *rec.PID)
		}
		desc := rec.Description
		if desc == "" {
			desc = "No description"
		}
		_, err := fmt.Fprintf(w, "Service: %s\nStatus: %s\nPID: %s\nDescription: %s\n%s\n",
			rec.Name, rec.Status, pid, desc, dividerLine)
		if err != nil {
			return err
		}
	}
	return nil
}

const dividerLine = "--------------------------------------------------"

// Close stops monitoring if it is running.
func (e *Engine) Close() error {
	if e.guard.Running() {
		return e.guard.Stop()
	}
	return nil
}

func (e *Engine) appendBlockLog(format string, args ...any) {
	if err := e.blockLog.Appendf(format, args...); err != nil {
		e.logger.Error(map[string]any{"error": err.Error()}, "block_log_append_failed")
	}
}

func (e *Engine) logBlockFailure(name string, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadyBlocked):
		// not a failure worth a log line; callers surface the warning
	case errors.Is(err, domain.ErrInvalidDomain):
		e.appendBlockLog("Error: Invalid URL %s", name)
	case errors.Is(err, domain.ErrPermissionDenied):
		e.appendBlockLog("PermissionError: Run as Administrator to block %s", name)
	default:
		e.appendBlockLog("Error blocking %s: %v", name, err)
	}
}
