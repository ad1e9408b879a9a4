// Package guard runs the background service-monitoring loop: poll the OS
// service table on a fixed interval, raise verdicts for running services
// with suspicious descriptions, and quarantine them when enabled.
package guard

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

// DefaultInterval is the poll cadence when none is configured.
const DefaultInterval = 10 * time.Second

// verdictBuffer bounds the outbound verdict channel. Emission is
// non-blocking; a full buffer drops the event (the alert log and journal
// still record it).
const verdictBuffer = 64

// Inspector lists OS services. The gateway implementation shells out to the
// service-control query.
type Inspector interface {
	List(ctx context.Context) ([]domain.ServiceRecord, error)
}

// Controller stops and disables a single service.
type Controller interface {
	StopAndDisable(ctx context.Context, name string) error
}

// Classifier reports which suspicious keywords a description matches.
// Pluggable so a real detection model can replace the keyword heuristic.
type Classifier interface {
	Match(description string) []string
}

// AlertLog receives one line per detected verdict.
type AlertLog interface {
	Appendf(format string, args ...any) error
}

// Journal receives the durable verdict record.
type Journal interface {
	RecordVerdict(v domain.SuspicionVerdict, quarantined bool) error
}

// Guard is the polling state machine. Exactly two states: idle and running.
// Start and Stop are safe from any goroutine.
type Guard struct {
	inspector  Inspector
	controller Controller
	classifier Classifier
	alerts     AlertLog
	journal    Journal
	clock      clock.Clock
	logger     logpkg.Logger
	interval   time.Duration

	// quarantine is owned by the engine (single writer); the loop only
	// reads it, so an atomic is enough.
	quarantine *atomic.Bool

	threats  atomic.Int64
	verdicts chan domain.SuspicionVerdict

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Options collects the Guard dependencies.
type Options struct {
	Inspector  Inspector
	Controller Controller
	Classifier Classifier
	Alerts     AlertLog
	Journal    Journal
	Clock      clock.Clock
	Logger     logpkg.Logger
	Interval   time.Duration
	Quarantine *atomic.Bool
}

// New constructs an idle Guard.
func New(opts Options) *Guard {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Guard{
		inspector:  opts.Inspector,
		controller: opts.Controller,
		classifier: opts.Classifier,
		alerts:     opts.Alerts,
		journal:    opts.Journal,
		clock:      opts.Clock,
		logger:     opts.Logger,
		interval:   interval,
		quarantine: opts.Quarantine,
		verdicts:   make(chan domain.SuspicionVerdict, verdictBuffer),
	}
}

// Start launches the polling loop. Returns ErrAlreadyRunning when the loop
// is already active; no second loop is ever started.
func (g *Guard) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return domain.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	g.running = true

	go g.run(ctx, g.done)
	g.logger.Info(nil, "monitoring_started")
	return nil
}

// Stop requests loop shutdown. It does not interrupt a sleep or an in-flight
// OS call; the loop observes cancellation at the top of its next iteration,
// so callers must tolerate up to one interval of latency. Returns
// ErrNotRunning when idle.
func (g *Guard) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return domain.ErrNotRunning
	}

	g.cancel()
	g.running = false
	g.logger.Info(nil, "monitoring_stop_requested")
	return nil
}

// Running reports whether the loop is active.
func (g *Guard) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Verdicts is the outbound event stream for the presentation layer. The
// channel is never closed; drain it from a single consumer.
func (g *Guard) Verdicts() <-chan domain.SuspicionVerdict {
	return g.verdicts
}

// ThreatCount returns the number of verdicts raised this session.
func (g *Guard) ThreatCount() int64 {
	return g.threats.Load()
}

// Wait blocks until the loop goroutine has exited. Test helper; production
// callers rely on Stop semantics alone.
func (g *Guard) Wait() {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done != nil {
		<-done
	}
}

// run is the poll loop. A transient error in any step is logged and the loop
// continues; nothing terminates it except cancellation.
func (g *Guard) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info(nil, "monitoring_stopped")
			return
		default:
		}

		g.poll(ctx)

		select {
		case <-ctx.Done():
			g.logger.Info(nil, "monitoring_stopped")
			return
		case <-ticker.C:
		}
	}
}

// poll performs one pass over the service table.
func (g *Guard) poll(ctx context.Context) {
	records, err := g.inspector.List(ctx)
	if err != nil {
		g.logger.Error(map[string]any{"error": err.Error()}, "poll_query_failed")
		return
	}

	quarantine := g.quarantine.Load()
	for _, rec := range records {
		if rec.Status != domain.StatusRunning {
			continue
		}
		matched := g.classifier.Match(rec.Description)
		if len(matched) == 0 {
			continue
		}

		verdict := domain.SuspicionVerdict{
			ID:              uuid.NewString(),
			Service:         rec,
			MatchedKeywords: matched,
			DetectedAt:      g.clock.Now(),
		}
		g.handleVerdict(ctx, verdict, quarantine)
	}
}

// handleVerdict quarantines (when enabled), logs, journals, counts, and
// emits one verdict. A control failure for one service never aborts the
// rest of the batch.
func (g *Guard) handleVerdict(ctx context.Context, v domain.SuspicionVerdict, quarantine bool) {
	name := v.Service.Name

	quarantined := false
	if quarantine {
		if err := g.controller.StopAndDisable(ctx, name); err != nil {
			g.logger.Error(map[string]any{"service": name, "error": err.Error()}, "quarantine_failed")
			if logErr := g.alerts.Appendf("Failed to stop service %s: %v", name, err); logErr != nil {
				g.logger.Error(map[string]any{"error": logErr.Error()}, "alert_log_append_failed")
			}
		} else {
			quarantined = true
			if logErr := g.alerts.Appendf("Stopped and disabled service: %s", name); logErr != nil {
				g.logger.Error(map[string]any{"error": logErr.Error()}, "alert_log_append_failed")
			}
		}
	}

	g.threats.Add(1)

	pid := "N/A"
	if v.Service.PID != nil {
		pid = strconv.Itoa(*v.Service.PID)
	}
	if err := g.alerts.Appendf("Suspicious service detected: %s (PID: %s, Status: %s) Description: %s",
		name, pid, v.Service.Status, v.Service.Description); err != nil {
		g.logger.Error(map[string]any{"error": err.Error()}, "alert_log_append_failed")
	}

	if err := g.journal.RecordVerdict(v, quarantined); err != nil {
		g.logger.Error(map[string]any{"service": name, "error": err.Error()}, "journal_record_failed")
	}

	action := "reported"
	if quarantined {
		action = "quarantined"
	}
	g.logger.Warn(map[string]any{
		"service":  name,
		"keywords": v.MatchedKeywords,
		"action":   action,
	}, "suspicious_service_detected")

	select {
	case g.verdicts <- v:
	default:
		g.logger.Warn(map[string]any{"service": name}, "verdict_channel_full_dropping")
	}
}
