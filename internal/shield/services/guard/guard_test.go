package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

type fakeInspector struct {
	mu      sync.Mutex
	records []domain.ServiceRecord
	err     error
	calls   int
}

func (f *fakeInspector) List(context.Context) ([]domain.ServiceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return []domain.ServiceRecord{}, f.err
	}
	return f.records, nil
}

type fakeController struct {
	mu      sync.Mutex
	stopped []string
	failFor map[string]error
}

func (f *fakeController) StopAndDisable(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[name]; ok {
		return err
	}
	f.stopped = append(f.stopped, name)
	return nil
}

type fakeAlertLog struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeAlertLog) Appendf(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, fmt.Sprintf(format, args...))
	return nil
}

type fakeJournal struct {
	mu       sync.Mutex
	verdicts []domain.SuspicionVerdict
	flags    []bool
}

func (f *fakeJournal) RecordVerdict(v domain.SuspicionVerdict, quarantined bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdicts = append(f.verdicts, v)
	f.flags = append(f.flags, quarantined)
	return nil
}

// keywordMatcher is the production matching rule without the production type.
type keywordMatcher struct{}

func (keywordMatcher) Match(description string) []string {
	desc := strings.ToLower(description)
	var matched []string
	for _, kw := range domain.SuspiciousKeywords {
		if strings.Contains(desc, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

type fixture struct {
	guard      *Guard
	inspector  *fakeInspector
	controller *fakeController
	alerts     *fakeAlertLog
	journal    *fakeJournal
	quarantine *atomic.Bool
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		inspector:  &fakeInspector{},
		controller: &fakeController{failFor: map[string]error{}},
		alerts:     &fakeAlertLog{},
		journal:    &fakeJournal{},
		quarantine: &atomic.Bool{},
	}
	f.quarantine.Store(true)
	f.guard = New(Options{
		Inspector:  f.inspector,
		Controller: f.controller,
		Classifier: keywordMatcher{},
		Alerts:     f.alerts,
		Journal:    f.journal,
		Clock:      clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Logger:     logpkg.NewNoopLogger(),
		Interval:   interval,
		Quarantine: f.quarantine,
	})
	return f
}

func pid(n int) *int { return &n }

func TestPollQuarantinesSuspiciousRunningService(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.inspector.records = []domain.ServiceRecord{
		{Name: "Spooler", Status: domain.StatusRunning, PID: pid(2144), Description: "Print Spooler"},
		{Name: "EvilSvc", Status: domain.StatusRunning, PID: pid(666), Description: "Remote Spy Helper"},
		{Name: "SleepySvc", Status: domain.StatusStopped, Description: "Trojan Dropper"},
	}

	f.guard.poll(context.Background())

	// only the running suspicious service is acted on
	if len(f.controller.stopped) != 1 || f.controller.stopped[0] != "EvilSvc" {
		t.Fatalf("stopped services = %v; want [EvilSvc]", f.controller.stopped)
	}
	if got := f.guard.ThreatCount(); got != 1 {
		t.Errorf("ThreatCount = %d; want 1", got)
	}

	select {
	case v := <-f.guard.Verdicts():
		if v.Service.Name != "EvilSvc" {
			t.Errorf("verdict service = %q; want EvilSvc", v.Service.Name)
		}
		if len(v.MatchedKeywords) != 2 || v.MatchedKeywords[0] != "remote" || v.MatchedKeywords[1] != "spy" {
			t.Errorf("matched keywords = %v; want [remote spy]", v.MatchedKeywords)
		}
		if v.ID == "" {
			t.Error("verdict ID is empty")
		}
	default:
		t.Fatal("no verdict emitted")
	}

	if len(f.journal.verdicts) != 1 || !f.journal.flags[0] {
		t.Errorf("journal = %d verdicts quarantined=%v; want 1 quarantined", len(f.journal.verdicts), f.journal.flags)
	}

	found := false
	for _, line := range f.alerts.lines {
		if line == "Suspicious service detected: EvilSvc (PID: 666, Status: RUNNING) Description: Remote Spy Helper" {
			found = true
		}
	}
	if !found {
		t.Errorf("alert log missing detection line: %v", f.alerts.lines)
	}
}

func TestPollQuarantineDisabledOnlyReports(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.quarantine.Store(false)
	f.inspector.records = []domain.ServiceRecord{
		{Name: "EvilSvc", Status: domain.StatusRunning, Description: "spy tool"},
	}

	f.guard.poll(context.Background())

	if len(f.controller.stopped) != 0 {
		t.Errorf("stopped services = %v; want none with quarantine off", f.controller.stopped)
	}
	if got := f.guard.ThreatCount(); got != 1 {
		t.Errorf("ThreatCount = %d; want 1 (detection still counts)", got)
	}
	if len(f.journal.flags) != 1 || f.journal.flags[0] {
		t.Errorf("journal quarantined flags = %v; want [false]", f.journal.flags)
	}
}

func TestPollControlFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.controller.failFor["FirstEvil"] = errors.New("access denied")
	f.inspector.records = []domain.ServiceRecord{
		{Name: "FirstEvil", Status: domain.StatusRunning, Description: "trojan"},
		{Name: "SecondEvil", Status: domain.StatusRunning, Description: "malware"},
	}

	f.guard.poll(context.Background())

	if len(f.controller.stopped) != 1 || f.controller.stopped[0] != "SecondEvil" {
		t.Errorf("stopped services = %v; want [SecondEvil]", f.controller.stopped)
	}
	if got := f.guard.ThreatCount(); got != 2 {
		t.Errorf("ThreatCount = %d; want 2", got)
	}
	// the failed quarantine is journaled as not quarantined
	if len(f.journal.flags) != 2 || f.journal.flags[0] || !f.journal.flags[1] {
		t.Errorf("journal quarantined flags = %v; want [false true]", f.journal.flags)
	}
}

func TestPollQueryFailureIsTransient(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.inspector.err = domain.ErrServiceQuery

	f.guard.poll(context.Background())

	if got := f.guard.ThreatCount(); got != 0 {
		t.Errorf("ThreatCount = %d; want 0 after failed query", got)
	}
	if len(f.journal.verdicts) != 0 {
		t.Errorf("journal has %d verdicts; want 0", len(f.journal.verdicts))
	}
}

func TestStartStopStateMachine(t *testing.T) {
	f := newFixture(t, time.Hour)

	if f.guard.Running() {
		t.Fatal("Running = true before Start")
	}
	if err := f.guard.Stop(); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("Stop while idle = %v; want ErrNotRunning", err)
	}

	if err := f.guard.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !f.guard.Running() {
		t.Error("Running = false after Start")
	}
	if err := f.guard.Start(); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Errorf("second Start = %v; want ErrAlreadyRunning", err)
	}

	if err := f.guard.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if f.guard.Running() {
		t.Error("Running = true after Stop")
	}
	f.guard.Wait()
}

func TestStartAgainAfterStop(t *testing.T) {
	f := newFixture(t, time.Hour)

	if err := f.guard.Start(); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}
	if err := f.guard.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	f.guard.Wait()

	if err := f.guard.Start(); err != nil {
		t.Fatalf("restart returned error: %v", err)
	}
	if err := f.guard.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	f.guard.Wait()
}

func TestLoopPollsOnInterval(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)

	if err := f.guard.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.inspector.mu.Lock()
		calls := f.inspector.calls
		f.inspector.mu.Unlock()
		if calls >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := f.guard.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	f.guard.Wait()

	f.inspector.mu.Lock()
	calls := f.inspector.calls
	f.inspector.mu.Unlock()
	if calls < 3 {
		t.Errorf("inspector polled %d times; want at least 3", calls)
	}
}

func TestVerdictChannelFullDropsWithoutBlocking(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.quarantine.Store(false)
	f.inspector.records = []domain.ServiceRecord{
		{Name: "EvilSvc", Status: domain.StatusRunning, Description: "spy"},
	}

	// overfill the buffer; poll must keep returning promptly
	for i := 0; i < verdictBuffer+5; i++ {
		f.guard.poll(context.Background())
	}

	if got := f.guard.ThreatCount(); got != int64(verdictBuffer+5) {
		t.Errorf("ThreatCount = %d; want %d (drops still count)", got, verdictBuffer+5)
	}
	if got := len(f.guard.Verdicts()); got != verdictBuffer {
		t.Errorf("buffered verdicts = %d; want %d", got, verdictBuffer)
	}
}
