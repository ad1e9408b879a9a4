package blockstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blocked_sites.txt")
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(path, clk, logpkg.NewNoopLogger()), path
}

func TestAddListRemoveRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Add("example.com", domain.OriginManual); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	got := s.List()
	if len(got) != 1 || got[0].Domain != "example.com" {
		t.Fatalf("List = %v; want exactly [example.com]", got)
	}

	if err := s.Remove("example.com"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if got := s.List(); len(got) != 0 {
		t.Errorf("List after Remove = %v; want empty", got)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Add("example.com", domain.OriginManual); err != nil {
		t.Fatalf("first Add returned error: %v", err)
	}
	_, err := s.Add("example.com", domain.OriginManual)
	if !errors.Is(err, domain.ErrAlreadyBlocked) {
		t.Fatalf("second Add error = %v; want ErrAlreadyBlocked", err)
	}
	if got := s.List(); len(got) != 1 {
		t.Errorf("List has %d entries after duplicate Add; want 1", len(got))
	}
}

func TestAddNormalizesInput(t *testing.T) {
	s, _ := newTestStore(t)

	entry, err := s.Add("HTTPS://www.Example.com/login", domain.OriginManual)
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if entry.Domain != "example.com" {
		t.Errorf("stored domain = %q; want %q", entry.Domain, "example.com")
	}

	// the normalized variants collide
	if _, err := s.Add("example.com", domain.OriginManual); !errors.Is(err, domain.ErrAlreadyBlocked) {
		t.Errorf("variant Add error = %v; want ErrAlreadyBlocked", err)
	}
}

func TestAddRejectsInvalidDomain(t *testing.T) {
	s, _ := newTestStore(t)

	for _, input := range []string{"", "localhost", "no spaces.here allowed", "..."} {
		if _, err := s.Add(input, domain.OriginManual); !errors.Is(err, domain.ErrInvalidDomain) {
			t.Errorf("Add(%q) error = %v; want ErrInvalidDomain", input, err)
		}
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after invalid adds; want 0", s.Len())
	}
}

func TestRemoveAbsentIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Remove("example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Remove error = %v; want ErrNotFound", err)
	}
}

func TestListPreservesInsertionOrder(t *testing.T) {
	s, _ := newTestStore(t)

	inputs := []string{"c.test", "a.test", "b.test"}
	for _, in := range inputs {
		if _, err := s.Add(in, domain.OriginManual); err != nil {
			t.Fatalf("Add(%q) returned error: %v", in, err)
		}
	}

	got := s.List()
	for i, want := range inputs {
		if got[i].Domain != want {
			t.Errorf("List[%d] = %q; want %q", i, got[i].Domain, want)
		}
	}
}

func TestPersistenceRewritesFullFile(t *testing.T) {
	s, path := newTestStore(t)

	mustAdd(t, s, "a.test", "b.test", "c.test")
	if err := s.Remove("b.test"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading blocklist file: %v", err)
	}
	if string(b) != "a.test\nc.test\n" {
		t.Errorf("file content = %q; want %q", b, "a.test\nc.test\n")
	}
}

func TestRemoveAllClearsStoreAndFile(t *testing.T) {
	s, path := newTestStore(t)

	mustAdd(t, s, "a.test", "b.test")
	removed, err := s.RemoveAll()
	if err != nil {
		t.Fatalf("RemoveAll returned error: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("RemoveAll returned %d entries; want 2", len(removed))
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after RemoveAll; want 0", s.Len())
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading blocklist file: %v", err)
	}
	if string(b) != "" {
		t.Errorf("file content = %q; want empty", b)
	}
}

func TestLoadReadsPersistedDomains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked_sites.txt")
	content := "example.com\nbad.test\n\nnot a domain!!\nexample.com\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := New(path, clk, logpkg.NewNoopLogger())
	s.Load()

	got := s.List()
	if len(got) != 2 {
		t.Fatalf("Load produced %d entries; want 2 (invalid and duplicate lines skipped): %v", len(got), got)
	}
	if got[0].Domain != "example.com" || got[1].Domain != "bad.test" {
		t.Errorf("Load order = [%s %s]; want [example.com bad.test]", got[0].Domain, got[1].Domain)
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	s.Load()
	if s.Len() != 0 {
		t.Errorf("Len = %d after loading missing file; want 0", s.Len())
	}
}

func TestContains(t *testing.T) {
	s, _ := newTestStore(t)

	mustAdd(t, s, "example.com")
	if !s.Contains("example.com") {
		t.Error("Contains(example.com) = false; want true")
	}
	if s.Contains("other.test") {
		t.Error("Contains(other.test) = true; want false")
	}

	if err := s.Remove("example.com"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if s.Contains("example.com") {
		t.Error("Contains after Remove = true; want false")
	}
}

func TestAddPersistenceFailureRollsBack(t *testing.T) {
	// point the store at a path whose parent directory does not exist
	path := filepath.Join(t.TempDir(), "missing", "blocked_sites.txt")
	clk := clock.NewMockClock(time.Now())
	s := New(path, clk, logpkg.NewNoopLogger())

	_, err := s.Add("example.com", domain.OriginManual)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("Add error = %v; want ErrPersistence", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after failed Add; want 0 (rolled back)", s.Len())
	}
	if s.Contains("example.com") {
		t.Error("Contains = true after failed Add; want false")
	}
}

func mustAdd(t *testing.T, s *Store, inputs ...string) {
	t.Helper()
	for _, in := range inputs {
		if _, err := s.Add(in, domain.OriginManual); err != nil {
			t.Fatalf("Add(%q) returned error: %v", in, err)
		}
	}
}
