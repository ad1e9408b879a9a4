// Package blockstore holds the in-memory set of blocked domains and keeps it
// persisted to a line-delimited text file. It is the source of truth for
// which domains are considered blocked; the hosts-file gateway only mirrors
// its contents into OS state.
package blockstore

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

// minBloomCapacity keeps the filter usable while the list is small.
const minBloomCapacity = 64

// bloomFPRate is the target false-positive rate for the membership filter.
const bloomFPRate = 0.01

// Store is an insertion-ordered set of blocked domains. Every successful
// mutation synchronously rewrites the backing file; a failed write rolls the
// mutation back and surfaces ErrPersistence.
//
// Reads take an RLock so Contains stays cheap on the scoring path; a Bloom
// filter rejects definite non-members before the map lookup.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries []domain.BlockedDomain
	index   map[string]int
	filter  *bloom.BloomFilter
	clock   clock.Clock
	logger  logpkg.Logger
}

// New constructs an empty Store persisting to path. Call Load to pull in any
// existing file contents.
func New(path string, clk clock.Clock, logger logpkg.Logger) *Store {
	s := &Store{
		path:   path,
		index:  make(map[string]int),
		clock:  clk,
		logger: logger,
	}
	s.rebuildFilter()
	return s
}

// Load reads the persisted blocklist. A missing or unreadable file is
// non-fatal: the store starts empty and a warning is logged. Lines that do
// not normalize to a valid domain are skipped, and duplicates keep their
// first-seen position.
func (s *Store) Load() {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn(map[string]any{"path": s.path, "error": err.Error()}, "blocklist_unreadable_starting_empty")
		}
		return
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\uFEFF"))
		if line == "" {
			continue
		}
		name, err := domain.Normalize(line)
		if err != nil {
			s.logger.Debug(map[string]any{"line": lineNum, "raw": line}, "blocklist_skip_invalid")
			continue
		}
		if _, ok := s.index[name]; ok {
			continue
		}
		s.index[name] = len(s.entries)
		s.entries = append(s.entries, domain.BlockedDomain{
			Domain:  name,
			Origin:  domain.OriginManual,
			AddedAt: now,
		})
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn(map[string]any{"path": s.path, "error": err.Error()}, "blocklist_partial_read")
	}
	s.rebuildFilter()
}

// Add normalizes input and inserts it with the given origin.
// Returns ErrInvalidDomain when normalization fails, ErrAlreadyBlocked when
// the domain is already present, and ErrPersistence when the file write
// fails (in which case the store is unchanged).
func (s *Store) Add(input string, origin domain.BlockOrigin) (domain.BlockedDomain, error) {
	name, err := domain.Normalize(input)
	if err != nil {
		return domain.BlockedDomain{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[name]; ok {
		return domain.BlockedDomain{}, fmt.Errorf("%w: %s", domain.ErrAlreadyBlocked, name)
	}

	entry := domain.BlockedDomain{
		Domain:  name,
		Origin:  origin,
		AddedAt: s.clock.Now(),
	}
	s.index[name] = len(s.entries)
	s.entries = append(s.entries, entry)

	if err := s.persist(); err != nil {
		delete(s.index, name)
		s.entries = s.entries[:len(s.entries)-1]
		return domain.BlockedDomain{}, err
	}
	s.filter.Add([]byte(name))
	return entry, nil
}

// Remove deletes a domain from the set. Returns ErrNotFound when absent and
// ErrPersistence when the file write fails (store unchanged).
func (s *Store) Remove(input string) error {
	name, err := domain.Normalize(input)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}

	removed := s.entries[pos]
	s.entries = append(s.entries[:pos], s.entries[pos+1:]...)
	delete(s.index, name)
	for i := pos; i < len(s.entries); i++ {
		s.index[s.entries[i].Domain] = i
	}

	if err := s.persist(); err != nil {
		// reinsert at the original position
		s.entries = append(s.entries[:pos], append([]domain.BlockedDomain{removed}, s.entries[pos:]...)...)
		for i := pos; i < len(s.entries); i++ {
			s.index[s.entries[i].Domain] = i
		}
		return err
	}
	s.rebuildFilter()
	return nil
}

// RemoveAll clears the set and returns the removed entries so the caller can
// undo the matching hosts-file lines.
func (s *Store) RemoveAll() ([]domain.BlockedDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.entries
	s.entries = nil
	s.index = make(map[string]int)

	if err := s.persist(); err != nil {
		s.entries = removed
		for i, e := range s.entries {
			s.index[e.Domain] = i
		}
		return nil, err
	}
	s.rebuildFilter()
	out := make([]domain.BlockedDomain, len(removed))
	copy(out, removed)
	return out, nil
}

// List returns the blocked domains in insertion order.
func (s *Store) List() []domain.BlockedDomain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BlockedDomain, len(s.entries))
	copy(out, s.entries)
	return out
}

// Contains reports whether the normalized domain is blocked. The Bloom
// filter short-circuits definite misses; positives are confirmed against
// the index.
func (s *Store) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.filter.Test([]byte(name)) {
		return false
	}
	_, ok := s.index[name]
	return ok
}

// Len returns the number of blocked domains.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// persist rewrites the full blocklist file, one domain per line.
// Caller must hold the write lock.
func (s *Store) persist() error {
	var buf bytes.Buffer
	for _, e := range s.entries {
		buf.WriteString(e.Domain)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", domain.ErrPersistence, s.path, err)
	}
	return nil
}

// rebuildFilter resizes and repopulates the Bloom filter from the current
// entries. Caller must hold the write lock (or own the store exclusively).
func (s *Store) rebuildFilter() {
	capacity := uint(len(s.entries))
	if capacity < minBloomCapacity {
		capacity = minBloomCapacity
	}
	f := bloom.NewWithEstimates(capacity, bloomFPRate)
	for _, e := range s.entries {
		f.Add([]byte(e.Domain))
	}
	s.filter = f
}
