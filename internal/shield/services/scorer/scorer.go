// Package scorer implements the deterministic risk heuristics: a safety
// score for URLs/domains and a keyword classifier for service descriptions.
// Both are crude string heuristics by design; they sit behind small
// interfaces at their call sites so a better model can replace them without
// touching callers.
package scorer

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

// Scoring weights. Keyword hits are uncapped: each match subtracts again.
const (
	baseScore       = 100
	insecurePenalty = 30
	lengthPenalty   = 20
	keywordPenalty  = 15
	blockedPenalty  = 50
	longHostLength  = 30
)

// Blocklist is the membership view the scorer needs from the block store.
type Blocklist interface {
	Contains(name string) bool
}

// Heuristic scores domains from static signals. Pure given a fixed blocklist
// state; results for the same input are cached until Purge.
type Heuristic struct {
	blocklist Blocklist
	keywords  []string
	cache     *lru.Cache[string, int]
	clock     clock.Clock
	logger    logpkg.Logger
}

// New constructs a Heuristic over the given blocklist. cacheSize <= 0
// disables the decision cache.
func New(blocklist Blocklist, cacheSize int, clk clock.Clock, logger logpkg.Logger) *Heuristic {
	var cache *lru.Cache[string, int]
	if cacheSize > 0 {
		// lru.New only errors on non-positive size, which is excluded here
		cache, _ = lru.New[string, int](cacheSize)
	}
	return &Heuristic{
		blocklist: blocklist,
		keywords:  domain.SuspiciousKeywords,
		cache:     cache,
		clock:     clk,
		logger:    logger,
	}
}

// Score computes the [0,100] safety score and classification for input.
//
// Start at 100; subtract 30 when the scheme is not https (or absent), 20
// when the normalized host is longer than 30 characters, 15 per suspicious
// keyword found in the host, and 50 when the host is already blocked.
// Malformed input scores 0 / Dangerous and never errors.
func (h *Heuristic) Score(input string) domain.CheckResult {
	now := h.clock.Now()
	key := strings.TrimSpace(input)

	name, err := domain.Normalize(input)
	if err != nil {
		return domain.CheckResult{
			Domain:         key,
			Score:          0,
			Classification: domain.Dangerous,
			CheckedAt:      now,
		}
	}

	if h.cache != nil {
		if score, ok := h.cache.Get(key); ok {
			return result(name, score, now)
		}
	}

	score := baseScore
	if !hasSecureScheme(key) {
		score -= insecurePenalty
	}
	if len(name) > longHostLength {
		score -= lengthPenalty
	}
	for _, kw := range h.keywords {
		if strings.Contains(name, kw) {
			score -= keywordPenalty
		}
	}
	if h.blocklist.Contains(name) {
		score -= blockedPenalty
	}
	score = clamp(score)

	if h.cache != nil {
		h.cache.Add(key, score)
	}
	h.logger.Debug(map[string]any{"domain": name, "score": score}, "url_scored")
	return result(name, score, now)
}

// Purge clears the decision cache. The engine calls this on every blocklist
// mutation since membership feeds the score.
func (h *Heuristic) Purge() {
	if h.cache != nil {
		h.cache.Purge()
	}
}

func result(name string, score int, now time.Time) domain.CheckResult {
	return domain.CheckResult{
		Domain:         name,
		Score:          score,
		Classification: domain.ClassifyScore(score),
		CheckedAt:      now,
	}
}

// hasSecureScheme reports whether the raw input declares https. A bare
// hostname has no scheme and counts as insecure.
func hasSecureScheme(input string) bool {
	scheme, _, ok := strings.Cut(input, "://")
	return ok && strings.EqualFold(scheme, "https")
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
