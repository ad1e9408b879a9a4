package domain

import (
	"fmt"
	"time"
)

// Classification buckets a safety score.
//
// SAFE       - score >= 80
// SUSPICIOUS - 50 <= score < 80
// DANGEROUS  - score < 50
type Classification uint8

const (
	// Dangerous scores trigger auto-quarantine when enabled.
	Dangerous Classification = iota
	// Suspicious scores are surfaced but take no automatic action.
	Suspicious
	// Safe scores pass without comment.
	Safe
)

// String returns a stable string representation of the classification.
func (c Classification) String() string {
	switch c {
	case Safe:
		return "Safe"
	case Suspicious:
		return "Suspicious"
	case Dangerous:
		return "Dangerous"
	default:
		return fmt.Sprintf("Classification(%d)", c)
	}
}

// ClassifyScore maps a clamped [0,100] score onto its classification bucket.
func ClassifyScore(score int) Classification {
	switch {
	case score >= 80:
		return Safe
	case score >= 50:
		return Suspicious
	default:
		return Dangerous
	}
}

// CheckResult is the outcome of scoring a single URL or domain. Results are
// appended to an in-memory session history (newest last); only the most
// recent entries are surfaced for display.
type CheckResult struct {
	Domain         string
	Score          int
	Classification Classification
	CheckedAt      time.Time
}
