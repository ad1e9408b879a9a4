package domain

import "time"

// SuspiciousKeywords is the fixed keyword set used as a crude risk signal in
// both domain names and service descriptions (case-insensitive substring).
// Order is stable so matched-keyword lists are deterministic.
var SuspiciousKeywords = []string{
	"remote", "control", "viewer", "connect", "hack", "spy",
	"monitor", "trojan", "malware", "virus", "phishing", "scam",
}

// SuspicionVerdict is produced when a RUNNING service's description matches
// at least one suspicious keyword. Verdicts are transient; the alert log and
// journal keep the durable record.
type SuspicionVerdict struct {
	ID              string
	Service         ServiceRecord
	MatchedKeywords []string
	DetectedAt      time.Time
}
