package scorer

import (
	"strings"

	"github.com/haukened/rr-shield/internal/shield/domain"
)

// Keywords classifies service descriptions by case-insensitive substring
// match against the suspicious keyword set. Matched keywords come back in
// the set's stable order so verdicts are deterministic.
type Keywords struct {
	keywords []string
}

// NewKeywords constructs a classifier over the default keyword set.
func NewKeywords() *Keywords {
	return &Keywords{keywords: domain.SuspiciousKeywords}
}

// Match returns the keywords found in description, or nil when none match.
func (k *Keywords) Match(description string) []string {
	desc := strings.ToLower(description)
	var matched []string
	for _, kw := range k.keywords {
		if strings.Contains(desc, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}
