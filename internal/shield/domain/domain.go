package domain

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// BlockOrigin records how a domain entered the block store.
//
// manual - blocked explicitly by the user
// auto   - quarantined automatically after a DANGEROUS URL check
type BlockOrigin uint8

const (
	// OriginManual marks a user-initiated block.
	OriginManual BlockOrigin = iota
	// OriginAuto marks an automatic quarantine block.
	OriginAuto
)

// String returns a stable string representation of the origin.
func (o BlockOrigin) String() string {
	switch o {
	case OriginManual:
		return "manual"
	case OriginAuto:
		return "auto"
	default:
		return fmt.Sprintf("BlockOrigin(%d)", o)
	}
}

// ParseBlockOrigin converts a string into a BlockOrigin.
// Accepts: "manual", "auto" (case-insensitive).
func ParseBlockOrigin(s string) (BlockOrigin, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return OriginManual, nil
	case "auto":
		return OriginAuto, nil
	default:
		return 0, fmt.Errorf("unsupported BlockOrigin: %q", s)
	}
}

// MarshalText encodes the origin as its string form for JSON payloads.
func (o BlockOrigin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes the string form produced by MarshalText.
func (o *BlockOrigin) UnmarshalText(b []byte) error {
	v, err := ParseBlockOrigin(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// BlockedDomain is a single entry in the block store.
//
// Domain is normalized (no scheme, no port, no leading "www."); the store
// guarantees no duplicate normalized domains.
type BlockedDomain struct {
	Domain  string
	Origin  BlockOrigin
	AddedAt time.Time
}

// Normalize reduces arbitrary user input (URL or bare hostname) to the
// canonical domain used as the unit of blocking and scoring.
//
// Steps:
//   - parse as URL when a scheme is present and take the host
//   - drop any path/query fragment and port
//   - lowercase, strip trailing dot and leading "www."
//
// Returns ErrInvalidDomain when the remainder is not a plausible hostname
// (empty, no dot, or illegal label characters).
func Normalize(input string) (string, error) {
	host := strings.TrimSpace(input)
	if host == "" {
		return "", ErrInvalidDomain
	}
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidDomain, input)
		}
		host = u.Host
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil && h != "" {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	host = strings.TrimPrefix(host, "www.")
	if !validHostname(host) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, input)
	}
	return host, nil
}

// validHostname reports whether name looks like a resolvable multi-label
// hostname: at least one interior dot, non-empty labels, and only
// letters/digits/hyphens with no hyphen at a label edge.
func validHostname(name string) bool {
	if len(name) == 0 || len(name) > 253 || !strings.Contains(name, ".") {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
				return false
			}
		}
	}
	return true
}
