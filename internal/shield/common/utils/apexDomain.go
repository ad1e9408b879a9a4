package utils

import "golang.org/x/net/publicsuffix"

// ApexDomain returns the registrable (eTLD+1) form of a normalized hostname.
// Falls back to the input when the public-suffix list cannot resolve it, so
// callers can always use the result as a grouping key.
func ApexDomain(name string) string {
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}
