package reservation

import (
	"fmt"
	"strings"
)

// CompareMode decides when the address stored on the server counts as
// equal to the requested one
type CompareMode int

const (
	// ComparePrefix treats the stored address as up to date if its text
	// starts with the requested address. This is the historical behavior;
	// note that "10.0.0.1" matches a stored "10.0.0.12"
	ComparePrefix CompareMode = iota

	// CompareExact requires both addresses to be textually equal
	CompareExact
)

// ParseCompareMode parses "prefix" or "exact"
func ParseCompareMode(s string) (CompareMode, error) {
	switch strings.ToLower(s) {
	case "prefix", "":
		return ComparePrefix, nil
	case "exact":
		return CompareExact, nil
	}

	return ComparePrefix, fmt.Errorf("unknown compare mode %q", s)
}

func (m CompareMode) String() string {
	if m == CompareExact {
		return "exact"
	}
	return "prefix"
}

// Matches reports whether the stored address satisfies the target
func (m CompareMode) Matches(stored, target string) bool {
	if m == CompareExact {
		return stored == target
	}

	return strings.HasPrefix(stored, target)
}
