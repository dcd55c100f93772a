package model

import (
	"regexp"
	"strings"
)

const (
	// MaxManualRecipients caps a hand-entered list.
	MaxManualRecipients = 10000
	// MaxSegmentRecipients caps a segment resolution; intentionally larger
	// than the manual cap since segments come from parsed data.
	MaxSegmentRecipients = 50000

	// DelayFloorMs is the smallest allowed per-send delay bound.
	DelayFloorMs = 200
	// DefaultDelayMinMs and DefaultDelayMaxMs apply when no policy is given.
	DefaultDelayMinMs = 3000
	DefaultDelayMaxMs = 7000
)

var recipientPattern = regexp.MustCompile(`^@?[a-zA-Z0-9_]{4,32}$`)

// ParseManualRecipients validates, @-prefixes and deduplicates a raw handle
// list. Dedup is case-insensitive with first-seen casing winning; order is
// preserved; malformed entries are dropped, not rejected. The result is
// capped at MaxManualRecipients.
func ParseManualRecipients(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}

	normalized := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))

	for _, entry := range raw {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}

		if !strings.HasPrefix(trimmed, "@") {
			trimmed = "@" + trimmed
		}
		if !recipientPattern.MatchString(trimmed) {
			continue
		}

		lowered := strings.ToLower(trimmed)
		if _, dup := seen[lowered]; dup {
			continue
		}

		seen[lowered] = struct{}{}
		normalized = append(normalized, trimmed)
	}

	if len(normalized) > MaxManualRecipients {
		normalized = normalized[:MaxManualRecipients]
	}
	return normalized
}

// ValidRecipient reports whether a handle passes the format rule.
func ValidRecipient(handle string) bool {
	return recipientPattern.MatchString(handle)
}

// NormalizeDelay clamps a delay policy instead of rejecting it: the minimum
// is floored at DelayFloorMs, the maximum is raised to at least the minimum,
// and missing values fall back to the defaults.
func NormalizeDelay(delay *DelayConfig) DelayConfig {
	minMs := DefaultDelayMinMs
	maxMs := DefaultDelayMaxMs
	if delay != nil {
		if delay.MinMs != 0 {
			minMs = delay.MinMs
		}
		if delay.MaxMs != 0 {
			maxMs = delay.MaxMs
		}
	}

	if minMs < DelayFloorMs {
		minMs = DelayFloorMs
	}
	if maxMs < minMs {
		maxMs = minMs
	}

	return DelayConfig{MinMs: minMs, MaxMs: maxMs}
}
