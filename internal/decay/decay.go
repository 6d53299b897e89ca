// Package decay implements the pure confidence-decay function shared
// by the hybrid ranker and the kb_get retrieval path.
package decay

import (
	"math"
	"time"
)

// HalfLifeDays maps entry type to its decay half-life, in days.
var HalfLifeDays = map[string]float64{
	"factual_reference":  90,
	"decision":            365,
	"pattern_convention":  730,
	"lesson_learned":      1825,
}

const (
	// WarnThreshold attaches a staleness warning below this value.
	WarnThreshold = 0.5
	// FilterThreshold excludes results below this value unless the
	// caller requested include_stale.
	FilterThreshold = 0.3
)

// Effective computes effective = base * 2^(-age_days / half_life(type))
// where age_days = t - max(updatedAt, lastAccessed). An unrecognised
// entry type falls back to the factual_reference half-life, the most
// conservative (shortest) option.
func Effective(base float64, entryType string, updatedAt, lastAccessed, t time.Time) float64 {
	anchor := updatedAt
	if lastAccessed.After(anchor) {
		anchor = lastAccessed
	}

	halfLife, ok := HalfLifeDays[entryType]
	if !ok {
		halfLife = HalfLifeDays["factual_reference"]
	}

	ageDays := t.Sub(anchor).Hours() / 24
	return base * math.Pow(2, -ageDays/halfLife)
}

// IsStale reports whether effective confidence is below the warn
// threshold (but not necessarily excluded).
func IsStale(effective float64) bool {
	return effective < WarnThreshold
}

// IsFiltered reports whether effective confidence is below the
// filter threshold, meaning the entry is excluded from search unless
// include_stale was requested.
func IsFiltered(effective float64) bool {
	return effective < FilterThreshold
}
