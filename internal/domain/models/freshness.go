package models

import "time"

// RenderState is how the dashboard presents one pair or the latest summary.
type RenderState string

const (
	StateAbsent RenderState = "absent"
	StateStale  RenderState = "stale"
	StateFresh  RenderState = "fresh"
)

// DefaultStaleFactor multiplies the run interval to get the default threshold.
const DefaultStaleFactor = 2

// FreshnessPolicy classifies report ages. Staleness is advisory only.
type FreshnessPolicy struct {
	Threshold time.Duration
}

// NewFreshnessPolicy returns a policy with threshold = interval * DefaultStaleFactor
// unless threshold is set explicitly.
func NewFreshnessPolicy(interval, threshold time.Duration) FreshnessPolicy {
	if threshold <= 0 {
		threshold = interval * DefaultStaleFactor
	}
	return FreshnessPolicy{Threshold: threshold}
}

// Classify returns the state of a report produced at ts. found=false is absent.
// A non-positive threshold never marks anything stale.
func (p FreshnessPolicy) Classify(now, ts time.Time, found bool) RenderState {
	if !found {
		return StateAbsent
	}
	if p.Threshold > 0 && now.Sub(ts) > p.Threshold {
		return StateStale
	}
	return StateFresh
}
