// Package alerting maps health probe readings to alert severities.
//
// Each probe has a Ladder: ascending thresholds, one per severity. A reading
// at or above a tier's threshold earns that tier's severity; a reading below
// the lowest tier raises nothing. Ladders start from built-in defaults and
// can be overridden from a YAML file that is reloaded when it changes.
package alerting

import (
	"fmt"
	"sort"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

// Probe names a health signal.
type Probe string

const (
	ProbeErrorRate        Probe = "error_rate"
	ProbeFailedSyncs      Probe = "failed_syncs"
	ProbeRateLimits       Probe = "rate_limits"
	ProbeStaleWebhooks    Probe = "stale_webhooks"
	ProbePendingConflicts Probe = "pending_conflicts"
	ProbeUnknownEntities  Probe = "unknown_entities"
)

// Probes lists every known probe in evaluation order.
var Probes = []Probe{
	ProbeErrorRate,
	ProbeFailedSyncs,
	ProbeRateLimits,
	ProbeStaleWebhooks,
	ProbePendingConflicts,
	ProbeUnknownEntities,
}

// Tier is one rung of a Ladder.
type Tier struct {
	Severity domain.Severity
	Min      float64
}

// Ladder is a set of tiers ordered by ascending severity.
type Ladder []Tier

// NewLadder builds a four-tier ladder from low/medium/high/critical
// thresholds.
func NewLadder(low, medium, high, critical float64) Ladder {
	return Ladder{
		{Severity: domain.SeverityLow, Min: low},
		{Severity: domain.SeverityMedium, Min: medium},
		{Severity: domain.SeverityHigh, Min: high},
		{Severity: domain.SeverityCritical, Min: critical},
	}
}

// Evaluate returns the highest severity whose threshold v reaches. ok is
// false when v is below every tier.
func (l Ladder) Evaluate(v float64) (sev domain.Severity, ok bool) {
	for _, t := range l {
		if v >= t.Min {
			sev, ok = t.Severity, true
		}
	}
	return sev, ok
}

// Validate checks that tiers are sorted by severity with non-decreasing,
// non-negative thresholds.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("ladder has no tiers")
	}
	if !sort.SliceIsSorted(l, func(i, j int) bool { return l[i].Severity.Rank() < l[j].Severity.Rank() }) {
		return fmt.Errorf("tiers must be ordered by severity")
	}
	prev := -1.0
	for _, t := range l {
		if !t.Severity.Valid() {
			return fmt.Errorf("unknown severity %q", t.Severity)
		}
		if t.Min < 0 {
			return fmt.Errorf("%s threshold must be >= 0", t.Severity)
		}
		if t.Min < prev {
			return fmt.Errorf("%s threshold %.2f is below the previous tier", t.Severity, t.Min)
		}
		prev = t.Min
	}
	return nil
}

// Rule binds a probe to the alert it raises.
type Rule struct {
	Probe     Probe
	AlertType domain.AlertType
	Title     string
	Unit      string
	Ladder    Ladder
}

// Thresholds holds one rule per probe.
type Thresholds map[Probe]Rule

// Defaults returns the built-in rules.
func Defaults() Thresholds {
	return Thresholds{
		ProbeErrorRate: {
			Probe: ProbeErrorRate, AlertType: domain.AlertAPIError, Unit: "%",
			Title: "Webhook error rate elevated", Ladder: NewLadder(5, 10, 25, 50),
		},
		ProbeFailedSyncs: {
			Probe: ProbeFailedSyncs, AlertType: domain.AlertSyncFailure,
			Title: "Gateway synchronisation failures", Ladder: NewLadder(1, 3, 5, 10),
		},
		ProbeRateLimits: {
			Probe: ProbeRateLimits, AlertType: domain.AlertRateLimit,
			Title: "Gateway rate limiting", Ladder: NewLadder(1, 5, 10, 25),
		},
		ProbeStaleWebhooks: {
			Probe: ProbeStaleWebhooks, AlertType: domain.AlertWebhookTimeout,
			Title: "Webhooks stuck unprocessed", Ladder: NewLadder(1, 5, 10, 25),
		},
		ProbePendingConflicts: {
			Probe: ProbePendingConflicts, AlertType: domain.AlertDuplicateDetection,
			Title: "Conflicts awaiting review", Ladder: NewLadder(5, 20, 50, 100),
		},
		ProbeUnknownEntities: {
			Probe: ProbeUnknownEntities, AlertType: domain.AlertDataIntegrity,
			Title: "Webhooks for unknown entities", Ladder: NewLadder(3, 10, 25, 50),
		},
	}
}

// Clone returns a copy safe to modify.
func (t Thresholds) Clone() Thresholds {
	out := make(Thresholds, len(t))
	for k, r := range t {
		r.Ladder = append(Ladder(nil), r.Ladder...)
		out[k] = r
	}
	return out
}
