package urgency

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Score thresholds. Each is an inclusive lower bound.
const (
	CriticalThreshold = 8.0
	HighThreshold     = 6.0
	ModerateThreshold = 4.0
	LowThreshold      = 1.0

	MaxScore = 10.0
)

// CriticalWindow is fixed by the documented escalation policy.
const CriticalWindow = 15 * time.Minute

// windowRange is the documented [min, max] response window for a tier.
type windowRange struct {
	min, max time.Duration
}

var windowRanges = map[Tier]windowRange{
	TierCritical: {CriticalWindow, CriticalWindow},
	TierHigh:     {30 * time.Minute, 4 * time.Hour},
	TierModerate: {2 * time.Hour, 24 * time.Hour},
	TierLow:      {24 * time.Hour, 30 * 24 * time.Hour},
}

// Policy maps canonical scores to tiers and tiers to SLA windows. It also
// carries the base domain weights used for composite risk.
type Policy struct {
	HighWindow     time.Duration      `yaml:"high_window"`
	ModerateWindow time.Duration      `yaml:"moderate_window"`
	LowWindow      time.Duration      `yaml:"low_window"`
	Weights        map[Domain]float64 `yaml:"weights"`
}

// DefaultWeights are illustrative defaults, not a clinical weighting.
func DefaultWeights() map[Domain]float64 {
	return map[Domain]float64{
		DomainRespiratory: 0.4,
		DomainMedication:  0.3,
		DomainDiagnosis:   0.3,
	}
}

// DefaultPolicy returns the documented windows and default weights.
func DefaultPolicy() Policy {
	return Policy{
		HighWindow:     time.Hour,
		ModerateWindow: 4 * time.Hour,
		LowWindow:      72 * time.Hour,
		Weights:        DefaultWeights(),
	}
}

// TierForScore applies the fixed thresholds. Scores on a boundary take the
// higher tier; NaN maps to TierNone.
func TierForScore(score float64) Tier {
	switch {
	case score >= CriticalThreshold:
		return TierCritical
	case score >= HighThreshold:
		return TierHigh
	case score >= ModerateThreshold:
		return TierModerate
	case score >= LowThreshold:
		return TierLow
	default:
		return TierNone
	}
}

// Tier derives the escalation tier. A red flag lifts the result to at least high.
func (p Policy) Tier(score float64, redFlag bool) Tier {
	t := TierForScore(score)
	if redFlag && t.Rank() < TierHigh.Rank() {
		return TierHigh
	}
	return t
}

// Window returns the SLA window for t, or 0 for TierNone.
func (p Policy) Window(t Tier) time.Duration {
	switch t {
	case TierCritical:
		return CriticalWindow
	case TierHigh:
		return p.HighWindow
	case TierModerate:
		return p.ModerateWindow
	case TierLow:
		return p.LowWindow
	default:
		return 0
	}
}

// Deadline is from plus the tier's window.
func (p Policy) Deadline(t Tier, from time.Time) time.Time {
	return from.Add(p.Window(t))
}

// Validate checks every window against its documented range and every weight
// for a finite non-negative value.
func (p Policy) Validate() error {
	var errs []error

	for _, t := range []Tier{TierHigh, TierModerate, TierLow} {
		w := p.Window(t)
		r := windowRanges[t]
		if w < r.min || w > r.max {
			errs = append(errs, fmt.Errorf("invalid %s window %s (must be %s..%s)", t, w, r.min, r.max))
		}
	}

	for d, w := range p.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			errs = append(errs, fmt.Errorf("invalid weight %v for domain %q (must be >= 0)", w, d))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LoadPolicy reads a YAML policy file on top of DefaultPolicy. An empty path
// returns the defaults. Weights in the file replace the default weight set.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is operator config
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Policy{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	if file.HighWindow != 0 {
		p.HighWindow = file.HighWindow
	}
	if file.ModerateWindow != 0 {
		p.ModerateWindow = file.ModerateWindow
	}
	if file.LowWindow != 0 {
		p.LowWindow = file.LowWindow
	}
	if len(file.Weights) > 0 {
		p.Weights = file.Weights
	}

	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}
