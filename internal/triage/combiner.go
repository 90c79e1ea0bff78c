package triage

import (
	"time"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

// Combiner merges the latest per-domain scores of one subject into a single
// composite number for ranking subjects. It never opens cases or notifies.
type Combiner struct {
	base map[urgency.Domain]float64
}

// NewCombiner copies the configured base weights.
func NewCombiner(weights map[urgency.Domain]float64) *Combiner {
	base := make(map[urgency.Domain]float64, len(weights))
	for d, w := range weights {
		base[d] = w
	}
	return &Combiner{base: base}
}

// Weights renormalizes the base weights over exactly the present domains.
// A present domain without a configured weight gets the mean configured
// weight; if everything present weighs zero the result is uniform.
func (c *Combiner) Weights(present []urgency.Domain) map[urgency.Domain]float64 {
	out := make(map[urgency.Domain]float64, len(present))
	if len(present) == 0 {
		return out
	}

	var fallback float64
	if len(c.base) > 0 {
		for _, w := range c.base {
			fallback += w
		}
		fallback /= float64(len(c.base))
	}

	var sum float64
	for _, d := range present {
		w, ok := c.base[d]
		if !ok {
			w = fallback
		}
		out[d] = w
		sum += w
	}

	for d := range out {
		if sum > 0 {
			out[d] /= sum
		} else {
			out[d] = 1 / float64(len(present))
		}
	}
	return out
}

// Combine builds the subject's profile from its live per-domain scores.
func (c *Combiner) Combine(subjectID string, scores map[urgency.Domain]float64, now time.Time) *Profile {
	present := make([]urgency.Domain, 0, len(scores))
	for d := range scores {
		present = append(present, d)
	}
	weights := c.Weights(present)

	perDomain := make(map[urgency.Domain]float64, len(scores))
	var composite float64
	for d, s := range scores {
		perDomain[d] = s
		composite += weights[d] * s
	}

	return &Profile{
		SubjectID:      subjectID,
		PerDomainScore: perDomain,
		Weights:        weights,
		CompositeScore: composite,
		UpdatedAt:      now,
	}
}
