package urgency

import "time"

// Domain identifies the detector family an assessment came from.
type Domain string

const (
	DomainRespiratory Domain = "respiratory"
	DomainMedication  Domain = "medication"
	DomainDiagnosis   Domain = "diagnosis"
)

// Tier is the escalation tier derived from a canonical score.
type Tier string

const (
	// TierNone means the score is below every threshold and no case is opened.
	TierNone     Tier = ""
	TierLow      Tier = "low"
	TierModerate Tier = "moderate"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// Tiers lists the case-opening tiers from most to least urgent.
var Tiers = []Tier{TierCritical, TierHigh, TierModerate, TierLow}

// Rank orders tiers: critical 4, high 3, moderate 2, low 1, none 0.
func (t Tier) Rank() int {
	switch t {
	case TierCritical:
		return 4
	case TierHigh:
		return 3
	case TierModerate:
		return 2
	case TierLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is one of the case-opening tiers.
func (t Tier) Valid() bool { return t.Rank() > 0 }

// Escalating reports whether moving from prev to t crosses upward into high or critical.
func (t Tier) Escalating(prev Tier) bool {
	return t.Rank() > prev.Rank() && t.Rank() >= TierHigh.Rank()
}

// ParseTier accepts the lower-case tier names.
func ParseTier(s string) (Tier, bool) {
	t := Tier(s)
	return t, t.Valid()
}

// Assessment is the canonical urgency judgment produced from one detector payload.
// Values are copied, never shared; treat an Assessment as immutable.
type Assessment struct {
	ID             string    `json:"id"`
	SubjectID      string    `json:"subject_id"`
	Domain         Domain    `json:"domain"`
	RawScore       float64   `json:"raw_score"`
	CanonicalScore float64   `json:"canonical_score"`
	Confidence     float64   `json:"confidence"`
	Rationale      []string  `json:"rationale"`
	RedFlag        bool      `json:"red_flag"`
	ProducedAt     time.Time `json:"produced_at"`
}

// Mapped is what a domain Adapter computes from its native payload, before
// the normalizer enforces output ranges.
type Mapped struct {
	Raw        float64
	Score      float64
	Confidence float64
	Rationale  []string
	RedFlag    bool
}
