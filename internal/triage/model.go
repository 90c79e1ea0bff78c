package triage

import (
	"errors"
	"slices"
	"time"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

// ErrNotFound is returned when a case or subject profile does not exist.
var ErrNotFound = errors.New("not found")

// Status tracks where a case is in its lifecycle.
type Status string

const (
	// StatusOpen means awaiting acknowledgement within its SLA window
	StatusOpen Status = "open"

	// StatusAcknowledged means a clinician has taken the case
	StatusAcknowledged Status = "acknowledged"

	// StatusResolved means closed out, e.g. on discharge
	StatusResolved Status = "resolved"

	// StatusExpired means the SLA window passed without acknowledgement
	StatusExpired Status = "expired"
)

// Live reports whether a case still belongs to its (subject, domain) slot.
func (s Status) Live() bool {
	return s == StatusOpen || s == StatusAcknowledged
}

// Terminal reports whether the case is archived.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusExpired
}

// Case is one triage case for a (subject, domain) pair.
type Case struct {
	ID             string             `json:"id"`
	Seq            int64              `json:"seq"`
	SubjectID      string             `json:"subject_id"`
	Domain         urgency.Domain     `json:"domain"`
	Assessment     urgency.Assessment `json:"assessment"`
	Tier           urgency.Tier       `json:"tier"`
	Status         Status             `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	SLADeadline    time.Time          `json:"sla_deadline"`
	AcknowledgedBy string             `json:"acknowledged_by,omitempty"`
	AcknowledgedAt time.Time          `json:"acknowledged_at,omitzero"`
	ClosedAt       time.Time          `json:"closed_at,omitzero"`
}

// Clone returns a deep copy so callers never share the rationale slice.
func (c *Case) Clone() *Case {
	cp := *c
	cp.Assessment.Rationale = slices.Clone(c.Assessment.Rationale)
	return &cp
}

// Profile is the composite risk of one subject across its live domains.
type Profile struct {
	SubjectID      string                     `json:"subject_id"`
	PerDomainScore map[urgency.Domain]float64 `json:"per_domain_score"`
	Weights        map[urgency.Domain]float64 `json:"weights"`
	CompositeScore float64                    `json:"composite_score"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.PerDomainScore = make(map[urgency.Domain]float64, len(p.PerDomainScore))
	for k, v := range p.PerDomainScore {
		cp.PerDomainScore[k] = v
	}
	cp.Weights = make(map[urgency.Domain]float64, len(p.Weights))
	for k, v := range p.Weights {
		cp.Weights[k] = v
	}
	return &cp
}

// PriorityItem is one row of the priority list.
type PriorityItem struct {
	CaseID      string         `json:"case_id"`
	SubjectID   string         `json:"subject_id"`
	Domain      urgency.Domain `json:"domain"`
	Tier        urgency.Tier   `json:"tier"`
	Score       float64        `json:"score"`
	SLADeadline time.Time      `json:"sla_deadline"`
	Rationale   []string       `json:"rationale"`
}

// Outcome describes what a submitted assessment did to the register.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeCoalesced Outcome = "coalesced"
	OutcomeRetriaged Outcome = "retriaged"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
)

// SubmitResult is the outcome of submitting an assessment for triage.
type SubmitResult struct {
	AssessmentID string       `json:"assessment_id"`
	CaseID       string       `json:"case_id,omitempty"`
	Tier         urgency.Tier `json:"tier,omitempty"`
	Outcome      Outcome      `json:"outcome"`
	Notified     bool         `json:"notified"`
}
