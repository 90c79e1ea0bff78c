// Package notify delivers case alerts to external channels. Alerts are
// deduplicated per (subject, domain, tier) within a debounce window, throttled
// per channel, and retried with exponential backoff. Delivery never blocks the
// caller and never changes case state.
package notify

import (
	"context"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

// Message is what a channel sends.
type Message struct {
	CaseID      string         `json:"case_id"`
	SubjectID   string         `json:"subject_id"`
	Domain      urgency.Domain `json:"domain"`
	Tier        urgency.Tier   `json:"tier"`
	Rationale   []string       `json:"rationale"`
	SLADeadline time.Time      `json:"sla_deadline"`

	// Address is the routed destination; channels fall back to their
	// configured default when it is empty.
	Address string `json:"-"`
}

// Channel is an outbound notification transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, m *Message) error
}

// Permanent marks a send error as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Event is a request to notify about a case.
type Event struct {
	CaseID      string
	SubjectID   string
	Domain      urgency.Domain
	Tier        urgency.Tier
	Rationale   []string
	SLADeadline time.Time
}

// Key identifies a notification for deduplication.
type Key struct {
	SubjectID string
	Domain    urgency.Domain
	Tier      urgency.Tier
}

func (k Key) String() string {
	return k.SubjectID + "|" + string(k.Domain) + "|" + string(k.Tier)
}

// Status is the delivery state of a notification record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// ReasonCancelled is the LastError of records stopped by CancelSubject or Close.
const ReasonCancelled = "cancelled"

// Record tracks one notification within its debounce window.
type Record struct {
	Key           Key       `json:"key"`
	CaseID        string    `json:"case_id"`
	Channel       string    `json:"channel"`
	Attempts      int       `json:"attempts"`
	Status        Status    `json:"status"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitzero"`
}

// Outcome is the result of Dispatch.
type Outcome string

const (
	OutcomeQueued     Outcome = "queued"
	OutcomeSuppressed Outcome = "suppressed"
)

func (e Event) key() Key {
	return Key{SubjectID: e.SubjectID, Domain: e.Domain, Tier: e.Tier}
}

func (e Event) message(address string) *Message {
	return &Message{
		CaseID:      e.CaseID,
		SubjectID:   e.SubjectID,
		Domain:      e.Domain,
		Tier:        e.Tier,
		Rationale:   slices.Clone(e.Rationale),
		SLADeadline: e.SLADeadline,
		Address:     address,
	}
}
