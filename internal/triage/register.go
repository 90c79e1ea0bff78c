package triage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

// Transition is the result of Register.Submit.
type Transition struct {
	Case         *Case
	Outcome      Outcome
	PreviousTier urgency.Tier
}

// Register is the priority queue of open cases. It does no locking of its
// own beyond the store's; callers serialize mutations per subject.
type Register struct {
	store  Store
	policy urgency.Policy
	seq    atomic.Int64
}

// NewRegister creates a Register and seeds its arrival sequence from the store.
func NewRegister(ctx context.Context, store Store, policy urgency.Policy) (*Register, error) {
	maxSeq, err := store.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("load max seq: %w", err)
	}
	r := &Register{store: store, policy: policy}
	r.seq.Store(maxSeq)
	return r, nil
}

// Submit files an assessment already assigned to tier. It opens a case,
// coalesces into the live one, or re-triages the live one. Terminal cases are
// never reopened; the next assessment gets a fresh case.
func (r *Register) Submit(ctx context.Context, a urgency.Assessment, tier urgency.Tier, now time.Time) (*Transition, error) {
	live, ok, err := r.store.LiveCase(ctx, a.SubjectID, a.Domain)
	if err != nil {
		return nil, fmt.Errorf("lookup live case: %w", err)
	}

	if !ok {
		if !tier.Valid() {
			return &Transition{Outcome: OutcomeIgnored}, nil
		}
		c := &Case{
			ID:          ulid.Make().String(),
			Seq:         r.seq.Add(1),
			SubjectID:   a.SubjectID,
			Domain:      a.Domain,
			Assessment:  a,
			Tier:        tier,
			Status:      StatusOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
			SLADeadline: r.policy.Deadline(tier, now),
		}
		if err := r.store.PutCase(ctx, c); err != nil {
			return nil, fmt.Errorf("put case: %w", err)
		}
		return &Transition{Case: c, Outcome: OutcomeCreated}, nil
	}

	t := &Transition{Case: live, Outcome: OutcomeCoalesced, PreviousTier: live.Tier}
	live.Assessment = a
	live.UpdatedAt = now

	// sub-threshold evidence never closes or downgrades below low
	if tier.Valid() && tier != live.Tier {
		live.Tier = tier
		t.Outcome = OutcomeRetriaged
		if live.Status == StatusOpen {
			live.SLADeadline = r.policy.Deadline(tier, now)
		}
	}

	if err := r.store.PutCase(ctx, live); err != nil {
		return nil, fmt.Errorf("put case: %w", err)
	}
	return t, nil
}

// Acknowledge moves an open case to acknowledged. Acknowledging a case that is
// already acknowledged or terminal is a no-op returning the unchanged case.
func (r *Register) Acknowledge(ctx context.Context, id, ackBy string, now time.Time) (*Case, bool, error) {
	c, err := r.get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if c.Status != StatusOpen {
		return c, false, nil
	}
	c.Status = StatusAcknowledged
	c.AcknowledgedBy = ackBy
	c.AcknowledgedAt = now
	c.UpdatedAt = now
	if err := r.store.PutCase(ctx, c); err != nil {
		return nil, false, fmt.Errorf("put case: %w", err)
	}
	return c, true, nil
}

// Expire moves an open case to expired once now has reached its deadline.
// Unknown, acknowledged, terminal, or not-yet-due cases are left alone.
func (r *Register) Expire(ctx context.Context, id string, now time.Time) (*Case, bool, error) {
	c, ok, err := r.store.GetCase(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ok || c.Status != StatusOpen || now.Before(c.SLADeadline) {
		return c, false, nil
	}
	c.Status = StatusExpired
	c.ClosedAt = now
	c.UpdatedAt = now
	if err := r.store.PutCase(ctx, c); err != nil {
		return nil, false, fmt.Errorf("put case: %w", err)
	}
	return c, true, nil
}

// Resolve closes a live case.
func (r *Register) Resolve(ctx context.Context, id string, now time.Time) (*Case, bool, error) {
	c, err := r.get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !c.Status.Live() {
		return c, false, nil
	}
	c.Status = StatusResolved
	c.ClosedAt = now
	c.UpdatedAt = now
	if err := r.store.PutCase(ctx, c); err != nil {
		return nil, false, fmt.Errorf("put case: %w", err)
	}
	return c, true, nil
}

// Peek returns open cases ordered by tier, then deadline, then arrival.
// An empty domain returns the global view.
func (r *Register) Peek(ctx context.Context, domain urgency.Domain) ([]*Case, error) {
	cases, err := r.store.OpenCases(ctx, domain)
	if err != nil {
		return nil, err
	}
	SortByPriority(cases)
	return cases, nil
}

// Due returns open cases whose deadline is at or before now.
func (r *Register) Due(ctx context.Context, now time.Time) ([]*Case, error) {
	return r.store.DueCases(ctx, now)
}

// Get returns a case by ID or ErrNotFound.
func (r *Register) Get(ctx context.Context, id string) (*Case, error) {
	return r.get(ctx, id)
}

func (r *Register) get(ctx context.Context, id string) (*Case, error) {
	c, ok, err := r.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// ComparePriority orders a before b when a is more urgent: higher tier first,
// then earlier SLA deadline, then earlier creation, then lower arrival sequence.
func ComparePriority(a, b *Case) int {
	if c := cmp.Compare(b.Tier.Rank(), a.Tier.Rank()); c != 0 {
		return c
	}
	if c := a.SLADeadline.Compare(b.SLADeadline); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// SortByPriority sorts cases in place, most urgent first.
func SortByPriority(cases []*Case) {
	slices.SortFunc(cases, ComparePriority)
}
