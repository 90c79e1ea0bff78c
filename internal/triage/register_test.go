package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func assessment(subject string, domain urgency.Domain, score float64) urgency.Assessment {
	return urgency.Assessment{
		ID:             "a-" + subject,
		SubjectID:      subject,
		Domain:         domain,
		CanonicalScore: score,
		Rationale:      []string{"test"},
	}
}

func newTestRegister(t *testing.T) (*Register, *mockStore) {
	t.Helper()
	st := newMockStore()
	r, err := NewRegister(context.Background(), st, urgency.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewRegister: %v", err)
	}
	return r, st
}

func TestRegister_SubmitCreates(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegister(t)
	tr, err := r.Submit(context.Background(), assessment("p-1", urgency.DomainRespiratory, 8.7), urgency.TierCritical, t0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tr.Outcome != OutcomeCreated {
		t.Fatalf("Outcome = %q, want %q", tr.Outcome, OutcomeCreated)
	}
	c := tr.Case
	if c.Status != StatusOpen {
		t.Errorf("Status = %q, want %q", c.Status, StatusOpen)
	}
	if want := t0.Add(15 * time.Minute); !c.SLADeadline.Equal(want) {
		t.Errorf("SLADeadline = %v, want %v", c.SLADeadline, want)
	}
	if c.Seq != 1 {
		t.Errorf("Seq = %d, want 1", c.Seq)
	}
}

func TestRegister_SubmitBelowThresholdIgnored(t *testing.T) {
	t.Parallel()

	r, st := newTestRegister(t)
	tr, err := r.Submit(context.Background(), assessment("p-1", urgency.DomainRespiratory, 0.5), urgency.TierNone, t0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tr.Outcome != OutcomeIgnored || tr.Case != nil {
		t.Fatalf("got %q case=%v, want ignored with no case", tr.Outcome, tr.Case)
	}
	if st.puts != 0 {
		t.Errorf("puts = %d, want 0", st.puts)
	}
}

func TestRegister_SubmitSameTierCoalesces(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegister(t)
	ctx := context.Background()
	first, _ := r.Submit(ctx, assessment("p-1", urgency.DomainMedication, 6.5), urgency.TierHigh, t0)

	later := t0.Add(10 * time.Minute)
	a := assessment("p-1", urgency.DomainMedication, 7.5)
	a.ID = "a-second"
	tr, err := r.Submit(ctx, a, urgency.TierHigh, later)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tr.Outcome != OutcomeCoalesced {
		t.Fatalf("Outcome = %q, want %q", tr.Outcome, OutcomeCoalesced)
	}
	if tr.Case.ID != first.Case.ID {
		t.Errorf("case ID changed: %q -> %q", first.Case.ID, tr.Case.ID)
	}
	if !tr.Case.SLADeadline.Equal(first.Case.SLADeadline) {
		t.Errorf("SLADeadline moved: %v -> %v", first.Case.SLADeadline, tr.Case.SLADeadline)
	}
	if tr.Case.Assessment.ID != "a-second" {
		t.Errorf("Assessment.ID = %q, want latest", tr.Case.Assessment.ID)
	}
}

func TestRegister_SubmitRetriage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from, to urgency.Tier
		window   time.Duration
	}{
		{"escalate to critical", urgency.TierModerate, urgency.TierCritical, 15 * time.Minute},
		{"downgrade to low", urgency.TierHigh, urgency.TierLow, 72 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, _ := newTestRegister(t)
			ctx := context.Background()
			_, _ = r.Submit(ctx, assessment("p-1", urgency.DomainDiagnosis, 5), tt.from, t0)

			later := t0.Add(20 * time.Minute)
			tr, err := r.Submit(ctx, assessment("p-1", urgency.DomainDiagnosis, 5), tt.to, later)
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if tr.Outcome != OutcomeRetriaged {
				t.Fatalf("Outcome = %q, want %q", tr.Outcome, OutcomeRetriaged)
			}
			if tr.PreviousTier != tt.from {
				t.Errorf("PreviousTier = %q, want %q", tr.PreviousTier, tt.from)
			}
			if want := later.Add(tt.window); !tr.Case.SLADeadline.Equal(want) {
				t.Errorf("SLADeadline = %v, want %v", tr.Case.SLADeadline, want)
			}
		})
	}
}

func TestRegister_SubThresholdKeepsLiveTier(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegister(t)
	ctx := context.Background()
	first, _ := r.Submit(ctx, assessment("p-1", urgency.DomainRespiratory, 6), urgency.TierHigh, t0)

	tr, err := r.Submit(ctx, assessment("p-1", urgency.DomainRespiratory, 0.2), urgency.TierNone, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tr.Outcome != OutcomeCoalesced {
		t.Errorf("Outcome = %q, want %q", tr.Outcome, OutcomeCoalesced)
	}
	if tr.Case.Tier != urgency.TierHigh {
		t.Errorf("Tier = %q, want %q", tr.Case.Tier, urgency.TierHigh)
	}
	if !tr.Case.SLADeadline.Equal(first.Case.SLADeadline) {
		t.Error("deadline should be unchanged")
	}
}

func TestRegister_AcknowledgedAbsorbsEvidence(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegister(t)
	ctx := context.Background()
	first, _ := r.Submit(ctx, assessment("p-1", urgency.DomainRespiratory, 5), urgency.TierModerate, t0)
	if _, _, err := r.Acknowledge(ctx, first.Case.ID, "dr-a", t0.Add(time.Minute)); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	tr, err := r.Submit(ctx, assessment("p-1", urgency.DomainRespiratory, 9), urgency.TierCritical, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tr.Case.ID != first.Case.ID {
		t.Error("acknowledged case should absorb the assessment")
	}
	if tr.Case.Status != StatusAcknowledged {
		t.Errorf("Status = %q, want %q", tr.Case.Status, StatusAcknowledged)
	}
	if tr.Case.Tier != urgency.TierCritical {
		t.Errorf("Tier = %q, want %q", tr.Case.Tier, urgency.TierCritical)
	}
	if !tr.Case.SLADeadline.Equal(first.Case.SLADeadline) {
		t.Error("acknowledged deadline should be kept")
	}
}

func TestRegister_TerminalCaseNeverReopened(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegister(t)
	ctx := context.Background()
	first, _ := r.Submit(ctx, assessment("p-1", urgency.DomainRespiratory, 9), urgency.TierCritical, t0)
	if _, ok, _ := r.Expire(ctx, first.Case.ID, t0.Add(15*time.Minute)); !ok {
		t.Fatal("expected expiry at deadline")
	}

	tr, _ := r.Submit(ctx, assessment("p-1", urgency.DomainRespiratory, 9), urgency.TierCritical, t0.Add(20*time.Minute))
	if tr.Outcome != OutcomeCreated || tr.Case.ID == first.Case.ID {
		t.Fatalf("expected a fresh case, got %q %q", tr.Outcome, tr.Case.ID)
	}
	old, _ := r.Get(ctx, first.Case.ID)
	if old.Status != StatusExpired {
		t.Errorf("old Status = %q, want %q", old.Status, StatusExpired)
	}
}

func TestRegister_AcknowledgeIdempotent(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegister(t)
	ctx := context.Background()
	tr, _ := r.Submit(ctx, assessment("p-1", urgency.DomainRespiratory, 7), urgency.TierHigh, t0)

	c, changed, err := r.Acknowledge(ctx, tr.Case.ID, "dr-a", t0.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("first Acknowledge = %v, %v", changed, err)
	}
	if c.AcknowledgedBy != "dr-a" {
		t.Errorf("AcknowledgedBy = %q, want %q", c.AcknowledgedBy, "dr-a")
	}

	c, changed, err = r.Acknowledge(ctx, tr.Case.ID, "dr-b", t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second Acknowledge: %v", err)
	}
	if changed {
		t.Error("second Acknowledge should be a no-op")
	}
	if c.AcknowledgedBy != "dr-a" || !c.AcknowledgedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("ack fields changed: %q at %v", c.AcknowledgedBy, c.AcknowledgedAt)
	}
}

func TestRegister_AcknowledgeUnknown(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegister(t)
	_, _, err := r.Acknowledge(context.Background(), "nope", "dr-a", t0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegister_ExpireNeverEarly(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegister(t)
	ctx := context.Background()
	tr, _ := r.Submit(ctx, assessment("p-1", urgency.DomainRespiratory, 8.5), urgency.TierCritical, t0)

	if _, ok, _ := r.Expire(ctx, tr.Case.ID, t0.Add(15*time.Minute-time.Nanosecond)); ok {
		t.Fatal("expired before deadline")
	}
	c, ok, err := r.Expire(ctx, tr.Case.ID, t0.Add(15*time.Minute))
	if err != nil || !ok {
		t.Fatalf("Expire at deadline = %v, %v", ok, err)
	}
	if c.Status != StatusExpired {
		t.Errorf("Status = %q, want %q", c.Status, StatusExpired)
	}

	// acknowledge after expiry changes nothing
	c, changed, err := r.Acknowledge(ctx, tr.Case.ID, "dr-late", t0.Add(16*time.Minute))
	if err != nil || changed {
		t.Fatalf("late Acknowledge = %v, %v", changed, err)
	}
	if c.Status != StatusExpired || c.AcknowledgedBy != "" {
		t.Errorf("late ack mutated case: %q %q", c.Status, c.AcknowledgedBy)
	}
}

func TestRegister_ExpireSkipsAcknowledgedAndUnknown(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegister(t)
	ctx := context.Background()
	tr, _ := r.Submit(ctx, assessment("p-1", urgency.DomainRespiratory, 8.5), urgency.TierCritical, t0)
	_, _, _ = r.Acknowledge(ctx, tr.Case.ID, "dr-a", t0.Add(time.Minute))

	if _, ok, err := r.Expire(ctx, tr.Case.ID, t0.Add(time.Hour)); ok || err != nil {
		t.Errorf("Expire acknowledged = %v, %v; want no-op", ok, err)
	}
	if _, ok, err := r.Expire(ctx, "missing", t0.Add(time.Hour)); ok || err != nil {
		t.Errorf("Expire unknown = %v, %v; want no-op", ok, err)
	}
}

func TestRegister_PeekOrdering(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegister(t)
	ctx := context.Background()

	// high created first with the earliest deadline
	high, _ := r.Submit(ctx, assessment("p-high", urgency.DomainRespiratory, 7), urgency.TierHigh, t0)
	// critical created later still outranks it
	crit, _ := r.Submit(ctx, assessment("p-crit", urgency.DomainRespiratory, 9), urgency.TierCritical, t0.Add(50*time.Minute))
	// second high with a later deadline
	high2, _ := r.Submit(ctx, assessment("p-high2", urgency.DomainMedication, 7), urgency.TierHigh, t0.Add(5*time.Minute))
	low, _ := r.Submit(ctx, assessment("p-low", urgency.DomainDiagnosis, 2), urgency.TierLow, t0)
	acked, _ := r.Submit(ctx, assessment("p-ack", urgency.DomainDiagnosis, 9), urgency.TierCritical, t0)
	_, _, _ = r.Acknowledge(ctx, acked.Case.ID, "dr-a", t0)

	got, err := r.Peek(ctx, "")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	want := []string{crit.Case.ID, high.Case.ID, high2.Case.ID, low.Case.ID}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("[%d] = %s (%s), want %s", i, got[i].ID, got[i].SubjectID, id)
		}
	}

	resp, _ := r.Peek(ctx, urgency.DomainRespiratory)
	if len(resp) != 2 {
		t.Errorf("respiratory len = %d, want 2", len(resp))
	}
}

func TestComparePriority_ArrivalTieBreak(t *testing.T) {
	t.Parallel()

	a := &Case{Tier: urgency.TierHigh, SLADeadline: t0, CreatedAt: t0, Seq: 1}
	b := &Case{Tier: urgency.TierHigh, SLADeadline: t0, CreatedAt: t0, Seq: 2}
	if ComparePriority(a, b) >= 0 {
		t.Error("lower seq should sort first")
	}
	if ComparePriority(b, a) <= 0 {
		t.Error("higher seq should sort last")
	}
}

func TestNewRegister_SeedsSeq(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	st.cases["old"] = &Case{ID: "old", Seq: 41, Status: StatusResolved}
	r, err := NewRegister(context.Background(), st, urgency.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewRegister: %v", err)
	}
	tr, _ := r.Submit(context.Background(), assessment("p-1", urgency.DomainRespiratory, 5), urgency.TierModerate, t0)
	if tr.Case.Seq != 42 {
		t.Errorf("Seq = %d, want 42", tr.Case.Seq)
	}
}

func TestRegister_SubmitPutError(t *testing.T) {
	t.Parallel()

	r, st := newTestRegister(t)
	st.setPutErr(errors.New("disk full"))
	_, err := r.Submit(context.Background(), assessment("p-1", urgency.DomainRespiratory, 5), urgency.TierModerate, t0)
	if err == nil {
		t.Fatal("expected error")
	}
}
