package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/wardwatch/internal/postgres"
	"github.com/linnemanlabs/wardwatch/internal/triage"
	"github.com/linnemanlabs/wardwatch/internal/triage/pgstore"
	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("WARDWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("WARDWATCH_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool.Pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

// uniqueSubject keeps runs against a shared database from colliding.
func uniqueSubject() string {
	return "test-" + ulid.Make().String()
}

func newCase(subject string, domain urgency.Domain, now time.Time) *triage.Case {
	return &triage.Case{
		ID:        ulid.Make().String(),
		Seq:       1,
		SubjectID: subject,
		Domain:    domain,
		Tier:      urgency.TierCritical,
		Status:    triage.StatusOpen,
		Assessment: urgency.Assessment{
			ID:             ulid.Make().String(),
			SubjectID:      subject,
			Domain:         domain,
			RawScore:       0.87,
			CanonicalScore: 8.7,
			Confidence:     0.9,
			Rationale:      []string{"consolidation right lower lobe"},
			ProducedAt:     now,
		},
		CreatedAt:   now,
		UpdatedAt:   now,
		SLADeadline: now.Add(urgency.CriticalWindow),
	}
}

func TestPutAndGetCase(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	c := newCase(uniqueSubject(), urgency.DomainRespiratory, now)
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase: %v", err)
	}

	got, ok, err := s.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if !ok {
		t.Fatal("GetCase returned ok=false, want true")
	}
	if got.SubjectID != c.SubjectID {
		t.Errorf("SubjectID = %q, want %q", got.SubjectID, c.SubjectID)
	}
	if got.Tier != urgency.TierCritical {
		t.Errorf("Tier = %q, want %q", got.Tier, urgency.TierCritical)
	}
	if !got.SLADeadline.Equal(c.SLADeadline) {
		t.Errorf("SLADeadline = %v, want %v", got.SLADeadline, c.SLADeadline)
	}
	if got.Assessment.CanonicalScore != 8.7 {
		t.Errorf("CanonicalScore = %v, want 8.7", got.Assessment.CanonicalScore)
	}
	if len(got.Assessment.Rationale) != 1 {
		t.Errorf("Rationale len = %d, want 1", len(got.Assessment.Rationale))
	}
	if !got.AcknowledgedAt.IsZero() || got.AcknowledgedBy != "" {
		t.Errorf("unexpected ack fields: %q %v", got.AcknowledgedBy, got.AcknowledgedAt)
	}
}

func TestGetCaseMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.GetCase(context.Background(), "nonexistent-id")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if ok {
		t.Fatal("GetCase returned ok=true for missing ID")
	}
}

func TestLiveCaseLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	subject := uniqueSubject()
	c := newCase(subject, urgency.DomainMedication, now)
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase: %v", err)
	}

	got, ok, err := s.LiveCase(ctx, subject, urgency.DomainMedication)
	if err != nil || !ok || got.ID != c.ID {
		t.Fatalf("LiveCase = %v, %v, %v; want %s", got, ok, err, c.ID)
	}

	c.Status = triage.StatusAcknowledged
	c.AcknowledgedBy = "dr-a"
	c.AcknowledgedAt = now.Add(time.Minute)
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase ack: %v", err)
	}
	got, ok, _ = s.LiveCase(ctx, subject, urgency.DomainMedication)
	if !ok || got.AcknowledgedBy != "dr-a" {
		t.Fatalf("acknowledged case should stay live, got %v %v", got, ok)
	}

	open, err := s.OpenCases(ctx, urgency.DomainMedication)
	if err != nil {
		t.Fatalf("OpenCases: %v", err)
	}
	for _, o := range open {
		if o.ID == c.ID {
			t.Error("acknowledged case listed as open")
		}
	}

	c.Status = triage.StatusResolved
	c.ClosedAt = now.Add(2 * time.Minute)
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase resolve: %v", err)
	}
	if _, ok, _ := s.LiveCase(ctx, subject, urgency.DomainMedication); ok {
		t.Fatal("resolved case should not be live")
	}

	// the slot is free for a new case
	next := newCase(subject, urgency.DomainMedication, now.Add(3*time.Minute))
	if err := s.PutCase(ctx, next); err != nil {
		t.Fatalf("PutCase next: %v", err)
	}
	live, err := s.LiveCasesForSubject(ctx, subject)
	if err != nil {
		t.Fatalf("LiveCasesForSubject: %v", err)
	}
	if len(live) != 1 || live[0].ID != next.ID {
		t.Errorf("live = %v, want [%s]", live, next.ID)
	}
}

func TestSecondLiveCaseRejected(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	subject := uniqueSubject()
	if err := s.PutCase(ctx, newCase(subject, urgency.DomainDiagnosis, now)); err != nil {
		t.Fatalf("PutCase: %v", err)
	}
	if err := s.PutCase(ctx, newCase(subject, urgency.DomainDiagnosis, now)); err == nil {
		t.Fatal("expected unique violation for a second live case")
	}
}

func TestDueCases(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	c := newCase(uniqueSubject(), urgency.DomainRespiratory, now)
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase: %v", err)
	}

	contains := func(cases []*triage.Case) bool {
		for _, d := range cases {
			if d.ID == c.ID {
				return true
			}
		}
		return false
	}

	before, err := s.DueCases(ctx, c.SLADeadline.Add(-time.Microsecond))
	if err != nil {
		t.Fatalf("DueCases: %v", err)
	}
	if contains(before) {
		t.Error("case due before its deadline")
	}
	at, _ := s.DueCases(ctx, c.SLADeadline)
	if !contains(at) {
		t.Error("case not due at its deadline")
	}
}

func TestMaxSeq(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	c := newCase(uniqueSubject(), urgency.DomainRespiratory, now)
	c.Seq = 1 << 40
	if err := s.PutCase(ctx, c); err != nil {
		t.Fatalf("PutCase: %v", err)
	}
	got, err := s.MaxSeq(ctx)
	if err != nil {
		t.Fatalf("MaxSeq: %v", err)
	}
	if got < c.Seq {
		t.Errorf("MaxSeq = %d, want >= %d", got, c.Seq)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	subject := uniqueSubject()
	p := &triage.Profile{
		SubjectID:      subject,
		PerDomainScore: map[urgency.Domain]float64{urgency.DomainRespiratory: 9, urgency.DomainMedication: 4},
		Weights:        map[urgency.Domain]float64{urgency.DomainRespiratory: 0.5714, urgency.DomainMedication: 0.4286},
		CompositeScore: 6.857,
		UpdatedAt:      time.Now().Truncate(time.Microsecond).UTC(),
	}
	if err := s.PutProfile(ctx, p); err != nil {
		t.Fatalf("PutProfile: %v", err)
	}

	got, ok, err := s.GetProfile(ctx, subject)
	if err != nil || !ok {
		t.Fatalf("GetProfile = %v, %v, %v", got, ok, err)
	}
	if got.CompositeScore != 6.857 {
		t.Errorf("CompositeScore = %v, want 6.857", got.CompositeScore)
	}
	if got.PerDomainScore[urgency.DomainMedication] != 4 {
		t.Errorf("medication score = %v, want 4", got.PerDomainScore[urgency.DomainMedication])
	}

	if err := s.DeleteProfile(ctx, subject); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if _, ok, _ := s.GetProfile(ctx, subject); ok {
		t.Fatal("profile still present after delete")
	}
}

var _ triage.Store = (*pgstore.Store)(nil)
