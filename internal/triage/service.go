package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

var tracer = otel.Tracer("github.com/linnemanlabs/wardwatch/internal/triage")

// Notifier delivers alerts for qualifying cases. Notify must not block on
// delivery; it reports whether a new notification record was created.
type Notifier interface {
	Notify(ctx context.Context, c *Case) (bool, error)
	CancelSubject(subjectID string) int
}

// Config carries the policy knobs of the Service.
type Config struct {
	Normalizer *urgency.Normalizer
	Policy     urgency.Policy

	// MinNotifyTier gates notifications for newly created cases. Upward
	// crossings into high or critical always notify. Defaults to low.
	MinNotifyTier urgency.Tier

	// StatsWindow is the rolling window of the opened-case counters.
	StatsWindow time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// StatsSnapshot is the dashboard view of tier counts.
type StatsSnapshot struct {
	Window string               `json:"window"`
	Opened map[urgency.Tier]int `json:"opened"`
	Open   map[urgency.Tier]int `json:"open"`
	At     time.Time            `json:"at"`
}

// Service is the business boundary for triage operations. All writes for a
// subject go through that subject's lock; reads are lock-free snapshots.
type Service struct {
	store      Store
	register   *Register
	normalizer *urgency.Normalizer
	policy     urgency.Policy
	combiner   *Combiner
	stats      *Stats
	locks      *subjectLocks
	notifier   Notifier
	minNotify  urgency.Tier
	now        func() time.Time
	logger     log.Logger
	hooks      Hooks
}

// NewService creates a new triage service. notifier may be nil to disable notifications.
func NewService(ctx context.Context, store Store, cfg Config, notifier Notifier, logger log.Logger, hooks Hooks) (*Service, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = urgency.DefaultNormalizer()
	}
	if cfg.Policy.Weights == nil {
		cfg.Policy = urgency.DefaultPolicy()
	}
	if cfg.MinNotifyTier == urgency.TierNone {
		cfg.MinNotifyTier = urgency.TierLow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	reg, err := NewRegister(ctx, store, cfg.Policy)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:      store,
		register:   reg,
		normalizer: cfg.Normalizer,
		policy:     cfg.Policy,
		combiner:   NewCombiner(cfg.Policy.Weights),
		stats:      NewStats(cfg.StatsWindow),
		locks:      newSubjectLocks(),
		notifier:   notifier,
		minNotify:  cfg.MinNotifyTier,
		now:        cfg.Now,
		logger:     logger,
		hooks:      hooks,
	}, nil
}

// SubmitAssessment normalizes a detector payload, files it in the register,
// refreshes the subject's composite risk, and dispatches a notification when
// the case is new or has escalated into high or critical.
func (s *Service) SubmitAssessment(ctx context.Context, domain urgency.Domain, subjectID string, raw json.RawMessage) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "triage.submit", trace.WithAttributes(
		attribute.String("wardwatch.domain", string(domain)),
		attribute.String("wardwatch.subject.id", subjectID),
	))
	defer span.End()

	L := s.logger.With("domain", domain, "subject_id", subjectID)

	a, err := s.normalizer.Normalize(domain, subjectID, raw)
	if err != nil {
		s.onAssessment(domain, OutcomeRejected)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, urgency.ErrConfiguration) {
			L.Error(ctx, err, "assessment rejected: unknown domain")
		} else {
			L.Warn(ctx, "assessment rejected", "error", err)
		}
		return nil, err
	}
	tier := s.policy.Tier(a.CanonicalScore, a.RedFlag)

	unlock := s.locks.Lock(subjectID)
	defer unlock()

	now := s.now()
	tr, err := s.register.Submit(ctx, a, tier, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "failed to file assessment")
		return nil, err
	}
	s.onAssessment(domain, tr.Outcome)

	res := &SubmitResult{
		AssessmentID: a.ID,
		Tier:         tier,
		Outcome:      tr.Outcome,
	}
	span.SetAttributes(attribute.String("wardwatch.outcome", string(tr.Outcome)))

	if tr.Outcome == OutcomeIgnored {
		L.Info(ctx, "assessment below threshold, no case opened", "score", a.CanonicalScore)
		return res, nil
	}

	c := tr.Case
	res.CaseID = c.ID
	res.Tier = c.Tier
	span.SetAttributes(
		attribute.String("wardwatch.case.id", c.ID),
		attribute.String("wardwatch.tier", string(c.Tier)),
	)

	if tr.Outcome == OutcomeCreated {
		s.stats.Record(c.Tier, now)
	}

	if err := s.refreshProfile(ctx, subjectID, now); err != nil {
		L.Error(ctx, err, "failed to refresh composite risk", "case_id", c.ID)
	}

	if s.shouldNotify(tr) {
		res.Notified = s.notify(ctx, c)
	}

	L.Info(ctx, "assessment triaged",
		"case_id", c.ID,
		"outcome", tr.Outcome,
		"tier", c.Tier,
		"previous_tier", tr.PreviousTier,
		"score", a.CanonicalScore,
		"red_flag", a.RedFlag,
		"sla_deadline", c.SLADeadline,
		"notified", res.Notified,
	)
	return res, nil
}

// PriorityList returns open cases most urgent first, optionally for one domain.
func (s *Service) PriorityList(ctx context.Context, domain urgency.Domain) ([]PriorityItem, error) {
	if domain != "" && !s.normalizer.Has(domain) {
		return nil, &urgency.ConfigurationError{Domain: domain}
	}
	cases, err := s.register.Peek(ctx, domain)
	if err != nil {
		return nil, err
	}
	items := make([]PriorityItem, 0, len(cases))
	for _, c := range cases {
		items = append(items, PriorityItem{
			CaseID:      c.ID,
			SubjectID:   c.SubjectID,
			Domain:      c.Domain,
			Tier:        c.Tier,
			Score:       c.Assessment.CanonicalScore,
			SLADeadline: c.SLADeadline,
			Rationale:   c.Assessment.Rationale,
		})
	}
	return items, nil
}

// GetCase retrieves a case by ID.
func (s *Service) GetCase(ctx context.Context, id string) (*Case, error) {
	return s.register.Get(ctx, id)
}

// AcknowledgeCase marks an open case acknowledged. Repeating the call, or
// acknowledging a case that already expired, returns the case unchanged.
func (s *Service) AcknowledgeCase(ctx context.Context, id, ackBy string) (*Case, error) {
	ctx, span := tracer.Start(ctx, "triage.acknowledge", trace.WithAttributes(
		attribute.String("wardwatch.case.id", id),
	))
	defer span.End()

	if strings.TrimSpace(ackBy) == "" {
		return nil, &urgency.ValidationError{Field: "ack_by"}
	}

	c, err := s.register.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(c.SubjectID)
	defer unlock()

	now := s.now()
	c, changed, err := s.register.Acknowledge(ctx, id, ackBy, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("wardwatch.case.status", string(c.Status)))

	if changed {
		s.onClosed(c, now)
		s.logger.Info(ctx, "case acknowledged",
			"case_id", c.ID,
			"subject_id", c.SubjectID,
			"domain", c.Domain,
			"tier", c.Tier,
			"ack_by", ackBy,
			"within_sla", !now.After(c.SLADeadline),
		)
	}
	return c, nil
}

// ExpireCase expires an open case whose deadline has passed. It goes through
// the same subject lock as acknowledgement, so whichever lands first wins.
func (s *Service) ExpireCase(ctx context.Context, id string, now time.Time) (bool, error) {
	c, ok, err := s.store.GetCase(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	unlock := s.locks.Lock(c.SubjectID)
	defer unlock()

	c, changed, err := s.register.Expire(ctx, id, now)
	if err != nil || !changed {
		return false, err
	}

	s.onClosed(c, now)
	if err := s.refreshProfile(ctx, c.SubjectID, now); err != nil {
		s.logger.Error(ctx, err, "failed to refresh composite risk after expiry", "case_id", c.ID)
	}
	s.logger.Warn(ctx, "case expired without acknowledgement",
		"case_id", c.ID,
		"subject_id", c.SubjectID,
		"domain", c.Domain,
		"tier", c.Tier,
		"sla_deadline", c.SLADeadline,
	)
	return true, nil
}

// DueCases lists open cases at or past their deadline.
func (s *Service) DueCases(ctx context.Context, now time.Time) ([]*Case, error) {
	return s.register.Due(ctx, now)
}

// Discharge resolves every live case of a subject, cancels its pending
// notification retries, and drops its composite profile.
func (s *Service) Discharge(ctx context.Context, subjectID string) (int, error) {
	ctx, span := tracer.Start(ctx, "triage.discharge", trace.WithAttributes(
		attribute.String("wardwatch.subject.id", subjectID),
	))
	defer span.End()

	if strings.TrimSpace(subjectID) == "" {
		return 0, &urgency.ValidationError{Field: "subject_id"}
	}

	unlock := s.locks.Lock(subjectID)
	defer unlock()

	live, err := s.store.LiveCasesForSubject(ctx, subjectID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var resolved int
	var errs []error
	for _, c := range live {
		rc, changed, err := s.register.Resolve(ctx, c.ID, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			resolved++
			s.onClosed(rc, now)
		}
	}

	if err := s.store.DeleteProfile(ctx, subjectID); err != nil {
		errs = append(errs, err)
	}

	var cancelled int
	if s.notifier != nil {
		cancelled = s.notifier.CancelSubject(subjectID)
	}

	s.logger.Info(ctx, "subject discharged",
		"subject_id", subjectID,
		"resolved", resolved,
		"cancelled_notifications", cancelled,
	)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resolved, err
	}
	return resolved, nil
}

// CompositeRisk returns the subject's composite risk profile.
func (s *Service) CompositeRisk(ctx context.Context, subjectID string) (*Profile, error) {
	p, ok, err := s.store.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	return p, nil
}

// Stats returns opened-case counts over the rolling window and current open counts.
func (s *Service) Stats(ctx context.Context) (*StatsSnapshot, error) {
	now := s.now()
	open, err := s.store.OpenCases(ctx, "")
	if err != nil {
		return nil, err
	}
	counts := make(map[urgency.Tier]int, len(urgency.Tiers))
	for _, t := range urgency.Tiers {
		counts[t] = 0
	}
	for _, c := range open {
		counts[c.Tier]++
	}
	return &StatsSnapshot{
		Window: s.stats.Window().String(),
		Opened: s.stats.Snapshot(now),
		Open:   counts,
		At:     now,
	}, nil
}

// refreshProfile recomputes composite risk from the subject's live cases.
// Must be called with the subject lock held.
func (s *Service) refreshProfile(ctx context.Context, subjectID string, now time.Time) error {
	live, err := s.store.LiveCasesForSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	if len(live) == 0 {
		return s.store.DeleteProfile(ctx, subjectID)
	}
	scores := make(map[urgency.Domain]float64, len(live))
	for _, c := range live {
		scores[c.Domain] = c.Assessment.CanonicalScore
	}
	return s.store.PutProfile(ctx, s.combiner.Combine(subjectID, scores, now))
}

func (s *Service) shouldNotify(tr *Transition) bool {
	if s.notifier == nil || tr.Case == nil {
		return false
	}
	switch tr.Outcome {
	case OutcomeCreated:
		return tr.Case.Tier.Rank() >= s.minNotify.Rank()
	case OutcomeRetriaged:
		return tr.Case.Tier.Escalating(tr.PreviousTier)
	default:
		return false
	}
}

func (s *Service) notify(ctx context.Context, c *Case) bool {
	created, err := s.notifier.Notify(ctx, c.Clone())
	if err != nil {
		// the case stays open and listed whatever happens to the alert
		s.logger.Error(ctx, err, "notification dispatch failed",
			"case_id", c.ID,
			"subject_id", c.SubjectID,
			"tier", c.Tier,
		)
		return false
	}
	return created
}

func (s *Service) onAssessment(domain urgency.Domain, outcome Outcome) {
	if s.hooks.OnAssessment != nil {
		s.hooks.OnAssessment(string(domain), string(outcome))
	}
}

func (s *Service) onClosed(c *Case, now time.Time) {
	if s.hooks.OnCaseClosed != nil {
		s.hooks.OnCaseClosed(string(c.Status), string(c.Tier), now.Sub(c.CreatedAt).Seconds())
	}
}
