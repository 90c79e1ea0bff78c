// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/wardwatch/internal/triage"
	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

var tracer = otel.Tracer("github.com/linnemanlabs/wardwatch/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists cases and composite risk profiles in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a Store on an existing pool.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const caseColumns = `id, seq, subject_id, domain, tier, status, assessment,
	created_at, updated_at, sla_deadline, acknowledged_by, acknowledged_at, closed_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// GetCase retrieves a case by ID.
func (s *Store) GetCase(ctx context.Context, id string) (*triage.Case, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCase", "SELECT")
	defer span.End()

	c, err := scanCase(s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM triage_cases WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return c, c != nil, nil
}

// PutCase inserts or updates a case.
func (s *Store) PutCase(ctx context.Context, c *triage.Case) error {
	ctx, span := startSpan(ctx, "pgstore.PutCase", "UPSERT")
	defer span.End()

	assessmentJSON, err := json.Marshal(c.Assessment)
	if err != nil {
		return fail(span, fmt.Errorf("marshal assessment: %w", err))
	}

	query := `INSERT INTO triage_cases (` + caseColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (id) DO UPDATE SET
		tier            = EXCLUDED.tier,
		status          = EXCLUDED.status,
		assessment      = EXCLUDED.assessment,
		updated_at      = EXCLUDED.updated_at,
		sla_deadline    = EXCLUDED.sla_deadline,
		acknowledged_by = EXCLUDED.acknowledged_by,
		acknowledged_at = EXCLUDED.acknowledged_at,
		closed_at       = EXCLUDED.closed_at`

	_, err = s.pool.Exec(ctx, query,
		c.ID, c.Seq, c.SubjectID, string(c.Domain), string(c.Tier), string(c.Status), assessmentJSON,
		c.CreatedAt, c.UpdatedAt, c.SLADeadline,
		nullString(c.AcknowledgedBy), nullTime(c.AcknowledgedAt), nullTime(c.ClosedAt),
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert case: %w", err))
	}
	return nil
}

// LiveCase returns the open or acknowledged case for (subject, domain).
func (s *Store) LiveCase(ctx context.Context, subjectID string, domain urgency.Domain) (*triage.Case, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.LiveCase", "SELECT")
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM triage_cases
	WHERE subject_id = $1 AND domain = $2 AND status IN ('open', 'acknowledged')`
	c, err := scanCase(s.pool.QueryRow(ctx, query, subjectID, string(domain)))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return c, c != nil, nil
}

// LiveCasesForSubject returns every open or acknowledged case of a subject.
func (s *Store) LiveCasesForSubject(ctx context.Context, subjectID string) ([]*triage.Case, error) {
	ctx, span := startSpan(ctx, "pgstore.LiveCasesForSubject", "SELECT")
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM triage_cases
	WHERE subject_id = $1 AND status IN ('open', 'acknowledged')`
	cases, err := s.queryCases(ctx, query, subjectID)
	if err != nil {
		return nil, fail(span, err)
	}
	return cases, nil
}

// OpenCases lists open cases, all domains when domain is empty.
func (s *Store) OpenCases(ctx context.Context, domain urgency.Domain) ([]*triage.Case, error) {
	ctx, span := startSpan(ctx, "pgstore.OpenCases", "SELECT")
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM triage_cases
	WHERE status = 'open' AND ($1 = '' OR domain = $1)`
	cases, err := s.queryCases(ctx, query, string(domain))
	if err != nil {
		return nil, fail(span, err)
	}
	return cases, nil
}

// DueCases lists open cases whose deadline is at or before now.
func (s *Store) DueCases(ctx context.Context, now time.Time) ([]*triage.Case, error) {
	ctx, span := startSpan(ctx, "pgstore.DueCases", "SELECT")
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM triage_cases
	WHERE status = 'open' AND sla_deadline <= $1
	ORDER BY sla_deadline`
	cases, err := s.queryCases(ctx, query, now)
	if err != nil {
		return nil, fail(span, err)
	}
	return cases, nil
}

// MaxSeq returns the highest arrival sequence, 0 for an empty table.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	ctx, span := startSpan(ctx, "pgstore.MaxSeq", "SELECT")
	defer span.End()

	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM triage_cases`).Scan(&n); err != nil {
		return 0, fail(span, fmt.Errorf("max seq: %w", err))
	}
	return n, nil
}

// GetProfile retrieves a subject's composite risk profile.
func (s *Store) GetProfile(ctx context.Context, subjectID string) (*triage.Profile, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetProfile", "SELECT")
	defer span.End()

	var (
		p                 triage.Profile
		scores, weightsJS []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT subject_id, per_domain_score, weights, composite_score, updated_at
		FROM risk_profiles WHERE subject_id = $1`, subjectID).
		Scan(&p.SubjectID, &scores, &weightsJS, &p.CompositeScore, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("scan profile: %w", err))
	}
	if err := json.Unmarshal(scores, &p.PerDomainScore); err != nil {
		return nil, false, fail(span, fmt.Errorf("unmarshal scores: %w", err))
	}
	if err := json.Unmarshal(weightsJS, &p.Weights); err != nil {
		return nil, false, fail(span, fmt.Errorf("unmarshal weights: %w", err))
	}
	return &p, true, nil
}

// PutProfile inserts or replaces a subject's profile.
func (s *Store) PutProfile(ctx context.Context, p *triage.Profile) error {
	ctx, span := startSpan(ctx, "pgstore.PutProfile", "UPSERT")
	defer span.End()

	scores, err := json.Marshal(p.PerDomainScore)
	if err != nil {
		return fail(span, fmt.Errorf("marshal scores: %w", err))
	}
	weights, err := json.Marshal(p.Weights)
	if err != nil {
		return fail(span, fmt.Errorf("marshal weights: %w", err))
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO risk_profiles (subject_id, per_domain_score, weights, composite_score, updated_at)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (subject_id) DO UPDATE SET
		per_domain_score = EXCLUDED.per_domain_score,
		weights          = EXCLUDED.weights,
		composite_score  = EXCLUDED.composite_score,
		updated_at       = EXCLUDED.updated_at`,
		p.SubjectID, scores, weights, p.CompositeScore, p.UpdatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert profile: %w", err))
	}
	return nil
}

// DeleteProfile removes a subject's profile. Missing profiles are not an error.
func (s *Store) DeleteProfile(ctx context.Context, subjectID string) error {
	ctx, span := startSpan(ctx, "pgstore.DeleteProfile", "DELETE")
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM risk_profiles WHERE subject_id = $1`, subjectID); err != nil {
		return fail(span, fmt.Errorf("delete profile: %w", err))
	}
	return nil
}

func (s *Store) queryCases(ctx context.Context, query string, args ...any) ([]*triage.Case, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var out []*triage.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

// scanCase reads one case row. It returns nil, nil on pgx.ErrNoRows.
func scanCase(row pgx.Row) (*triage.Case, error) {
	var (
		c              triage.Case
		domain, tier   string
		status         string
		assessmentJSON []byte
		ackBy          *string
		ackAt, closed  *time.Time
	)
	err := row.Scan(
		&c.ID, &c.Seq, &c.SubjectID, &domain, &tier, &status, &assessmentJSON,
		&c.CreatedAt, &c.UpdatedAt, &c.SLADeadline, &ackBy, &ackAt, &closed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan case: %w", err)
	}
	if err := json.Unmarshal(assessmentJSON, &c.Assessment); err != nil {
		return nil, fmt.Errorf("unmarshal assessment: %w", err)
	}

	c.Domain = urgency.Domain(domain)
	c.Tier = urgency.Tier(tier)
	c.Status = triage.Status(status)
	if ackBy != nil {
		c.AcknowledgedBy = *ackBy
	}
	if ackAt != nil {
		c.AcknowledgedAt = *ackAt
	}
	if closed != nil {
		c.ClosedAt = *closed
	}
	return &c, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
