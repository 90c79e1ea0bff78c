package triage

import (
	"context"
	"time"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

// Store is the persistence interface for cases and subject profiles.
// Implementations return copies; mutating a returned value never changes the store.
type Store interface {
	GetCase(ctx context.Context, id string) (*Case, bool, error)
	PutCase(ctx context.Context, c *Case) error

	// LiveCase returns the open or acknowledged case for (subject, domain).
	LiveCase(ctx context.Context, subjectID string, domain urgency.Domain) (*Case, bool, error)
	LiveCasesForSubject(ctx context.Context, subjectID string) ([]*Case, error)

	// OpenCases lists open cases in one domain, or in every domain when domain is empty.
	OpenCases(ctx context.Context, domain urgency.Domain) ([]*Case, error)
	DueCases(ctx context.Context, now time.Time) ([]*Case, error)
	MaxSeq(ctx context.Context) (int64, error)

	GetProfile(ctx context.Context, subjectID string) (*Profile, bool, error)
	PutProfile(ctx context.Context, p *Profile) error
	DeleteProfile(ctx context.Context, subjectID string) error
}
