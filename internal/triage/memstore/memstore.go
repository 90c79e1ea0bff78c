// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/wardwatch/internal/triage"
	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

type slot struct {
	subjectID string
	domain    urgency.Domain
}

// Store holds cases and profiles in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	cases    map[string]*triage.Case    // case ID -> case
	live     map[slot]string            // (subject, domain) -> live case ID
	profiles map[string]*triage.Profile // subject ID -> profile
	maxSeq   int64
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		cases:    make(map[string]*triage.Case),
		live:     make(map[slot]string),
		profiles: make(map[string]*triage.Profile),
	}
}

// GetCase retrieves a case by its ID. Returns a copy.
func (s *Store) GetCase(_ context.Context, id string) (*triage.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

// PutCase stores a copy of the case and maintains the live-case index.
func (s *Store) PutCase(_ context.Context, c *triage.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = c.Clone()
	if c.Seq > s.maxSeq {
		s.maxSeq = c.Seq
	}

	k := slot{subjectID: c.SubjectID, domain: c.Domain}
	if c.Status.Live() {
		s.live[k] = c.ID
	} else if s.live[k] == c.ID {
		delete(s.live, k)
	}
	return nil
}

// LiveCase returns the open or acknowledged case for (subject, domain). Returns a copy.
func (s *Store) LiveCase(_ context.Context, subjectID string, domain urgency.Domain) (*triage.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.live[slot{subjectID: subjectID, domain: domain}]
	if !ok {
		return nil, false, nil
	}
	return s.cases[id].Clone(), true, nil
}

// LiveCasesForSubject returns copies of every live case of the subject.
func (s *Store) LiveCasesForSubject(_ context.Context, subjectID string) ([]*triage.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Case
	for k, id := range s.live {
		if k.subjectID == subjectID {
			out = append(out, s.cases[id].Clone())
		}
	}
	return out, nil
}

// OpenCases returns copies of open cases, filtered by domain when non-empty.
func (s *Store) OpenCases(_ context.Context, domain urgency.Domain) ([]*triage.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Case
	for k, id := range s.live {
		if domain != "" && k.domain != domain {
			continue
		}
		if c := s.cases[id]; c.Status == triage.StatusOpen {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// DueCases returns copies of open cases whose deadline is at or before now.
func (s *Store) DueCases(_ context.Context, now time.Time) ([]*triage.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Case
	for _, id := range s.live {
		c := s.cases[id]
		if c.Status == triage.StatusOpen && !now.Before(c.SLADeadline) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// MaxSeq returns the highest arrival sequence stored.
func (s *Store) MaxSeq(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSeq, nil
}

// GetProfile retrieves a subject's composite profile. Returns a copy.
func (s *Store) GetProfile(_ context.Context, subjectID string) (*triage.Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[subjectID]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

// PutProfile stores a copy of the profile.
func (s *Store) PutProfile(_ context.Context, p *triage.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.SubjectID] = p.Clone()
	return nil
}

// DeleteProfile removes a subject's profile. Missing profiles are not an error.
func (s *Store) DeleteProfile(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, subjectID)
	return nil
}
