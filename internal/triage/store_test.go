package triage

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu       sync.Mutex
	cases    map[string]*Case
	profiles map[string]*Profile
	putErr   error
	getErr   error
	dueErr   error
	puts     int
}

func newMockStore() *mockStore {
	return &mockStore{
		cases:    make(map[string]*Case),
		profiles: make(map[string]*Profile),
	}
}

func (m *mockStore) GetCase(_ context.Context, id string) (*Case, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	c, ok := m.cases[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (m *mockStore) PutCase(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.cases[c.ID] = c.Clone()
	return nil
}

func (m *mockStore) LiveCase(_ context.Context, subjectID string, domain urgency.Domain) (*Case, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	for _, c := range m.cases {
		if c.SubjectID == subjectID && c.Domain == domain && c.Status.Live() {
			return c.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (m *mockStore) LiveCasesForSubject(_ context.Context, subjectID string) ([]*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Case
	for _, c := range m.cases {
		if c.SubjectID == subjectID && c.Status.Live() {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (m *mockStore) OpenCases(_ context.Context, domain urgency.Domain) ([]*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Case
	for _, c := range m.cases {
		if c.Status == StatusOpen && (domain == "" || c.Domain == domain) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (m *mockStore) DueCases(_ context.Context, now time.Time) ([]*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	var out []*Case
	for _, c := range m.cases {
		if c.Status == StatusOpen && !now.Before(c.SLADeadline) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (m *mockStore) MaxSeq(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.cases {
		n = max(n, c.Seq)
	}
	return n, nil
}

func (m *mockStore) GetProfile(_ context.Context, subjectID string) (*Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[subjectID]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *mockStore) PutProfile(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.SubjectID] = p.Clone()
	return nil
}

func (m *mockStore) DeleteProfile(_ context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, subjectID)
	return nil
}

func (m *mockStore) setPutErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
}

// fakeClock is a settable clock for deterministic deadlines.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
