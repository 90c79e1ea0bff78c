package urgency

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Adapter maps one domain's native payload onto the canonical scale.
type Adapter interface {
	Domain() Domain
	Map(raw json.RawMessage) (Mapped, error)
}

// Normalizer dispatches payloads to the adapter registered for their domain
// and enforces the canonical output ranges.
type Normalizer struct {
	mu       sync.RWMutex
	adapters map[Domain]Adapter
	now      func() time.Time
}

// NewNormalizer returns a Normalizer with the given adapters registered.
func NewNormalizer(adapters ...Adapter) *Normalizer {
	n := &Normalizer{
		adapters: make(map[Domain]Adapter, len(adapters)),
		now:      time.Now,
	}
	for _, a := range adapters {
		n.Register(a)
	}
	return n
}

// DefaultNormalizer registers the respiratory, medication and diagnosis adapters.
func DefaultNormalizer() *Normalizer {
	return NewNormalizer(RespiratoryAdapter{}, MedicationAdapter{}, DiagnosisAdapter{})
}

// Register adds or replaces the adapter for a.Domain().
func (n *Normalizer) Register(a Adapter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.adapters[a.Domain()] = a
}

// Has reports whether domain has a registered adapter.
func (n *Normalizer) Has(domain Domain) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.adapters[domain]
	return ok
}

// Domains returns the registered domains in lexical order.
func (n *Normalizer) Domains() []Domain {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Domain, 0, len(n.adapters))
	for d := range n.adapters {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// Normalize converts a raw detector payload into an Assessment. Unknown domains
// fail with *ConfigurationError, malformed payloads with *ValidationError.
func (n *Normalizer) Normalize(domain Domain, subjectID string, raw json.RawMessage) (Assessment, error) {
	n.mu.RLock()
	a, ok := n.adapters[domain]
	n.mu.RUnlock()
	if !ok {
		return Assessment{}, &ConfigurationError{Domain: domain}
	}

	if strings.TrimSpace(subjectID) == "" {
		return Assessment{}, missing("subject_id")
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Assessment{}, missing("payload")
	}

	m, err := a.Map(raw)
	if err != nil {
		return Assessment{}, err
	}

	return Assessment{
		ID:             ulid.Make().String(),
		SubjectID:      subjectID,
		Domain:         domain,
		RawScore:       m.Raw,
		CanonicalScore: Clamp(m.Score, 0, MaxScore),
		Confidence:     Clamp(m.Confidence, 0, 1),
		Rationale:      slices.Clone(m.Rationale),
		RedFlag:        m.RedFlag,
		ProducedAt:     n.now(),
	}, nil
}

// Clamp bounds v to [lo, hi]. NaN becomes lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
