package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/wardwatch/internal/triage"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// Config tunes deduplication, retry, and throttling.
type Config struct {
	// Debounce is how long a record suppresses repeats of its key.
	Debounce time.Duration

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// RatePerSecond limits sends per channel. Zero means unlimited.
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns the documented notification policy.
func DefaultConfig() Config {
	return Config{
		Debounce:      30 * time.Minute,
		MaxAttempts:   5,
		BaseDelay:     time.Second,
		MaxDelay:      time.Minute,
		RatePerSecond: 5,
		Burst:         5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Debounce <= 0 {
		c.Debounce = def.Debounce
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Dispatcher deduplicates alerts and delivers them asynchronously.
type Dispatcher struct {
	cfg      Config
	router   *Router
	channels map[string]Channel
	limiters map[string]*rate.Limiter
	records  *cache.Cache
	logger   log.Logger
	hooks    Hooks
	now      func() time.Time

	mu       sync.Mutex // guards inflight, closed, and every *Record field
	inflight map[Key]*flight
	closed   bool
	wg       sync.WaitGroup
}

type flight struct {
	cancel context.CancelFunc
	rec    *Record
}

// NewDispatcher creates a dispatcher. Every channel the router can name must
// be among channels.
func NewDispatcher(cfg Config, router *Router, channels []Channel, logger log.Logger, hooks Hooks) *Dispatcher {
	if router == nil {
		panic(xerrors.New("notification router is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	d := &Dispatcher{
		cfg:      cfg,
		router:   router,
		channels: make(map[string]Channel, len(channels)),
		limiters: make(map[string]*rate.Limiter, len(channels)),
		records:  cache.New(cfg.Debounce, cfg.Debounce),
		logger:   logger,
		hooks:    hooks,
		now:      time.Now,
		inflight: make(map[Key]*flight),
	}
	for _, ch := range channels {
		d.channels[ch.Name()] = ch
		d.limiters[ch.Name()] = rate.NewLimiter(limit, cfg.Burst)
	}
	for _, name := range router.channels() {
		if _, ok := d.channels[name]; !ok {
			panic(xerrors.New(fmt.Sprintf("route targets unknown channel %q", name)))
		}
	}
	return d
}

// Notify implements triage.Notifier. It reports whether a new record was queued.
func (d *Dispatcher) Notify(ctx context.Context, c *triage.Case) (bool, error) {
	out, err := d.Dispatch(ctx, Event{
		CaseID:      c.ID,
		SubjectID:   c.SubjectID,
		Domain:      c.Domain,
		Tier:        c.Tier,
		Rationale:   c.Assessment.Rationale,
		SLADeadline: c.SLADeadline,
	})
	return out == OutcomeQueued, err
}

// Dispatch queues ev for delivery unless a record for its key exists within
// the debounce window. It never waits on the channel.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	key := ev.key()
	channel, address := d.router.Resolve(ev.Domain, ev.Tier)
	ch := d.channels[channel]

	L := d.logger.With("subject_id", ev.SubjectID, "domain", ev.Domain, "tier", ev.Tier, "channel", channel)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}

	rec := &Record{
		Key:       key,
		CaseID:    ev.CaseID,
		Channel:   channel,
		Status:    StatusPending,
		CreatedAt: d.now(),
	}
	// Add fails when an unexpired record holds the key, whatever its status
	if err := d.records.Add(key.String(), rec, d.cfg.Debounce); err != nil {
		d.mu.Unlock()
		d.onDispatch(channel, OutcomeSuppressed)
		L.Info(ctx, "notification suppressed within debounce window", "case_id", ev.CaseID)
		return OutcomeSuppressed, nil
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.inflight[key] = &flight{cancel: cancel, rec: rec}
	d.wg.Add(1)
	d.mu.Unlock()

	d.onDispatch(channel, OutcomeQueued)
	go d.deliver(rctx, cancel, key, rec, ch, ev.message(address))
	return OutcomeQueued, nil
}

func (d *Dispatcher) deliver(ctx context.Context, cancel context.CancelFunc, key Key, rec *Record, ch Channel, msg *Message) {
	defer d.wg.Done()
	defer cancel()
	defer func() {
		d.mu.Lock()
		// the key may already belong to a newer record
		if f, ok := d.inflight[key]; ok && f.rec == rec {
			delete(d.inflight, key)
		}
		d.mu.Unlock()
	}()

	L := d.logger.With("case_id", msg.CaseID, "subject_id", msg.SubjectID, "tier", msg.Tier, "channel", ch.Name())
	limiter := d.limiters[ch.Name()]

	b := newRetryBackOff(d.cfg)

	op := func() (struct{}, error) {
		if err := limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		d.mu.Lock()
		rec.Attempts++
		rec.LastAttemptAt = d.now()
		d.mu.Unlock()

		start := time.Now()
		err := ch.Send(ctx, msg)
		d.onAttempt(ch.Name(), err, time.Since(start))
		if err != nil {
			d.mu.Lock()
			rec.LastError = err.Error()
			d.mu.Unlock()
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)), //nolint:gosec // MaxAttempts is positive after withDefaults
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			L.Warn(ctx, "notification send failed, retrying", "error", err, "retry_in", next.String())
		}),
	)

	d.mu.Lock()
	switch {
	case err == nil:
		rec.Status = StatusDelivered
		rec.LastError = ""
	case ctx.Err() != nil:
		rec.Status = StatusFailed
		rec.LastError = ReasonCancelled
	default:
		rec.Status = StatusFailed
		rec.LastError = err.Error()
	}
	final := *rec
	d.mu.Unlock()

	switch {
	case err == nil:
		L.Info(ctx, "notification delivered", "attempts", final.Attempts)
	case final.LastError == ReasonCancelled:
		L.Info(ctx, "notification cancelled", "attempts", final.Attempts)
	default:
		// operational alert: nobody has been told about this case
		L.Error(ctx, err, "notification delivery exhausted", "attempts", final.Attempts, "sla_deadline", msg.SLADeadline)
		if d.hooks.OnExhausted != nil {
			d.hooks.OnExhausted(final)
		}
	}
}

// Record returns a copy of the live record for key.
func (d *Dispatcher) Record(key Key) (Record, bool) {
	v, ok := d.records.Get(key.String())
	if !ok {
		return Record{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return *v.(*Record), true
}

// CancelSubject stops every in-flight delivery for the subject and returns
// how many it stopped. Their records stay in place, marked failed.
func (d *Dispatcher) CancelSubject(subjectID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int
	for key, f := range d.inflight {
		if key.SubjectID == subjectID {
			f.cancel()
			delete(d.inflight, key)
			n++
		}
	}
	return n
}

// Close cancels in-flight deliveries and waits for them to finish, bounded by ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	for key, f := range d.inflight {
		f.cancel()
		delete(d.inflight, key)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cappedBackOff keeps jittered delays at or below max.
type cappedBackOff struct {
	backoff.BackOff
	max time.Duration
}

func (c cappedBackOff) NextBackOff() time.Duration {
	next := c.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	return min(next, c.max)
}

// newRetryBackOff doubles from BaseDelay with jitter, never waiting longer
// than MaxDelay between attempts.
func newRetryBackOff(cfg Config) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 2
	return cappedBackOff{BackOff: b, max: cfg.MaxDelay}
}

func (d *Dispatcher) onDispatch(channel string, out Outcome) {
	if d.hooks.OnDispatch != nil {
		d.hooks.OnDispatch(channel, string(out))
	}
}

func (d *Dispatcher) onAttempt(channel string, err error, dur time.Duration) {
	if d.hooks.OnAttempt == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	d.hooks.OnAttempt(channel, result, dur.Seconds())
}
