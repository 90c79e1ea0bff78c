package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/wardwatch/internal/notify"
	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DatabaseURL      string
	DBMaxConns       int
	SlowQuery        time.Duration
	PolicyFile       string
	SweepSchedule    string
	StatsWindow      time.Duration
	MinNotifyTier    string
	SlackWebhookURL  string
	PagerWebhookURL  string
	PagerToken       string
	NotifyRoutes     string
	Debounce         time.Duration
	NotifyAttempts   int
	NotifyBaseDelay  time.Duration
	NotifyMaxDelay   time.Duration
	NotifyRate       float64
	NotifyBurst      int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 routes (empty = no auth)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "maximum PostgreSQL pool connections (1..200)")
	fs.DurationVar(&c.SlowQuery, "db-slow-query", 250*time.Millisecond, "log queries slower than this at warn level")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "YAML file overriding SLA windows and domain weights")
	fs.StringVar(&c.SweepSchedule, "sweep-schedule", "@every 5s", "cron spec for the SLA expiry sweep")
	fs.DurationVar(&c.StatsWindow, "stats-window", 24*time.Hour, "rolling window for opened-case stats (>= 1m)")
	fs.StringVar(&c.MinNotifyTier, "min-notify-tier", string(urgency.TierLow), "lowest tier that notifies on case creation (low|moderate|high|critical)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for case alerts")
	fs.StringVar(&c.PagerWebhookURL, "pager-webhook-url", "", "pager/SMS gateway URL for case alerts")
	fs.StringVar(&c.PagerToken, "pager-token", "", "bearer token sent to the pager gateway")
	fs.StringVar(&c.NotifyRoutes, "notify-routes", "", "comma-separated routes domain:min_tier=channel[@address], domain may be *; addresses cannot contain commas")
	fs.DurationVar(&c.Debounce, "notify-debounce", 30*time.Minute, "suppress repeat alerts for the same subject, domain and tier within this window")
	fs.IntVar(&c.NotifyAttempts, "notify-max-attempts", 5, "delivery attempts per alert before giving up (1..20)")
	fs.DurationVar(&c.NotifyBaseDelay, "notify-backoff-base", time.Second, "initial retry delay")
	fs.DurationVar(&c.NotifyMaxDelay, "notify-backoff-max", time.Minute, "maximum retry delay")
	fs.Float64Var(&c.NotifyRate, "notify-rate", 5, "outbound sends per second per channel")
	fs.IntVar(&c.NotifyBurst, "notify-burst", 5, "outbound burst per channel")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DatabaseURL != "" && (c.DBMaxConns <= 0 || c.DBMaxConns > 200) {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..200)", c.DBMaxConns))
	}

	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid SWEEP_SCHEDULE %q: %w", c.SweepSchedule, err))
	}
	if c.StatsWindow < time.Minute {
		errs = append(errs, fmt.Errorf("invalid STATS_WINDOW %s (must be >= 1m)", c.StatsWindow))
	}
	if _, ok := urgency.ParseTier(c.MinNotifyTier); !ok {
		errs = append(errs, fmt.Errorf("invalid MIN_NOTIFY_TIER %q", c.MinNotifyTier))
	}

	// Notification delivery
	if c.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_DEBOUNCE %s (must be > 0)", c.Debounce))
	}
	if c.NotifyAttempts <= 0 || c.NotifyAttempts > 20 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_MAX_ATTEMPTS %d (must be 1..20)", c.NotifyAttempts))
	}
	if c.NotifyBaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_BACKOFF_BASE %s (must be > 0)", c.NotifyBaseDelay))
	}
	if c.NotifyMaxDelay < c.NotifyBaseDelay {
		errs = append(errs, fmt.Errorf("NOTIFY_BACKOFF_MAX %s must be >= NOTIFY_BACKOFF_BASE %s", c.NotifyMaxDelay, c.NotifyBaseDelay))
	}
	if c.NotifyRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_RATE %g (must be > 0)", c.NotifyRate))
	}
	if c.NotifyBurst <= 0 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_BURST %d (must be >= 1)", c.NotifyBurst))
	}
	if _, err := c.Routes(); err != nil {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_ROUTES: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Tier returns the parsed minimum notify tier.
func (c *Config) Tier() urgency.Tier {
	t, _ := urgency.ParseTier(c.MinNotifyTier)
	return t
}

// Routes parses NotifyRoutes.
func (c *Config) Routes() ([]notify.Route, error) {
	return notify.ParseRoutes(c.NotifyRoutes)
}

// DispatchConfig maps the notification flags onto the dispatcher's config.
func (c *Config) DispatchConfig() notify.Config {
	return notify.Config{
		Debounce:      c.Debounce,
		MaxAttempts:   c.NotifyAttempts,
		BaseDelay:     c.NotifyBaseDelay,
		MaxDelay:      c.NotifyMaxDelay,
		RatePerSecond: c.NotifyRate,
		Burst:         c.NotifyBurst,
	}
}
