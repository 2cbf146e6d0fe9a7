package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds application-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	RedisURL              string
	APIKey                string
	WebhookURL            string
	RateLimitWindowMS     int
	RateLimitCapacity     int
	RetentionSeconds      int
	IdempotencyTTLSeconds int
	StepDelayMS           int
	FaultInjectRate       float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for shared rate-limit state (empty = per-process limiter)")
	fs.StringVar(&c.APIKey, "api-key", "", "API key required on action endpoints")
	fs.StringVar(&c.WebhookURL, "webhook-url", "", "webhook URL for high-risk triage notifications")
	fs.IntVar(&c.RateLimitWindowMS, "rate-limit-window-ms", 1000, "rate limiter sliding window in milliseconds (100..60000)")
	fs.IntVar(&c.RateLimitCapacity, "rate-limit-capacity", 5, "requests admitted per client per window (1..10000)")
	fs.IntVar(&c.RetentionSeconds, "run-retention-seconds", 300, "seconds a finished triage run stays subscribable (10..3600)")
	fs.IntVar(&c.IdempotencyTTLSeconds, "idempotency-ttl-seconds", 3600, "idempotency replay cache TTL in seconds (60..86400)")
	fs.IntVar(&c.StepDelayMS, "step-delay-ms", 0, "demo pacing between pipeline steps in milliseconds (0 = off)")
	fs.Float64Var(&c.FaultInjectRate, "fault-inject-rate", 0, "probability a riskSignals attempt fails synthetically (0..1, demo only)")
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

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Actions are useless without an API key to authenticate them
	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}

	if c.RateLimitWindowMS < 100 || c.RateLimitWindowMS > 60_000 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_WINDOW_MS %d (must be 100..60000)", c.RateLimitWindowMS))
	}
	if c.RateLimitCapacity <= 0 || c.RateLimitCapacity > 10_000 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_CAPACITY %d (must be 1..10000)", c.RateLimitCapacity))
	}
	if c.RetentionSeconds < 10 || c.RetentionSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid RUN_RETENTION_SECONDS %d (must be 10..3600)", c.RetentionSeconds))
	}
	if c.IdempotencyTTLSeconds < 60 || c.IdempotencyTTLSeconds > 86_400 {
		errs = append(errs, fmt.Errorf("invalid IDEMPOTENCY_TTL_SECONDS %d (must be 60..86400)", c.IdempotencyTTLSeconds))
	}
	if c.StepDelayMS < 0 || c.StepDelayMS > 5_000 {
		errs = append(errs, fmt.Errorf("invalid STEP_DELAY_MS %d (must be 0..5000)", c.StepDelayMS))
	}
	if c.FaultInjectRate < 0 || c.FaultInjectRate > 1 {
		errs = append(errs, fmt.Errorf("invalid FAULT_INJECT_RATE %v (must be 0..1)", c.FaultInjectRate))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
