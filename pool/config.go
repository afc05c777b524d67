package pool

import (
	"log/slog"
	"time"
)

// Config bounds a Pool's size and lifecycle timing (spec.md §4.4).
type Config struct {
	maxPoolSize             int
	minPoolSize             int
	maxConnecting           int
	maxWaitTime             time.Duration
	maxConnIdleTime         time.Duration
	maxConnLifeTime         time.Duration
	maintenanceInitialDelay time.Duration
	maintenanceFrequency    time.Duration
	logger                  *slog.Logger
	sessionPool             SessionPool
}

// Option configures a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		maxPoolSize:          100,
		minPoolSize:          0,
		maxConnecting:        2,
		maintenanceFrequency: 10 * time.Second,
		logger:               slog.Default(),
	}
}

// ApplyOptions builds a Config from the defaults plus every opt in
// order.
func ApplyOptions(opts ...Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithMaxPoolSize caps the total number of connections (idle + checked
// out) the pool will hold per server.
func WithMaxPoolSize(n int) Option { return func(c *Config) { c.maxPoolSize = n } }

// WithMinPoolSize sets the number of idle connections the maintenance
// loop tries to keep warm.
func WithMinPoolSize(n int) Option { return func(c *Config) { c.minPoolSize = n } }

// WithMaxConnecting bounds how many connections may be dialing
// concurrently (the MAX_CONNECTING semaphore).
func WithMaxConnecting(n int) Option { return func(c *Config) { c.maxConnecting = n } }

// WithMaxWaitTime bounds how long CheckOut blocks for a connection
// before failing, on top of whatever deadline ctx itself carries.
func WithMaxWaitTime(d time.Duration) Option { return func(c *Config) { c.maxWaitTime = d } }

// WithMaxConnIdleTime sets how long an idle connection may sit before
// the maintenance loop prunes it.
func WithMaxConnIdleTime(d time.Duration) Option { return func(c *Config) { c.maxConnIdleTime = d } }

// WithMaxConnLifeTime sets the maximum age of a connection regardless of
// use, after which the maintenance loop (or a check-out validation)
// prunes it.
func WithMaxConnLifeTime(d time.Duration) Option { return func(c *Config) { c.maxConnLifeTime = d } }

// WithMaintenance overrides the maintenance ticker's initial delay and
// steady-state frequency.
func WithMaintenance(initialDelay, frequency time.Duration) Option {
	return func(c *Config) {
		c.maintenanceInitialDelay = initialDelay
		c.maintenanceFrequency = frequency
	}
}

// WithLogger sets the structured logger used for maintenance-loop
// diagnostics (pruning, top-up dial failures). Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSessionPool attaches the client's server session pool so Close can
// hand it a surviving connection for a best-effort endSessions cleanup
// (spec.md §4.4). Left nil, Close skips this step entirely.
func WithSessionPool(sp SessionPool) Option {
	return func(c *Config) { c.sessionPool = sp }
}
