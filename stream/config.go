package stream

import (
	"crypto/tls"
	"time"
)

// Config holds socket- and TLS-level settings (spec.md §6: Socket and TLS
// configuration blocks). Open uses defaultConfig() when given a nil
// Config; callers build a Config with functional options,
// matching the teacher's options.go shape.
type Config struct {
	connectTimeout time.Duration
	readTimeout    time.Duration

	receiveBufferSize int
	sendBufferSize    int

	keepAlive      bool
	keepAlivePeriod time.Duration

	tlsEnabled             bool
	tlsConfig              *tls.Config
	invalidHostNameAllowed bool
}

// Option configures a Config.
type Option func(*Config)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
)

func defaultConfig() *Config {
	return &Config{
		connectTimeout:  defaultConnectTimeout,
		keepAlive:       true,
		keepAlivePeriod: defaultKeepAlive,
	}
}

// ApplyOptions builds a runtime Config by applying opts on top of
// defaults.
func ApplyOptions(opts ...Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithConnectTimeout bounds how long Open waits for a TCP handshake (and,
// if enabled, the TLS handshake) to complete.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithReadTimeout sets a socket-level read timeout applied in addition to
// any per-operation deadline from the caller's context.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.readTimeout = d }
}

// WithBufferSizes sets the OS socket receive/send buffer sizes. Zero
// leaves the OS default in place.
func WithBufferSizes(receive, send int) Option {
	return func(c *Config) {
		c.receiveBufferSize = receive
		c.sendBufferSize = send
	}
}

// WithKeepAlive enables TCP keep-alive probing at the given period. A
// non-positive period disables keep-alive.
func WithKeepAlive(period time.Duration) Option {
	return func(c *Config) {
		c.keepAlive = period > 0
		c.keepAlivePeriod = period
	}
}

// WithTLS enables TLS using the supplied configuration. If
// invalidHostNameAllowed is true, the handshake sets
// InsecureSkipVerify, which turns off certificate chain verification as
// well as the hostname check; there is no mode that skips only the
// hostname check.
func WithTLS(cfg *tls.Config, invalidHostNameAllowed bool) Option {
	return func(c *Config) {
		c.tlsEnabled = true
		c.tlsConfig = cfg.Clone()
		c.invalidHostNameAllowed = invalidHostNameAllowed
	}
}
