package conn

import (
	"log/slog"
	"time"

	"github.com/atsika/dbwire/auth"
	"github.com/atsika/dbwire/opctx"
	"github.com/atsika/dbwire/wire"
)

// Config configures a Connection (spec.md §4.1/§4.3). Like the rest of
// this module it is built with the functional-options pattern: a
// private defaultConfig plus exported With* closures.
type Config struct {
	appName             string
	compressors         []wire.CompressorID
	maxMessageSizeBytes int32
	serverAPI           *opctx.ServerAPI
	handshakeTimeout    time.Duration
	driverName          string
	driverVersion       string
	logger              *slog.Logger
	credential          *auth.Credential
}

// Option configures a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		maxMessageSizeBytes: 48 * 1024 * 1024,
		handshakeTimeout:    10 * time.Second,
		driverName:          "dbwire",
		driverVersion:       "0.1.0",
		logger:              slog.Default(),
	}
}

// ApplyOptions builds a Config from a base default plus every opt in
// order.
func ApplyOptions(opts ...Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithAppName sets the application name reported in client metadata.
func WithAppName(name string) Option {
	return func(c *Config) { c.appName = name }
}

// WithCompressors sets the compressor preference order offered during
// handshake negotiation.
func WithCompressors(ids ...wire.CompressorID) Option {
	return func(c *Config) { c.compressors = ids }
}

// WithMaxMessageSize overrides the default 48 MiB ceiling used to
// validate inbound message headers.
func WithMaxMessageSize(n int32) Option {
	return func(c *Config) { c.maxMessageSizeBytes = n }
}

// WithServerAPI pins a server API version for every command on this
// connection.
func WithServerAPI(api *opctx.ServerAPI) Option {
	return func(c *Config) { c.serverAPI = api }
}

// WithHandshakeTimeout overrides the default 10s handshake deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.handshakeTimeout = d }
}

// WithDriverInfo overrides the driver name/version reported in client
// metadata (defaults to this module's own name).
func WithDriverInfo(name, version string) Option {
	return func(c *Config) { c.driverName, c.driverVersion = name, version }
}

// WithCredential configures SASL authentication to run immediately after
// the hello handshake (spec.md §4.3). Without this option (the default)
// no authentication runs, matching a server with no access control
// configured.
func WithCredential(cred auth.Credential) Option {
	return func(c *Config) { c.credential = &cred }
}

// WithLogger sets the structured logger used for handshake diagnostics.
// Per-command tracing belongs to event.CommandListener, not this logger.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
