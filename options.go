package probez

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Option configures a Provider.
type Option func(*providerConfig)

type providerConfig struct {
	backend  Backend
	logger   zerolog.Logger
	module   string
	identity string
	explicit uuid.UUID
	scope    IdentityScope
	maxArgs  int
}

func defaultProviderConfig() providerConfig {
	return providerConfig{
		logger:  zerolog.Nop(),
		maxArgs: MaxArgs,
	}
}

// WithModule sets the optional module name.
func WithModule(module string) Option {
	return func(c *providerConfig) {
		c.module = module
	}
}

// WithIdentity sets an explicit provider identity, bypassing derivation.
func WithIdentity(id uuid.UUID) Option {
	return func(c *providerConfig) {
		c.explicit = id
	}
}

// WithIdentityString sets an explicit identity in GUID text form.
// Parsing errors surface from NewProvider.
func WithIdentityString(id string) Option {
	return func(c *providerConfig) {
		c.identity = id
	}
}

// WithIdentityScope selects what a derived identity is computed from.
func WithIdentityScope(scope IdentityScope) Option {
	return func(c *providerConfig) {
		c.scope = scope
	}
}

// WithBackend binds the provider to a specific backend instead of the
// process default.
func WithBackend(b Backend) Option {
	return func(c *providerConfig) {
		c.backend = b
	}
}

// WithLogger sets the logger for lifecycle events. Firing never logs.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *providerConfig) {
		c.logger = logger
	}
}

// WithMaxArgs lowers the per-probe argument limit. Values outside
// 1..MaxArgs are ignored.
func WithMaxArgs(n int) Option {
	return func(c *providerConfig) {
		if n > 0 && n <= MaxArgs {
			c.maxArgs = n
		}
	}
}
