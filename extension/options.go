package extension

import (
	tally "github.com/otimizaads/tally"
	"github.com/otimizaads/tally/plugin"
	"github.com/otimizaads/tally/provider"
	"github.com/otimizaads/tally/store"
)

// Option configures the Tally Forge extension.
type Option func(*Extension)

// WithStore sets the store for the core.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithCoreOption passes a tally.Option through to the underlying core.
func WithCoreOption(opt tally.Option) Option {
	return func(e *Extension) {
		e.coreOpts = append(e.coreOpts, opt)
	}
}

// WithPlugin registers a tally plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.coreOpts = append(e.coreOpts, tally.WithPlugin(p))
	}
}

// WithProvider sets the payment processor. A reconciler is constructed
// alongside the core when a provider is present.
func WithProvider(p provider.Provider) Option {
	return func(e *Extension) {
		e.coreOpts = append(e.coreOpts, tally.WithProvider(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for tally routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithFreePlan sets the fallback plan slug for users without a
// subscription.
func WithFreePlan(slug string) Option {
	return func(e *Extension) { e.config.FreePlan = slug }
}

// WithWebhookQueueSize sets the webhook work queue capacity.
func WithWebhookQueueSize(n int) Option {
	return func(e *Extension) { e.config.WebhookQueueSize = n }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
