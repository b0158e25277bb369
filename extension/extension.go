// Package extension provides the Forge extension adapter for Tally.
//
// It implements the forge.Extension interface to integrate Tally
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tally" or "tally" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	tally "github.com/otimizaads/tally"
	"github.com/otimizaads/tally/reconciler"
	"github.com/otimizaads/tally/store"
	"github.com/otimizaads/tally/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tally"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Entitlement and usage metering core"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Tally as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config   Config
	core     *tally.Core
	rec      *reconciler.Reconciler
	store    store.Store
	coreOpts []tally.Option
}

// New creates a new Tally Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Core returns the underlying Tally instance.
// This is nil until Register is called.
func (e *Extension) Core() *tally.Core { return e.core }

// Reconciler returns the webhook reconciler, nil when no payment provider
// was configured.
func (e *Extension) Reconciler() *reconciler.Reconciler { return e.rec }

// Register implements [forge.Extension]. It loads configuration,
// initializes the core, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts := e.buildCoreOpts()

	core := tally.New(e.store, opts...)
	e.core = core

	if prov := core.Provider(); prov != nil {
		recOpts := []reconciler.Option{}
		if e.config.WebhookQueueSize > 0 {
			recOpts = append(recOpts, reconciler.WithQueueSize(e.config.WebhookQueueSize))
		}
		e.rec = reconciler.New(e.store, prov, core.Plugins(), recOpts...)
	}

	return vessel.Provide(fapp.Container(), func() (*tally.Core, error) {
		return e.core, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.core == nil {
		return errors.New("tally: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.core.Start(ctx); err != nil {
			return err
		}
	}
	if e.rec != nil {
		e.rec.Start()
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	if e.rec != nil {
		if err := e.rec.Stop(ctx); err != nil {
			e.MarkStopped()
			return err
		}
	}
	if e.core != nil {
		if err := e.core.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("tally: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildCoreOpts constructs tally.Option values from the resolved config.
func (e *Extension) buildCoreOpts() []tally.Option {
	opts := make([]tally.Option, 0, len(e.coreOpts)+1)

	if e.config.FreePlan != "" {
		opts = append(opts, tally.WithFreePlan(e.config.FreePlan))
	}

	// Append any pass-through core options.
	opts = append(opts, e.coreOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tally: configuration is required but not found in config files; " +
				"ensure 'extensions.tally' or 'tally' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tally: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("free_plan", e.config.FreePlan),
		forge.F("webhook_queue_size", e.config.WebhookQueueSize),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.tally" first (namespaced pattern).
	if cm.IsSet("extensions.tally") {
		if err := cm.Bind("extensions.tally", &cfg); err == nil {
			e.Logger().Debug("tally: loaded config from file",
				forge.F("key", "extensions.tally"),
			)
			return cfg, true
		}
		e.Logger().Warn("tally: failed to bind extensions.tally config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "tally" key.
	if cm.IsSet("tally") {
		if err := cm.Bind("tally", &cfg); err == nil {
			e.Logger().Debug("tally: loaded config from file",
				forge.F("key", "tally"),
			)
			return cfg, true
		}
		e.Logger().Warn("tally: failed to bind tally config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.WebhookQueueSize == 0 {
		cfg.WebhookQueueSize = defaults.WebhookQueueSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.FreePlan == "" && programmaticConfig.FreePlan != "" {
		yamlConfig.FreePlan = programmaticConfig.FreePlan
	}

	// Int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.WebhookQueueSize == 0 && programmaticConfig.WebhookQueueSize != 0 {
		yamlConfig.WebhookQueueSize = programmaticConfig.WebhookQueueSize
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
