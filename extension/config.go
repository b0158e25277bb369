package extension

// Config holds the Tally extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tally" or "tally" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for tally routes (default: "/api").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// FreePlan is the slug of the plan evaluated for users without an
	// active subscription. Empty means entitlement checks for such users
	// fail with ErrNoFreePlan.
	FreePlan string `json:"free_plan" mapstructure:"free_plan" yaml:"free_plan"`

	// WebhookQueueSize is the capacity of the webhook work queue
	// (default: 256). Ingress responds 503 when the queue is full.
	WebhookQueueSize int `json:"webhook_queue_size" mapstructure:"webhook_queue_size" yaml:"webhook_queue_size"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WebhookQueueSize: 256,
	}
}
