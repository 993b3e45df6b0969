package config

import "time"

// CortexConfig controls shared model routing for all LLM consumers
// (distiller, future summarizers).
type CortexConfig struct {
	// DefaultModel is the system default when no override or task policy
	// applies.
	DefaultModel string `yaml:"default_model"`

	// FallbackModels is the ordered chain tried after the selected model
	// fails with a retryable error.
	FallbackModels []string `yaml:"fallback_models"`

	// TaskPolicies maps task kind (e.g. "distill") to a preferred model.
	TaskPolicies map[string]string `yaml:"task_policies"`

	// MaxAttempts bounds the total attempts across the fallback chain.
	MaxAttempts int `yaml:"max_attempts"`

	// RequestTimeout is the per-attempt deadline.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultCortexConfig returns the built-in cortex defaults.
func DefaultCortexConfig() *CortexConfig {
	return &CortexConfig{
		DefaultModel:   "claude-sonnet-4-5",
		FallbackModels: []string{"claude-haiku-4-5"},
		TaskPolicies:   map[string]string{},
		MaxAttempts:    3,
		RequestTimeout: 60 * time.Second,
	}
}

// StoreConfig locates the embedded store and the parallel metrics store.
type StoreConfig struct {
	// Path is the main SQLite database file. ":memory:" is accepted for
	// tests.
	Path string `yaml:"path"`

	// MetricsPath is the separate append-only metrics database.
	MetricsPath string `yaml:"metrics_path"`
}

// DefaultStoreConfig returns the built-in store defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Path:        "./axon.db",
		MetricsPath: "./metrics.db",
	}
}

// SynapseConfig controls message bus delivery.
type SynapseConfig struct {
	// ExternalWebhookURL is the guaranteed external channel endpoint
	// (SMS-gateway-like). Empty disables external delivery; tier-3
	// escalations then log a delivery failure but still hit the bus.
	ExternalWebhookURL string `yaml:"external_webhook_url"`

	// ExternalTokenEnv names the env var holding the webhook bearer
	// token. Empty means unauthenticated.
	ExternalTokenEnv string `yaml:"external_token_env"`

	// DeliveryTimeout bounds a single external delivery attempt.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`

	// LogRetention is how long persisted bus messages are kept for
	// websocket catchup.
	LogRetention time.Duration `yaml:"log_retention"`
}

// DefaultSynapseConfig returns the built-in synapse defaults.
func DefaultSynapseConfig() *SynapseConfig {
	return &SynapseConfig{
		ExternalWebhookURL: "",
		ExternalTokenEnv:   "AXON_EXTERNAL_TOKEN",
		DeliveryTimeout:    10 * time.Second,
		LogRetention:       72 * time.Hour,
	}
}

// APIConfig controls the operator HTTP server.
type APIConfig struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// AllowedWSOrigins restricts websocket upgrade origins. Empty allows
	// same-origin only.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// DefaultAPIConfig returns the built-in API defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		ListenAddr:       ":8090",
		AllowedWSOrigins: []string{},
	}
}
