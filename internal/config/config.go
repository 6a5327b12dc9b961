// Package config provides configuration loading for rcad.
//
// Configuration is loaded from a YAML file and overridden by RCAD_-prefixed
// environment variables. Every section has defaults suitable for local
// development; only the credentials for enabled integrations are required.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete rcad configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Sentry      SentryConfig      `koanf:"sentry"`
	GitHub      GitHubConfig      `koanf:"github"`
	Oracle      OracleConfig      `koanf:"oracle"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Patterns    PatternsConfig    `koanf:"patterns"`
	Discovery   DiscoveryConfig   `koanf:"discovery"`
	Events      EventsConfig      `koanf:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	ReadTimeout     Duration `koanf:"read_timeout"`
	WriteTimeout    Duration `koanf:"write_timeout"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level    string `koanf:"level"`    // debug, info, warn, error
	Encoding string `koanf:"encoding"` // json or console
}

// TelemetryConfig holds OpenTelemetry tracing configuration.
// Metrics are exposed via Prometheus on /metrics regardless of this section.
type TelemetryConfig struct {
	Enabled       bool    `koanf:"enabled"`
	ServiceName   string  `koanf:"service_name"`
	Endpoint      string  `koanf:"endpoint"`
	Protocol      string  `koanf:"protocol"` // grpc or http/protobuf
	Insecure      bool    `koanf:"insecure"`
	SamplingRate  float64 `koanf:"sampling_rate"`
	TLSSkipVerify bool    `koanf:"tls_skip_verify"`
}

// SentryConfig holds the issue-source API configuration.
type SentryConfig struct {
	BaseURL      string   `koanf:"base_url"`
	Organization string   `koanf:"organization"`
	Token        Secret   `koanf:"token"`
	Timeout      Duration `koanf:"timeout"`
	// RequestsPerSecond throttles outbound API calls (Sentry enforces
	// org-wide rate limits; exceeding them fails whole scans).
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// GitHubConfig holds code-host and webhook configuration.
type GitHubConfig struct {
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	Token Secret `koanf:"token"`
	// BaseURL overrides the API endpoint for GitHub Enterprise installs.
	BaseURL string `koanf:"base_url"`
	// WebhookSecret verifies inbound webhook signatures. Empty means
	// dry-run: all payloads are accepted unverified.
	WebhookSecret Secret `koanf:"webhook_secret"`
	// PRMarker identifies pull requests created by this system. Webhook
	// events for PRs without the marker in title or body are ignored.
	PRMarker string `koanf:"pr_marker"`
	// Per-IP webhook rate limit.
	WebhookRPS   float64 `koanf:"webhook_rps"`
	WebhookBurst int     `koanf:"webhook_burst"`
}

// OracleConfig holds reasoning-oracle configuration.
type OracleConfig struct {
	Provider string `koanf:"provider"` // anthropic
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
	// MaxTokens caps a single response; turns cap whole conversations.
	MaxTokens int `koanf:"max_tokens"`
	// MaxAnalysisTurns bounds the analysis conversation; the dominant cost
	// of the system is oracle calls, so this is a hard cost ceiling.
	MaxAnalysisTurns int `koanf:"max_analysis_turns"`
	// MaxAdminTurns bounds short administrative round-trips (PR creation).
	MaxAdminTurns int `koanf:"max_admin_turns"`
	// ThinkingPreviewLen truncates forwarded thinking events.
	ThinkingPreviewLen int `koanf:"thinking_preview_len"`
	// MaxConcurrent bounds simultaneously running analyses.
	MaxConcurrent int64 `koanf:"max_concurrent"`
}

// VectorStoreConfig selects and configures the pattern store backing.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"` // chromem (default) or qdrant
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded chromem-go configuration.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant gRPC client configuration.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"` // gRPC port (6334), not the HTTP port
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
}

// EmbeddingsConfig selects the embedding provider for the vector store.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"` // fastembed (default) or tei
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"` // TEI only
	CacheDir string `koanf:"cache_dir"`
}

// PatternsConfig holds pattern store behavior configuration.
type PatternsConfig struct {
	// CacheTTL is the formatted-pattern read cache window. Within the
	// window repeated reads return byte-identical text, which keeps the
	// oracle's prompt prefix cacheable.
	CacheTTL Duration `koanf:"cache_ttl"`
	// TrackerPath is the bootstrap tracker sidecar file.
	TrackerPath string `koanf:"tracker_path"`
	// BootstrapMaxAgeDays is the re-bootstrap interval (default 180).
	BootstrapMaxAgeDays int `koanf:"bootstrap_max_age_days"`
	// Scrub runs pattern text through the secret scrubber before storage.
	Scrub bool `koanf:"scrub"`
	// AllowlistPath is an optional TOML scrub allowlist.
	AllowlistPath string `koanf:"allowlist_path"`
}

// DiscoveryConfig holds scan and auto-analysis configuration.
type DiscoveryConfig struct {
	MaxPages int `koanf:"max_pages"`
	PageSize int `koanf:"page_size"`
	// BatchLimit caps issues per auto-analyzed error-type group.
	BatchLimit int `koanf:"batch_limit"`
	// AutoPriorityThreshold and AutoCountThreshold select issues for
	// auto-analysis: priority >= threshold OR error count >= threshold.
	AutoPriorityThreshold int `koanf:"auto_priority_threshold"`
	AutoCountThreshold    int `koanf:"auto_count_threshold"`
	// StreamPollInterval is the SSE event-log poll interval.
	StreamPollInterval Duration `koanf:"stream_poll_interval"`
}

// EventsConfig holds the optional NATS lifecycle publisher configuration.
type EventsConfig struct {
	// NATSURL enables the publisher when non-empty.
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = Duration(30 * time.Second)
	}
	if cfg.Server.WriteTimeout == 0 {
		// SSE streams write for minutes; the echo handler manages its own
		// lifetime, so the server-level cap stays generous.
		cfg.Server.WriteTimeout = Duration(10 * time.Minute)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Encoding == "" {
		cfg.Logging.Encoding = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "rcad"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}

	if cfg.Sentry.BaseURL == "" {
		cfg.Sentry.BaseURL = "https://sentry.io/api/0"
	}
	if cfg.Sentry.Timeout == 0 {
		cfg.Sentry.Timeout = Duration(30 * time.Second)
	}
	if cfg.Sentry.RequestsPerSecond == 0 {
		cfg.Sentry.RequestsPerSecond = 5
	}
	if cfg.Sentry.Burst == 0 {
		cfg.Sentry.Burst = 10
	}

	if cfg.GitHub.PRMarker == "" {
		cfg.GitHub.PRMarker = "[rcad]"
	}
	if cfg.GitHub.WebhookRPS == 0 {
		cfg.GitHub.WebhookRPS = 10
	}
	if cfg.GitHub.WebhookBurst == 0 {
		cfg.GitHub.WebhookBurst = 20
	}

	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = "anthropic"
	}
	if cfg.Oracle.Model == "" {
		cfg.Oracle.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.Oracle.MaxTokens == 0 {
		cfg.Oracle.MaxTokens = 8192
	}
	if cfg.Oracle.MaxAnalysisTurns == 0 {
		cfg.Oracle.MaxAnalysisTurns = 20
	}
	if cfg.Oracle.MaxAdminTurns == 0 {
		cfg.Oracle.MaxAdminTurns = 5
	}
	if cfg.Oracle.ThinkingPreviewLen == 0 {
		cfg.Oracle.ThinkingPreviewLen = 200
	}
	if cfg.Oracle.MaxConcurrent == 0 {
		cfg.Oracle.MaxConcurrent = 4
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/rcad/patterns"
	}
	if cfg.VectorStore.Chromem.Collection == "" {
		cfg.VectorStore.Chromem.Collection = "rcad_patterns"
	}
	if cfg.VectorStore.Chromem.VectorSize == 0 {
		cfg.VectorStore.Chromem.VectorSize = 384 // bge-small-en-v1.5
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "rcad_patterns"
	}
	if cfg.VectorStore.Qdrant.VectorSize == 0 {
		cfg.VectorStore.Qdrant.VectorSize = 384
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}

	if cfg.Patterns.CacheTTL == 0 {
		cfg.Patterns.CacheTTL = Duration(300 * time.Second)
	}
	if cfg.Patterns.TrackerPath == "" {
		cfg.Patterns.TrackerPath = "~/.config/rcad/bootstrap_tracker.json"
	}
	if cfg.Patterns.BootstrapMaxAgeDays == 0 {
		cfg.Patterns.BootstrapMaxAgeDays = 180
	}

	if cfg.Discovery.MaxPages == 0 {
		cfg.Discovery.MaxPages = 10
	}
	if cfg.Discovery.PageSize == 0 {
		cfg.Discovery.PageSize = 100
	}
	if cfg.Discovery.BatchLimit == 0 {
		cfg.Discovery.BatchLimit = 5
	}
	if cfg.Discovery.AutoPriorityThreshold == 0 {
		cfg.Discovery.AutoPriorityThreshold = 5
	}
	if cfg.Discovery.AutoCountThreshold == 0 {
		cfg.Discovery.AutoCountThreshold = 5
	}
	if cfg.Discovery.StreamPollInterval == 0 {
		cfg.Discovery.StreamPollInterval = Duration(100 * time.Millisecond)
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "rca"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %q", c.Logging.Encoding)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry endpoint required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("invalid telemetry protocol: %q", c.Telemetry.Protocol)
		}
	}

	if c.Oracle.Provider != "anthropic" {
		return fmt.Errorf("unknown oracle provider: %q", c.Oracle.Provider)
	}
	if c.Oracle.MaxAnalysisTurns < 1 {
		return errors.New("oracle max_analysis_turns must be positive")
	}
	if c.Oracle.MaxAdminTurns < 1 {
		return errors.New("oracle max_admin_turns must be positive")
	}
	if c.Oracle.MaxConcurrent < 1 {
		return errors.New("oracle max_concurrent must be positive")
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vectorstore provider: %q", c.VectorStore.Provider)
	}

	switch c.Embeddings.Provider {
	case "fastembed", "tei":
	default:
		return fmt.Errorf("unknown embeddings provider: %q", c.Embeddings.Provider)
	}

	if c.Patterns.CacheTTL < 0 {
		return errors.New("patterns cache_ttl cannot be negative")
	}
	if c.Patterns.BootstrapMaxAgeDays < 1 {
		return errors.New("patterns bootstrap_max_age_days must be positive")
	}

	if c.Discovery.MaxPages < 1 {
		return errors.New("discovery max_pages must be positive")
	}
	if c.Discovery.BatchLimit < 1 {
		return errors.New("discovery batch_limit must be positive")
	}

	return nil
}
