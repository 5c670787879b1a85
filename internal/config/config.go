// Package config provides the configuration schema, loader, file watcher,
// and provider registry for the Callweave voice agent.
package config

import "log/slog"

// LogLevel controls log verbosity for the Callweave server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto the corresponding slog level. Unrecognised values map
// to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for Callweave.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// `${VAR}` references in the file are expanded from the environment before
// decoding, so secrets stay out of the file itself.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Carrier   CarrierConfig   `yaml:"carrier"`
	Providers ProvidersConfig `yaml:"providers"`
	Backend   BackendConfig   `yaml:"backend"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Agent     AgentConfig     `yaml:"agent"`
}

// ServerConfig holds network and logging settings for the Callweave server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Defaults to ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// PublicHost is the externally reachable hostname used when building the
	// media stream URL returned to the carrier (wss://<host>/ws/twilio).
	// When empty, the Host header of the incoming webhook request is used.
	PublicHost string `yaml:"public_host"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP
	// (typical behind a terminating proxy).
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// CarrierConfig holds the telephony carrier account credentials, used to
// validate inbound webhook signatures.
type CarrierConfig struct {
	// AccountSID identifies the carrier account.
	AccountSID string `yaml:"account_sid"`

	// AuthToken is the carrier account's webhook signing secret.
	AuthToken string `yaml:"auth_token"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	// LLM drives the main dialog turns.
	LLM ProviderEntry `yaml:"llm"`

	// Extraction drives the background field extractor and the post-call
	// classifier. When its name is empty, the LLM entry is reused with the
	// extraction model.
	Extraction ProviderEntry `yaml:"extraction"`

	// STT is the streaming speech-to-text service.
	STT ProviderEntry `yaml:"stt"`

	// TTS holds the primary synthesis provider and its fallback.
	TTS TTSProviders `yaml:"tts"`

	// VAD selects the voice activity detector used for barge-in.
	VAD ProviderEntry `yaml:"vad"`
}

// TTSProviders pairs the primary synthesis provider with the fallback that
// takes over when the primary's circuit opens.
type TTSProviders struct {
	Primary  ProviderEntry `yaml:"primary"`
	Fallback ProviderEntry `yaml:"fallback"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "deepgram", "inworld").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o",
	// "nova-2", "inworld-tts-1").
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier for synthesis
	// providers. Ignored by other provider kinds.
	Voice string `yaml:"voice"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above. Values may be strings, numbers, booleans,
	// or nested maps.
	Options map[string]any `yaml:"options"`
}

// BackendConfig points at the dispatch backend that owns availability,
// booking, pricing, and callback escalation.
type BackendConfig struct {
	// BaseURL is the backend's API root (e.g., "https://api.example.com").
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates tool calls against the backend.
	APIKey string `yaml:"api_key"`
}

// DashboardConfig holds the optional operations dashboard webhook targets.
// When no URL is configured the post-call sync quietly skips that target.
type DashboardConfig struct {
	// JobsURL receives booked-job payloads.
	JobsURL string `yaml:"jobs_url"`

	// CallsURL receives the per-call summary and transcript.
	CallsURL string `yaml:"calls_url"`

	// AlertsURL receives escalation alerts.
	AlertsURL string `yaml:"alerts_url"`

	// WebhookSecret signs outbound webhook payloads. Optional.
	WebhookSecret string `yaml:"webhook_secret"`

	// UserEmail attributes dashboard records to an operator account.
	UserEmail string `yaml:"user_email"`
}

// Enabled reports whether any dashboard target is configured.
func (d DashboardConfig) Enabled() bool {
	return d.JobsURL != "" || d.CallsURL != "" || d.AlertsURL != ""
}

// AgentConfig tunes the agent's conversational surface.
type AgentConfig struct {
	// Greeting overrides the default opening line. Hot-reloadable.
	Greeting string `yaml:"greeting"`

	// LexiconTerms overrides the default domain vocabulary used to correct
	// STT mishearings. Hot-reloadable.
	LexiconTerms []string `yaml:"lexicon_terms"`
}
