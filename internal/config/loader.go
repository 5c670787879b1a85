package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "ollama", "mistral", "groq", "deepseek"},
	"stt": {"deepgram"},
	"tts": {"inworld", "deepgram"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// `${VAR}` references are expanded from the environment before decoding.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.Expand(string(raw), os.Getenv)

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills fields the rest of the system expects to be non-empty.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Providers.Extraction.Name == "" {
		cfg.Providers.Extraction.Name = cfg.Providers.LLM.Name
		if cfg.Providers.Extraction.APIKey == "" {
			cfg.Providers.Extraction.APIKey = cfg.Providers.LLM.APIKey
		}
		if cfg.Providers.Extraction.BaseURL == "" {
			cfg.Providers.Extraction.BaseURL = cfg.Providers.LLM.BaseURL
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found, so a
// misconfigured deployment reports every missing setting at once.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Carrier credentials
	if cfg.Carrier.AccountSID == "" {
		errs = append(errs, errors.New("carrier.account_sid is required"))
	}
	if cfg.Carrier.AuthToken == "" {
		errs = append(errs, errors.New("carrier.auth_token is required"))
	}

	// Providers
	if cfg.Providers.LLM.APIKey == "" {
		errs = append(errs, errors.New("providers.llm.api_key is required"))
	}
	if cfg.Providers.STT.APIKey == "" {
		errs = append(errs, errors.New("providers.stt.api_key is required"))
	}
	if cfg.Providers.TTS.Primary.APIKey == "" {
		errs = append(errs, errors.New("providers.tts.primary.api_key is required"))
	}
	if cfg.Providers.TTS.Fallback.APIKey == "" {
		errs = append(errs, errors.New("providers.tts.fallback.api_key is required"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.Extraction.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Primary.Name)
	validateProviderName("tts", cfg.Providers.TTS.Fallback.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// Backend
	switch {
	case cfg.Backend.BaseURL == "":
		errs = append(errs, errors.New("backend.base_url is required"))
	default:
		if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend.base_url %q is not an absolute URL", cfg.Backend.BaseURL))
		}
	}
	if cfg.Backend.APIKey == "" {
		errs = append(errs, errors.New("backend.api_key is required"))
	}

	// Dashboard is optional, but a secret with no targets is a likely typo.
	if !cfg.Dashboard.Enabled() && cfg.Dashboard.WebhookSecret != "" {
		slog.Warn("dashboard.webhook_secret is set but no dashboard URLs are configured; post-call sync will skip the dashboard")
	}
	for _, target := range []struct{ name, u string }{
		{"dashboard.jobs_url", cfg.Dashboard.JobsURL},
		{"dashboard.calls_url", cfg.Dashboard.CallsURL},
		{"dashboard.alerts_url", cfg.Dashboard.AlertsURL},
	} {
		if target.u == "" {
			continue
		}
		if u, err := url.Parse(target.u); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute URL", target.name, target.u))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
