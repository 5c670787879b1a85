// Command callweave is the Callweave voice agent server: it answers the
// carrier's inbound-call webhook, holds the conversation over the media
// stream, and syncs every finished call to the operations dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/callweave/callweave/internal/app"
	"github.com/callweave/callweave/internal/config"
	"github.com/callweave/callweave/internal/observe"
	"github.com/callweave/callweave/pkg/provider/llm"
	"github.com/callweave/callweave/pkg/provider/llm/anyllm"
	oaillm "github.com/callweave/callweave/pkg/provider/llm/openai"
	"github.com/callweave/callweave/pkg/provider/stt"
	sttdeepgram "github.com/callweave/callweave/pkg/provider/stt/deepgram"
	"github.com/callweave/callweave/pkg/provider/tts"
	ttsdeepgram "github.com/callweave/callweave/pkg/provider/tts/deepgram"
	"github.com/callweave/callweave/pkg/provider/tts/inworld"
	"github.com/callweave/callweave/pkg/provider/vad"
	"github.com/callweave/callweave/pkg/provider/vad/energy"
	"github.com/callweave/callweave/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "callweave: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "callweave: %v\n", err)
		}
		return 1
	}

	level := &slog.LevelVar{}
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("callweave starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "callweave"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(cfg, providers,
		app.WithConfigPath(*configPath),
		app.WithLogLevel(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// The openai provider speaks the OpenAI SDK directly and supports JSON
	// mode, which the extractor needs. The remaining vendors route through
	// the unified any-llm client and share one pattern: optional APIKey +
	// optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})
	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}
	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttdeepgram.Option
		if entry.Model != "" {
			opts = append(opts, sttdeepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttdeepgram.WithLanguage(lang))
		}
		return sttdeepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("inworld", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []inworld.Option
		if entry.Model != "" {
			opts = append(opts, inworld.WithModel(entry.Model))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, inworld.WithSampleRate(rate))
		}
		return inworld.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("deepgram", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsdeepgram.Option
		if entry.Voice != "" {
			opts = append(opts, ttsdeepgram.WithVoice(entry.Voice))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, ttsdeepgram.WithSampleRate(rate))
		}
		return ttsdeepgram.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct. Every provider the call
// pipeline requires is constructed here; config validation has already
// guaranteed the keys exist.
func buildProviders(cfg *config.Config, reg *config.Registry) (app.Providers, error) {
	ps := app.Providers{
		LLMName:        cfg.Providers.LLM.Name,
		ExtractionName: cfg.Providers.Extraction.Name,
		STTName:        cfg.Providers.STT.Name,
		TTSName:        cfg.Providers.TTS.Primary.Name,
	}

	var err error
	if ps.LLM, err = reg.CreateLLM(cfg.Providers.LLM); err != nil {
		return ps, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if ps.Extraction, err = reg.CreateLLM(cfg.Providers.Extraction); err != nil {
		return ps, fmt.Errorf("create extraction provider %q: %w", cfg.Providers.Extraction.Name, err)
	}
	slog.Info("provider created", "kind", "extraction", "name", cfg.Providers.Extraction.Name)

	if ps.STT, err = reg.CreateSTT(cfg.Providers.STT); err != nil {
		return ps, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if ps.TTSPrimary, err = reg.CreateTTS(cfg.Providers.TTS.Primary); err != nil {
		return ps, fmt.Errorf("create primary tts provider %q: %w", cfg.Providers.TTS.Primary.Name, err)
	}
	ps.PrimaryVoice = voiceProfile(cfg.Providers.TTS.Primary)
	slog.Info("provider created", "kind", "tts", "role", "primary", "name", cfg.Providers.TTS.Primary.Name)

	if ps.TTSFallback, err = reg.CreateTTS(cfg.Providers.TTS.Fallback); err != nil {
		return ps, fmt.Errorf("create fallback tts provider %q: %w", cfg.Providers.TTS.Fallback.Name, err)
	}
	ps.FallbackVoice = voiceProfile(cfg.Providers.TTS.Fallback)
	slog.Info("provider created", "kind", "tts", "role", "fallback", "name", cfg.Providers.TTS.Fallback.Name)

	if ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("vad provider not registered, barge-in disabled", "name", cfg.Providers.VAD.Name)
		} else {
			return ps, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
		}
	}

	return ps, nil
}

// voiceProfile derives the synthesis voice from a TTS provider entry. The
// sample rate defaults to the speak APIs' 24 kHz PCM output; the engine
// resamples down to the carrier rate either way.
func voiceProfile(entry config.ProviderEntry) types.VoiceProfile {
	rate := optInt(entry.Options, "sample_rate")
	if rate == 0 {
		rate = 24000
	}
	return types.VoiceProfile{
		ID:         entry.Voice,
		Provider:   entry.Name,
		Model:      entry.Model,
		SampleRate: rate,
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML
// decodes small numbers as int; be tolerant of float64 from re-marshalled
// configs.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
