// Package app wires the Callweave subsystems into a running server.
//
// [New] assembles the per-deployment collaborators from the configuration
// and the provider set built by main: the backend tool client, the speech
// fallback, the background extractor, the post-call pipeline, and the
// [CallManager] that runs one engine per accepted media stream. [App.Run]
// serves the carrier webhook and stream endpoints until the context is
// cancelled, then drains in-flight calls before returning.
//
// For testing, inject fakes via functional options (WithBackend,
// WithSpeech, WithListener, …). When an option is not provided, New builds
// the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/callweave/callweave/internal/backend"
	"github.com/callweave/callweave/internal/config"
	"github.com/callweave/callweave/internal/dialog"
	"github.com/callweave/callweave/internal/engine"
	"github.com/callweave/callweave/internal/extract"
	"github.com/callweave/callweave/internal/health"
	"github.com/callweave/callweave/internal/observe"
	"github.com/callweave/callweave/internal/postcall"
	"github.com/callweave/callweave/internal/resilience"
	"github.com/callweave/callweave/internal/telephony"
	"github.com/callweave/callweave/pkg/provider/llm"
	"github.com/callweave/callweave/pkg/provider/stt"
	"github.com/callweave/callweave/pkg/provider/tts"
	"github.com/callweave/callweave/pkg/provider/vad"
	"github.com/callweave/callweave/pkg/types"
)

// shutdownTimeout bounds graceful shutdown: HTTP drain plus call drain.
const shutdownTimeout = 15 * time.Second

// Providers holds the provider instances built by main via the config
// registry. LLM, STT, and both TTS slots are required unless the
// corresponding collaborator is injected through an option.
type Providers struct {
	// LLM drives the main dialog turns.
	LLM llm.Provider

	// Extraction drives the background field extractor. Nil disables
	// extraction; the call still works, facts just arrive via handlers.
	Extraction llm.Provider

	// STT transcribes caller audio.
	STT stt.Provider

	// TTSPrimary and TTSFallback form the speech failover pair.
	TTSPrimary  tts.Provider
	TTSFallback tts.Provider

	// PrimaryVoice and FallbackVoice select each synthesizer's voice.
	PrimaryVoice  types.VoiceProfile
	FallbackVoice types.VoiceProfile

	// VAD detects caller speech for barge-in. Nil disables barge-in.
	VAD vad.Engine

	// Names label metrics; they never affect behavior.
	LLMName, ExtractionName, STTName, TTSName string
}

// App owns the server lifecycle. Construct with [New], run with [App.Run].
type App struct {
	cfg       *config.Config
	providers Providers

	metrics  *observe.Metrics
	health   *health.Handler
	speech   engine.Synthesizer
	toolExec engine.ToolDispatcher
	post     *postcall.Pipeline
	calls    *CallManager
	log      *slog.Logger

	listener   net.Listener
	configPath string
	logLevel   *slog.LevelVar

	// closers run in reverse order during Stop.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New]. Use these to inject test doubles
// or deployment-specific pieces.
type Option func(*App)

// WithBackend injects a tool dispatcher instead of building a backend
// client from the config.
func WithBackend(d engine.ToolDispatcher) Option {
	return func(a *App) { a.toolExec = d }
}

// WithSpeech injects a synthesizer instead of building the TTS fallback
// pair from the providers.
func WithSpeech(s engine.Synthesizer) Option {
	return func(a *App) { a.speech = s }
}

// WithPostCall injects a post-call pipeline instead of building one from
// the dashboard config.
func WithPostCall(p *postcall.Pipeline) Option {
	return func(a *App) { a.post = p }
}

// WithMetrics injects a metrics recorder. Without it, New uses the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener injects a pre-bound listener, typically from net.Listen in
// tests. Without it, Run binds cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithConfigPath enables hot reload of the reloadable config fields (log
// level, greeting, lexicon terms) by watching the file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevel hands the app the level var backing the process logger so
// config reloads can adjust verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New assembles an App. It is synchronous and does no I/O beyond what the
// injected collaborators do in their constructors.
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	if providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	if providers.STT == nil {
		return nil, errors.New("app: an STT provider is required")
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.toolExec == nil {
		a.toolExec = backend.NewClient(backend.Config{
			BaseURL: cfg.Backend.BaseURL,
			APIKey:  cfg.Backend.APIKey,
			Logger:  a.log,
		})
	}

	var speechBreaker *resilience.CircuitBreaker
	if a.speech == nil {
		if providers.TTSPrimary == nil || providers.TTSFallback == nil {
			return nil, errors.New("app: primary and fallback TTS providers are required")
		}
		fb := resilience.NewSpeechFallback(resilience.SpeechFallbackConfig{
			Primary:       providers.TTSPrimary,
			PrimaryVoice:  providers.PrimaryVoice,
			Fallback:      providers.TTSFallback,
			FallbackVoice: providers.FallbackVoice,
			OnFallback: func() {
				a.metrics.RecordTTSFallback(context.Background(), providers.TTSName)
			},
		})
		speechBreaker = fb.Breaker()
		a.speech = fb
	}

	if a.post == nil {
		var dash *postcall.Dashboard
		if cfg.Dashboard.Enabled() {
			dash = postcall.NewDashboard(postcall.DashboardConfig{
				JobsURL:       cfg.Dashboard.JobsURL,
				CallsURL:      cfg.Dashboard.CallsURL,
				AlertsURL:     cfg.Dashboard.AlertsURL,
				WebhookSecret: cfg.Dashboard.WebhookSecret,
				Logger:        a.log,
			})
		}
		a.post = postcall.NewPipeline(dash, cfg.Dashboard.UserEmail, a.log)
	}

	var extractor *extract.Extractor
	if providers.Extraction != nil {
		extractor = extract.New(providers.Extraction)
	} else {
		a.log.Warn("no extraction provider configured, background extraction disabled")
	}

	checkers := []health.Checker{
		{Name: "config", Check: func(context.Context) error { return config.Validate(cfg) }},
	}
	if speechBreaker != nil {
		checkers = append(checkers, health.Checker{
			Name: "tts_primary",
			Check: func(context.Context) error {
				if speechBreaker.State() == resilience.StateOpen {
					return errors.New("primary synthesis breaker open, serving fallback voice")
				}
				return nil
			},
		})
	}
	a.health = health.New(checkers...)

	a.calls = NewCallManager(CallManagerConfig{
		Engine: engine.Config{
			STT:            providers.STT,
			STTModel:       cfg.Providers.STT.Model,
			LLM:            providers.LLM,
			Extractor:      extractor,
			Speech:         a.speech,
			VAD:            providers.VAD,
			Backend:        a.toolExec,
			Machine:        dialog.NewMachine(a.log),
			Metrics:        a.metrics,
			LLMName:        providers.LLMName,
			ExtractionName: providers.ExtractionName,
			STTName:        providers.STTName,
			TTSName:        providers.TTSName,
		},
		PostCall: a.post,
		Agent:    cfg.Agent,
		Metrics:  a.metrics,
		Logger:   a.log,
	})

	return a, nil
}

// Calls exposes the call manager, mainly for tests and diagnostics.
func (a *App) Calls() *CallManager { return a.calls }

// Handler builds the HTTP surface: health probes, the Prometheus scrape
// endpoint, the carrier voice webhook, and the media-stream WebSocket.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/twiml", a.handleTwiML)
	mux.HandleFunc("GET /ws/twilio", a.handleMediaStream)
	return observe.Middleware(a.metrics)(mux)
}

// handleTwiML answers the carrier's inbound-call webhook with instructions
// to open a media stream back to this server. The carrier POSTs it but the
// same document also answers GET for manual checks.
func (a *App) handleTwiML(w http.ResponseWriter, r *http.Request) {
	host := a.cfg.Server.PublicHost
	if host == "" {
		host = r.Host
	}
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, `<Response><Connect><Stream url="wss://%s/ws/twilio" /></Connect></Response>`, host)
}

// handleMediaStream upgrades the carrier's WebSocket and blocks for the
// duration of the call; each stream gets its own engine.
func (a *App) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := telephony.Accept(w, r, a.log)
	if err != nil {
		a.log.Warn("media stream upgrade failed", "error", err)
		return
	}
	if err := a.calls.HandleCall(r.Context(), conn); err != nil &&
		!errors.Is(err, context.Canceled) {
		a.log.Warn("call handler returned error", "error", err)
	}
}

// Run serves HTTP until ctx is cancelled, then shuts the server down and
// drains active calls. It returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	l := a.listener
	if l == nil {
		var err error
		l, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfigChange)
		if err != nil {
			a.log.Warn("config hot reload disabled", "error", err)
		} else {
			a.closers = append(a.closers, func() error { w.Stop(); return nil })
		}
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.log.Info("server listening", "addr", l.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(l, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(l)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Warn("http shutdown incomplete", "error", err)
		}
		if err := a.calls.Drain(sctx); err != nil {
			a.log.Warn("shutdown with calls still active",
				"active", a.calls.Active(), "error", err)
		}
		return gctx.Err()
	})

	err := g.Wait()
	a.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop runs the registered closers in reverse order. Safe to call more
// than once; Run calls it on the way out.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}
	})
}

// applyConfigChange picks up the hot-reloadable fields from a changed
// config file: log level and agent settings. Everything else (providers,
// backend, listen address) requires a restart.
func (a *App) applyConfigChange(old, next *config.Config) {
	if a.logLevel != nil && next.Server.LogLevel != old.Server.LogLevel {
		a.logLevel.Set(next.Server.LogLevel.Level())
		a.log.Info("log level changed", "level", next.Server.LogLevel)
	}
	if next.Agent.Greeting != old.Agent.Greeting ||
		!equalStrings(next.Agent.LexiconTerms, old.Agent.LexiconTerms) {
		a.calls.SetAgent(next.Agent)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
