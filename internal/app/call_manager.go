package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/callweave/callweave/internal/config"
	"github.com/callweave/callweave/internal/dialog"
	"github.com/callweave/callweave/internal/engine"
	"github.com/callweave/callweave/internal/lexicon"
	"github.com/callweave/callweave/internal/observe"
	"github.com/callweave/callweave/internal/postcall"
	"github.com/callweave/callweave/internal/telephony"
	"github.com/callweave/callweave/pkg/types"
)

const (
	// postCallTimeout bounds the webhook sequence after the media stream
	// ends. The caller is gone by then; this only protects shutdown.
	postCallTimeout = time.Minute

	// drainPollInterval is how often Drain re-checks the active count.
	drainPollInterval = 50 * time.Millisecond

	// sttKeywordBoost is the recognition boost applied to every lexicon
	// term at stream start.
	sttKeywordBoost = 1.5
)

// agentSettings is the hot-reloadable slice of the configuration: the
// greeting, the lexicon corrector, and the derived STT keyword boosts.
// Each call snapshots the settings at handshake time; a config reload
// affects the next call, never one in flight.
type agentSettings struct {
	greeting  string
	corrector *lexicon.Corrector
	keywords  []types.KeywordBoost
}

// buildAgentSettings derives per-call settings from the agent config,
// falling back to the built-in greeting and HVAC vocabulary.
func buildAgentSettings(cfg config.AgentConfig) *agentSettings {
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = dialog.DefaultGreeting
	}
	terms := cfg.LexiconTerms
	if len(terms) == 0 {
		terms = lexicon.DefaultTerms
	}
	keywords := make([]types.KeywordBoost, 0, len(terms))
	for _, t := range terms {
		keywords = append(keywords, types.KeywordBoost{Keyword: t, Boost: sttKeywordBoost})
	}
	return &agentSettings{
		greeting:  greeting,
		corrector: lexicon.New(lexicon.WithTerms(terms)),
		keywords:  keywords,
	}
}

// CallManagerConfig carries the per-deployment collaborators shared by
// every call.
type CallManagerConfig struct {
	// Engine is the template for per-call engines. The manager fills the
	// per-call fields (greeting, corrector, keywords, logger) from the
	// current agent settings before each call.
	Engine engine.Config

	// PostCall runs after each call's media stream closes.
	PostCall *postcall.Pipeline

	// Agent seeds the initial hot-reloadable settings.
	Agent config.AgentConfig

	// Metrics records the active-call gauge. Nil is a no-op.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// CallManager runs one engine per accepted media stream and tracks the
// active set so shutdown can drain in-flight calls. All methods are safe
// for concurrent use.
type CallManager struct {
	engineCfg engine.Config
	post      *postcall.Pipeline
	metrics   *observe.Metrics
	log       *slog.Logger

	agent atomic.Pointer[agentSettings]

	mu     sync.Mutex
	active map[string]time.Time
}

// NewCallManager creates a CallManager from cfg.
func NewCallManager(cfg CallManagerConfig) *CallManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PostCall == nil {
		cfg.PostCall = postcall.NewPipeline(nil, "", cfg.Logger)
	}
	m := &CallManager{
		engineCfg: cfg.Engine,
		post:      cfg.PostCall,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		active:    make(map[string]time.Time),
	}
	m.agent.Store(buildAgentSettings(cfg.Agent))
	return m
}

// SetAgent swaps the hot-reloadable agent settings. Calls already in
// flight keep their snapshot.
func (m *CallManager) SetAgent(cfg config.AgentConfig) {
	m.agent.Store(buildAgentSettings(cfg))
	m.log.Info("agent settings reloaded",
		"customGreeting", cfg.Greeting != "",
		"lexiconTerms", len(cfg.LexiconTerms))
}

// Active returns the number of calls currently in flight.
func (m *CallManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// HandleCall owns one media stream from handshake to post-call sync. It
// returns when the call and its post-call pipeline have finished; the
// HTTP handler for the stream endpoint blocks on it by design.
func (m *CallManager) HandleCall(ctx context.Context, conn *telephony.Conn) error {
	defer conn.Close()

	info, err := conn.Handshake(ctx)
	if err != nil {
		m.log.Warn("media stream handshake failed", "error", err)
		return err
	}

	m.register(info.CallSID)
	defer m.unregister(info.CallSID)
	m.metrics.AddActiveCalls(ctx, 1)
	defer m.metrics.AddActiveCalls(ctx, -1)

	set := m.agent.Load()
	cfg := m.engineCfg
	cfg.Greeting = set.greeting
	cfg.Corrector = set.corrector
	cfg.STTKeywords = set.keywords
	cfg.Logger = m.log

	s, runErr := engine.New(cfg).Run(ctx, conn, info)
	if runErr != nil {
		m.log.Error("call ended with error", "callSid", info.CallSID, "error", runErr)
	}
	if s == nil {
		return runErr
	}

	// The post-call sequence must outlive the call context: a hangup
	// cancels the engine tasks, not the webhooks or the transcript dump.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCallTimeout)
	defer cancel()
	m.post.Run(pctx, s)

	return runErr
}

// Drain blocks until no calls are active or ctx expires. Used during
// graceful shutdown after the listener has stopped accepting streams.
func (m *CallManager) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		if m.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *CallManager) register(callSID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[callSID] = time.Now()
}

func (m *CallManager) unregister(callSID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, callSID)
}
