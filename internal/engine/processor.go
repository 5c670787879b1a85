package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/callweave/callweave/internal/dialog"
	"github.com/callweave/callweave/internal/extract"
	"github.com/callweave/callweave/internal/session"
	"github.com/callweave/callweave/pkg/provider/llm"
	"github.com/callweave/callweave/pkg/types"
)

const (
	// toolTimeout bounds a backend tool call. Tools keep this budget
	// even when the caller hangs up mid-call.
	toolTimeout = 10 * time.Second

	replyTemperature     = 0.7
	scopedReplyMaxTokens = 60
	scopedReplyContext   = 6
	extractionWindow     = 10
)

// callbackFallbackLine is spoken when the dialog model stops answering.
// No retry: the caller gets a human instead.
const callbackFallbackLine = "I'm sorry, I'm having some trouble on my end. " +
	"Let me have someone from our team call you right back."

// processor owns the call's Session. Every user turn, tool result,
// extraction merge, and reply failure passes through its run loop, so
// session mutation is single-threaded by construction.
type processor struct {
	e   *Engine
	s   *session.Session
	log *slog.Logger

	// cursor marks how much of the conversation has been folded into
	// the transcript. See captureAgentReplies.
	cursor int

	// ending is set once teardown is scheduled. Later turns are
	// dropped; extraction merges still land.
	ending   bool
	endTimer *time.Timer
}

func newProcessor(e *Engine, s *session.Session, log *slog.Logger) *processor {
	return &processor{e: e, s: s, log: log}
}

func (p *processor) run(ctx context.Context) error {
	for {
		var endC <-chan time.Time
		if p.endTimer != nil {
			endC = p.endTimer.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case proposals := <-p.e.extracted:
			extract.Merge(p.s, proposals)
		case <-p.e.replyErrs:
			p.replyFailed(ctx)
		case <-endC:
			return p.finish(ctx)
		case text := <-p.e.turns:
			if p.ending {
				p.log.Debug("dropping turn, call is ending", "text", text)
				continue
			}
			p.handleTurn(ctx, text)
		}
	}
}

// handleTurn applies one user turn to the dialog machine and carries
// out its verdict: canned speech, a tool call, a model reply, or the
// end of the call.
func (p *processor) handleTurn(ctx context.Context, text string) {
	p.captureAgentReplies()

	state := p.s.State
	p.e.cfg.Metrics.RecordAgentTurn(ctx, state.String())
	p.s.Transcript.AddUser(state, text)

	if state.IsTerminal() && dialog.TerminalScript(p.s) != "" {
		p.terminalTurn(ctx, text)
		return
	}

	act := p.e.cfg.Machine.Process(p.s, text)

	if act.Speak != "" {
		p.e.say(ctx, p.s, act.Speak)
	}

	forceReply := false
	if act.CallTool != nil {
		forceReply = p.dispatchTool(ctx, *act.CallTool)
	}

	switch {
	case forceReply:
		// The tool changed the dialog state, so the caller needs to
		// hear where things stand even if the handler did not ask for
		// a reply. Debounce first: finals often fragment around the
		// tool boundary.
		text = p.debounce(ctx, text)
		p.requestReply(ctx, text)
	case act.NeedsLLM:
		p.requestReply(ctx, text)
	case p.s.State == state:
		// No reply and no transition. Preserve the caller's words so
		// the model sees them on the next turn.
		p.s.Conversation.Append("user", text)
	}

	p.maybeExtract(ctx)

	if act.EndCall {
		delay := time.Duration(0)
		if act.NeedsLLM || forceReply {
			delay = p.e.cfg.EndDelay
		}
		p.scheduleEnd(delay)
	}
}

// terminalTurn serves a caller who keeps talking after the dialog
// reached a scripted terminal. The machine still runs (it files the
// callback ticket), the caller's remark gets at most one scoped reply
// for the whole call, and the closing script plays before the delayed
// end.
func (p *processor) terminalTurn(ctx context.Context, text string) {
	act := p.e.cfg.Machine.Process(p.s, text)
	if act.CallTool != nil {
		p.dispatchTool(ctx, *act.CallTool)
	}

	if !p.s.TerminalReplyUsed {
		if reply := p.scopedReply(ctx, text); reply != "" {
			p.s.TerminalReplyUsed = true
			p.e.say(ctx, p.s, reply)
		}
	}

	// The script reads the session after the tool result, so a ticket
	// filed this turn picks the right closing flavor.
	p.e.say(ctx, p.s, dialog.TerminalScript(p.s))
	p.scheduleEnd(p.e.cfg.EndDelay)
}

// scopedReply asks the model for one short answer under the restricted
// terminal-state prompt. Anything slow, failed, empty, or carrying
// booking language is dropped silently; the closing script carries the
// turn either way.
func (p *processor) scopedReply(ctx context.Context, text string) string {
	ctx, cancel := context.WithTimeout(ctx, p.e.cfg.ScopedReplyTimeout)
	defer cancel()

	msgs := append(p.s.Conversation.Tail(scopedReplyContext),
		types.Message{Role: "user", Content: text})
	start := time.Now()
	resp, err := p.e.cfg.LLM.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: dialog.ScopedReplyPrompt,
		Messages:     msgs,
		Temperature:  replyTemperature,
		MaxTokens:    scopedReplyMaxTokens,
	})
	if err != nil || resp == nil {
		p.log.Debug("scoped reply skipped", "error", err)
		return ""
	}
	p.e.cfg.Metrics.RecordLLMDuration(ctx, time.Since(start), p.e.cfg.LLMName, "scoped_reply")

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return ""
	}
	if dialog.ContainsBookingLanguage(reply) {
		p.log.Warn("scoped reply dropped, contains booking language", "reply", reply)
		return ""
	}
	return reply
}

// dispatchTool runs one backend tool and applies its result to the
// session. It reports whether the dialog state changed, which forces a
// model reply. The tool gets its own bounded context so a hangup does
// not abandon a ticket or booking already in flight.
func (p *processor) dispatchTool(ctx context.Context, call dialog.ToolCall) bool {
	before := p.s.State

	toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), toolTimeout)
	defer cancel()

	start := time.Now()
	result := p.e.cfg.Backend.Dispatch(toolCtx, p.s, call)
	p.e.cfg.Metrics.RecordToolDuration(ctx, time.Since(start), call.Name)
	p.e.cfg.Metrics.RecordToolCall(ctx, call.Name, toolStatus(result))

	p.s.Transcript.AddTool(before, call.Name, result)
	p.e.cfg.Machine.HandleToolResult(p.s, call.Name, result)
	return p.s.State != before
}

// debounce buffers trailing transcript fragments after a tool call so
// the model answers one complete thought. Fragments land in the
// transcript but bypass the machine: the tool already fired for this
// turn, and fragments must not burn the turn budget.
func (p *processor) debounce(ctx context.Context, text string) string {
	parts := []string{text}
	window := time.NewTimer(p.e.cfg.DebounceWindow)
	deadline := time.NewTimer(p.e.cfg.DebounceMax)
	defer window.Stop()
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return strings.Join(parts, " ")
		case more := <-p.e.turns:
			p.s.Transcript.AddUser(p.s.State, more)
			parts = append(parts, more)
			if !window.Stop() {
				select {
				case <-window.C:
				default:
				}
			}
			window.Reset(p.e.cfg.DebounceWindow)
		case proposals := <-p.e.extracted:
			extract.Merge(p.s, proposals)
		case <-window.C:
			return strings.Join(parts, " ")
		case <-deadline.C:
			return strings.Join(parts, " ")
		}
	}
}

// requestReply appends the caller's words to the conversation and
// queues a streamed completion. The reply loop appends the model's
// answer; the next capture pass folds it into the transcript.
func (p *processor) requestReply(ctx context.Context, text string) {
	p.s.Conversation.Append("user", text)
	req := replyRequest{
		conv: p.s.Conversation,
		gen:  p.e.playGen.Load(),
		req: llm.CompletionRequest{
			SystemPrompt: dialog.SystemPrompt(p.s),
			Messages:     p.s.Conversation.Snapshot(),
			Temperature:  replyTemperature,
		},
	}
	select {
	case p.e.replies <- req:
	case <-ctx.Done():
	}
}

// replyFailed handles a dead dialog model: no retry, one canned line,
// and the callback terminal so a human follows up.
func (p *processor) replyFailed(ctx context.Context) {
	if p.ending || p.s.State.IsTerminal() {
		p.log.Warn("dialog model failed during wrap-up")
		return
	}
	p.log.Warn("dialog model failed, routing caller to a callback")
	p.e.say(ctx, p.s, callbackFallbackLine)
	p.s.TransitionTo(session.StateCallback)
}

// maybeExtract starts a background extraction pass when the dialog sits
// in a fact-collection state. Results come back through the extracted
// channel and merge on this goroutine; failures cost a log line.
func (p *processor) maybeExtract(ctx context.Context) {
	if p.e.cfg.Extractor == nil || !extract.ShouldRun(p.s.State) {
		return
	}
	history := p.s.Conversation.Tail(extractionWindow)
	p.e.extractWG.Add(1)
	p.e.cfg.Metrics.AddActiveExtractions(ctx, 1)
	go func() {
		defer p.e.extractWG.Done()
		defer p.e.cfg.Metrics.AddActiveExtractions(ctx, -1)

		start := time.Now()
		proposals, err := p.e.cfg.Extractor.Extract(ctx, history)
		if err != nil {
			p.log.Debug("background extraction failed", "error", err)
			return
		}
		p.e.cfg.Metrics.RecordLLMDuration(ctx, time.Since(start), p.e.cfg.ExtractionName, "extraction")
		if proposals.Empty() {
			return
		}
		select {
		case p.e.extracted <- proposals:
		case <-ctx.Done():
		}
	}()
}

// scheduleEnd arms the teardown timer. The delay leaves room for an
// in-flight reply to reach the speech queue; the end marker then lines
// up behind it so the agent's last words play out.
func (p *processor) scheduleEnd(delay time.Duration) {
	if p.ending {
		return
	}
	p.ending = true
	p.log.Info("call end scheduled", "delay", delay, "state", p.s.State.String())
	p.endTimer = time.NewTimer(delay)
}

// finish pushes the end marker behind any queued speech and waits for
// the pump to reach it.
func (p *processor) finish(ctx context.Context) error {
	select {
	case p.e.speakQ <- speakItem{end: true}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-p.e.playbackDone:
		return errCallEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// captureAgentReplies folds conversation entries appended since the
// last capture into the transcript and marks the agent as having
// spoken, which lets the per-state turn counter advance.
func (p *processor) captureAgentReplies() {
	replies, cursor := p.s.Conversation.NewAssistantSince(p.cursor)
	p.cursor = cursor
	for _, reply := range replies {
		p.s.Transcript.AddAgent(p.s.State, reply)
		p.s.AgentHasResponded = true
	}
}

func toolStatus(result map[string]any) string {
	if msg, ok := result["error"].(string); ok && msg != "" {
		return "error"
	}
	return "ok"
}
