// Package engine runs one phone call end to end: caller audio in, agent
// speech out, with the dialog machine deciding every move in between.
//
// [Engine.Run] wires the per-call task set. The feed loop pumps carrier
// frames into the transcription session and the barge-in detector; the
// finals loop corrects committed transcripts and queues them as turns;
// the processor applies each turn to the dialog machine and is the only
// goroutine allowed to touch the Session; the reply loop streams model
// output and cuts it into sentence-sized utterances; the pump plays
// utterances to the carrier in order. A single playback generation
// counter ties them together: barge-in bumps it, and anything queued or
// streaming under an older generation is dropped unplayed.
//
// An Engine serves exactly one call. Create one per accepted stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/callweave/callweave/internal/dialog"
	"github.com/callweave/callweave/internal/extract"
	"github.com/callweave/callweave/internal/lexicon"
	"github.com/callweave/callweave/internal/observe"
	"github.com/callweave/callweave/internal/session"
	"github.com/callweave/callweave/internal/telephony"
	"github.com/callweave/callweave/pkg/audio"
	"github.com/callweave/callweave/pkg/provider/llm"
	"github.com/callweave/callweave/pkg/provider/stt"
	"github.com/callweave/callweave/pkg/provider/vad"
	"github.com/callweave/callweave/pkg/types"
)

const (
	defaultDebounceWindow     = 1500 * time.Millisecond
	defaultDebounceMax        = 5 * time.Second
	defaultEndDelay           = 3 * time.Second
	defaultScopedReplyTimeout = 2 * time.Second

	// sttEndpointingMs is how long the transcription provider waits on
	// silence before committing a final.
	sttEndpointingMs = 300

	vadFrameMs          = 20
	vadSpeechThreshold  = 0.5
	vadSilenceThreshold = 0.35
)

// errCallEnded signals normal call termination through the task group.
var errCallEnded = errors.New("engine: call ended")

// Transport is the carrier-facing half of a call. *telephony.Conn
// satisfies it; tests substitute a local fake.
type Transport interface {
	// Frames delivers decoded 20 ms PCM frames of caller audio. The
	// channel closes when the carrier stops the stream or the socket
	// drops, which is the end-of-call signal.
	Frames() <-chan audio.Frame

	// Speak plays one utterance of PCM at the carrier rate, paced in
	// real time. It returns early without error when playback is
	// cleared mid-utterance.
	Speak(ctx context.Context, pcm []byte) error

	// Clear tells the carrier to flush any buffered agent audio.
	Clear(ctx context.Context) error
}

// Synthesizer produces the agent's voice one utterance at a time.
// *resilience.SpeechFallback satisfies it.
type Synthesizer interface {
	Speak(ctx context.Context, utterance string) (<-chan audio.Frame, error)
}

// ToolDispatcher executes machine-ordered backend tools and always
// returns a result document. *backend.Client satisfies it.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, s *session.Session, call dialog.ToolCall) map[string]any
}

// Config carries the per-call collaborators. STT, LLM, Speech, and
// Backend are required; everything else degrades gracefully when nil.
type Config struct {
	// STT transcribes caller audio. Required.
	STT stt.Provider
	// STTModel and STTKeywords are passed through to the stream config.
	STTModel    string
	STTKeywords []types.KeywordBoost

	// LLM generates agent dialog. Required.
	LLM llm.Provider

	// Extractor runs background fact extraction. Nil disables it.
	Extractor *extract.Extractor

	// Speech synthesizes agent utterances. Required.
	Speech Synthesizer

	// VAD detects caller speech for barge-in. Nil disables barge-in.
	VAD vad.Engine

	// Backend executes dialog tool calls. Required.
	Backend ToolDispatcher

	// Machine is the dialog state machine. Defaults to a fresh one.
	Machine *dialog.Machine

	// Corrector rewrites misheard domain terms in finals. Nil disables.
	Corrector *lexicon.Corrector

	// Metrics records instrument values. Nil is a no-op.
	Metrics *observe.Metrics

	// Greeting is the agent's opening line. Defaults to
	// [dialog.DefaultGreeting].
	Greeting string

	// Provider names label metrics; they never affect behavior.
	LLMName        string
	ExtractionName string
	STTName        string
	TTSName        string

	// DebounceWindow is the idle gap that closes a fragmented turn
	// after a tool call, and DebounceMax caps the total wait.
	DebounceWindow time.Duration
	DebounceMax    time.Duration

	// EndDelay is how long teardown waits for an in-flight model reply
	// before queueing the end marker.
	EndDelay time.Duration

	// ScopedReplyTimeout bounds the one synchronous completion allowed
	// in a terminal state.
	ScopedReplyTimeout time.Duration

	Logger *slog.Logger
}

// speakItem is one queued utterance. Items whose generation is stale by
// the time the pump reaches them are skipped. end marks the teardown
// sentinel: everything queued before it plays first.
type speakItem struct {
	text string
	gen  int64
	end  bool
}

// replyRequest asks the reply loop for one streamed completion. The
// full reply text lands in conv so the next capture pass sees it.
type replyRequest struct {
	req  llm.CompletionRequest
	conv *session.Conversation
	gen  int64
}

// Engine is the per-call runtime. Zero value is not usable; construct
// with [New].
type Engine struct {
	cfg Config
	log *slog.Logger

	// playGen is the current playback generation. Barge-in bumps it.
	playGen atomic.Int64
	// speaking is true while the pump has an utterance in flight.
	speaking atomic.Bool

	turns     chan string
	extracted chan extract.Proposals
	speakQ    chan speakItem
	replies   chan replyRequest
	replyErrs chan struct{}

	playbackDone chan struct{}
	doneOnce     sync.Once

	extractWG sync.WaitGroup
}

// New builds an Engine for a single call, applying defaults for any
// zero-valued knobs.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Machine == nil {
		cfg.Machine = dialog.NewMachine(cfg.Logger)
	}
	if cfg.Greeting == "" {
		cfg.Greeting = dialog.DefaultGreeting
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = defaultDebounceWindow
	}
	if cfg.DebounceMax <= 0 {
		cfg.DebounceMax = defaultDebounceMax
	}
	if cfg.EndDelay <= 0 {
		cfg.EndDelay = defaultEndDelay
	}
	if cfg.ScopedReplyTimeout <= 0 {
		cfg.ScopedReplyTimeout = defaultScopedReplyTimeout
	}
	return &Engine{
		cfg:          cfg,
		log:          cfg.Logger,
		turns:        make(chan string, 8),
		extracted:    make(chan extract.Proposals, 4),
		speakQ:       make(chan speakItem, 16),
		replies:      make(chan replyRequest, 4),
		replyErrs:    make(chan struct{}, 1),
		playbackDone: make(chan struct{}),
	}
}

// Run drives the call until the caller hangs up, the dialog reaches a
// terminal end, or ctx is cancelled. It always returns the session so
// the post-call pipeline can run even after an error.
func (e *Engine) Run(ctx context.Context, conn Transport, info telephony.StartInfo) (*session.Session, error) {
	if e.cfg.STT == nil || e.cfg.LLM == nil || e.cfg.Speech == nil || e.cfg.Backend == nil {
		return nil, errors.New("engine: config requires STT, LLM, Speech, and Backend")
	}

	s := session.New(info.CallSID, info.From)
	log := e.log.With("callSid", info.CallSID, "streamSid", info.StreamSID)
	log.Info("call started", "from", info.From)

	sttSession, err := e.cfg.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate:     telephony.SampleRate,
		Encoding:       "linear16",
		Channels:       1,
		Model:          e.cfg.STTModel,
		Language:       "en-US",
		Keywords:       e.cfg.STTKeywords,
		EndpointingMs:  sttEndpointingMs,
		InterimResults: true,
		Punctuate:      true,
	})
	if err != nil {
		e.cfg.Metrics.RecordProviderError(ctx, e.cfg.STTName, "stt")
		return s, fmt.Errorf("engine: start transcription: %w", err)
	}
	defer sttSession.Close()
	e.cfg.Metrics.RecordProviderRequest(ctx, e.cfg.STTName, "stt", "ok")

	var vadSession vad.SessionHandle
	if e.cfg.VAD != nil {
		vadSession, err = e.cfg.VAD.NewSession(vad.Config{
			SampleRate:       telephony.SampleRate,
			FrameSizeMs:      vadFrameMs,
			SpeechThreshold:  vadSpeechThreshold,
			SilenceThreshold: vadSilenceThreshold,
		})
		if err != nil {
			log.Warn("voice activity detection unavailable, barge-in disabled", "error", err)
			vadSession = nil
		} else {
			defer vadSession.Close()
		}
	}

	proc := newProcessor(e, s, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.feedLoop(gctx, conn, sttSession, vadSession, log) })
	g.Go(func() error { return e.finalsLoop(gctx, sttSession, log) })
	g.Go(func() error { return proc.run(gctx) })
	g.Go(func() error { return e.pumpLoop(gctx, conn, log) })
	g.Go(func() error { return e.replyLoop(gctx, log) })

	// The greeting is the agent's first line. Like every agent line it
	// enters through the conversation, so the first capture pass lands
	// it in the transcript.
	e.say(gctx, s, e.cfg.Greeting)

	err = g.Wait()
	e.extractWG.Wait()

	// Anything the agent said after the last user turn (closing script,
	// final reply) has not been captured yet.
	proc.captureAgentReplies()

	if errors.Is(err, errCallEnded) || errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("call finished",
		"finalState", s.State.String(),
		"turns", s.TurnCount,
		"duration", s.Duration().Round(time.Second))
	return s, err
}

// say queues line for synthesis and appends it to the conversation.
// Agent speech reaches the transcript only through the conversation
// capture pass, so canned lines and model replies take the same path.
func (e *Engine) say(ctx context.Context, s *session.Session, line string) {
	if line == "" {
		return
	}
	s.Conversation.Append("assistant", line)
	e.enqueueSpeech(ctx, line, e.playGen.Load())
}

func (e *Engine) enqueueSpeech(ctx context.Context, line string, gen int64) {
	select {
	case e.speakQ <- speakItem{text: line, gen: gen}:
	case <-ctx.Done():
	}
}

// feedLoop forwards caller frames to the transcription session and runs
// each through the barge-in detector. The frame channel closing is the
// carrier's hangup signal.
func (e *Engine) feedLoop(ctx context.Context, conn Transport, sttSession stt.SessionHandle, vadSession vad.SessionHandle, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-conn.Frames():
			if !ok {
				log.Info("caller audio ended")
				return errCallEnded
			}
			if vadSession != nil {
				e.detectBargeIn(ctx, conn, vadSession, frame.Data, log)
			}
			if err := sttSession.SendAudio(frame.Data); err != nil {
				log.Debug("transcription feed failed", "error", err)
			}
		}
	}
}

// detectBargeIn clears agent playback when the caller starts speaking
// over it. Bumping the generation first means the pump drops queued
// utterances before the carrier even acknowledges the clear.
func (e *Engine) detectBargeIn(ctx context.Context, conn Transport, vadSession vad.SessionHandle, pcm []byte, log *slog.Logger) {
	event, err := vadSession.ProcessFrame(pcm)
	if err != nil {
		log.Debug("voice activity detection failed", "error", err)
		return
	}
	if event.Type != vad.VADSpeechStart || !e.speaking.Load() {
		return
	}
	e.playGen.Add(1)
	if err := conn.Clear(ctx); err != nil {
		log.Debug("clear failed during barge-in", "error", err)
	}
	e.cfg.Metrics.RecordBargeIn(ctx)
	log.Debug("caller barged in, dropping agent audio")
}

// finalsLoop turns committed transcripts into dialog turns. Partials
// are drained but drive nothing; barge-in is the detector's job.
func (e *Engine) finalsLoop(ctx context.Context, sttSession stt.SessionHandle, log *slog.Logger) error {
	finals := sttSession.Finals()
	partials := sttSession.Partials()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-partials:
			if !ok {
				partials = nil
			}
		case tr, ok := <-finals:
			if !ok {
				log.Warn("transcription stream ended")
				return errCallEnded
			}
			text := strings.TrimSpace(tr.Text)
			if text == "" {
				continue
			}
			if e.cfg.Corrector != nil {
				corrected, fixes := e.cfg.Corrector.Correct(text)
				for _, fix := range fixes {
					log.Debug("lexicon corrected transcript",
						"from", fix.Original,
						"to", fix.Corrected,
						"confidence", fix.Confidence)
				}
				text = corrected
			}
			select {
			case e.turns <- text:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// replyLoop serves reply requests one at a time, in order.
func (e *Engine) replyLoop(ctx context.Context, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-e.replies:
			e.streamReply(ctx, req, log)
		}
	}
}

// streamReply runs one streamed completion, queueing each complete
// sentence for synthesis as soon as it lands so playback starts before
// the model finishes. A failure before any text signals the processor
// to route the caller to a callback; a mid-reply failure keeps the
// partial text.
func (e *Engine) streamReply(ctx context.Context, req replyRequest, log *slog.Logger) {
	if req.gen != e.playGen.Load() {
		log.Debug("skipping stale reply request")
		return
	}

	start := time.Now()
	chunks, err := e.cfg.LLM.StreamCompletion(ctx, req.req)
	if err != nil {
		e.cfg.Metrics.RecordProviderError(ctx, e.cfg.LLMName, "llm")
		log.Error("dialog model unavailable", "error", err)
		e.notifyReplyFailure()
		return
	}

	var full, pending strings.Builder
	failed := false
	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			failed = true
			break
		}
		if chunk.Text == "" {
			continue
		}
		full.WriteString(chunk.Text)
		pending.WriteString(chunk.Text)
		e.flushSentences(ctx, &pending, req.gen, false)
	}
	if failed {
		go audio.Drain(chunks)
	} else {
		e.flushSentences(ctx, &pending, req.gen, true)
	}

	reply := strings.TrimSpace(full.String())
	if failed && reply == "" {
		e.cfg.Metrics.RecordProviderError(ctx, e.cfg.LLMName, "llm")
		log.Error("dialog model stream failed before any text")
		e.notifyReplyFailure()
		return
	}
	if failed {
		log.Warn("dialog model stream failed mid-reply, keeping partial text")
	}
	if reply == "" {
		log.Debug("dialog model returned an empty reply")
		return
	}

	req.conv.Append("assistant", reply)
	e.cfg.Metrics.RecordLLMDuration(ctx, time.Since(start), e.cfg.LLMName, "dialog")
	e.cfg.Metrics.RecordProviderRequest(ctx, e.cfg.LLMName, "llm", "ok")
}

// flushSentences cuts complete sentences off pending and queues each
// for synthesis. With final set, whatever remains flushes as the last
// fragment.
func (e *Engine) flushSentences(ctx context.Context, pending *strings.Builder, gen int64, final bool) {
	text := pending.String()
	for {
		cut := sentenceBoundary(text)
		if cut < 0 {
			break
		}
		sentence := strings.TrimSpace(text[:cut+1])
		text = strings.TrimLeft(text[cut+1:], " \t\r\n")
		if sentence != "" {
			e.enqueueSpeech(ctx, sentence, gen)
		}
	}
	if final {
		if rest := strings.TrimSpace(text); rest != "" {
			e.enqueueSpeech(ctx, rest, gen)
		}
		text = ""
	}
	pending.Reset()
	pending.WriteString(text)
}

// sentenceBoundary returns the index of the first '.', '!' or '?' that
// is followed by whitespace, or -1. Terminal punctuation at the very
// end of the buffer is not a boundary; the end-of-stream flush takes
// it, so "9 a.m." is not cut after "a.".
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\t', '\n', '\r':
				return i
			}
		}
	}
	return -1
}

// notifyReplyFailure wakes the processor at most once per pending
// failure; the channel holds one signal and extras collapse into it.
func (e *Engine) notifyReplyFailure() {
	select {
	case e.replyErrs <- struct{}{}:
	default:
	}
}

// pumpLoop plays queued utterances in order, skipping any whose
// generation went stale while they waited.
func (e *Engine) pumpLoop(ctx context.Context, conn Transport, log *slog.Logger) error {
	resampler := audio.NewStreamResampler(telephony.SampleRate)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-e.speakQ:
			if item.end {
				e.signalPlaybackDone()
				continue
			}
			if item.gen != e.playGen.Load() {
				log.Debug("skipping stale utterance", "text", item.text)
				continue
			}
			e.playUtterance(ctx, conn, resampler, item, log)
		}
	}
}

// playUtterance synthesizes one utterance, buffers it at the carrier
// rate, and plays it in a single Speak call so pacing and clearing stay
// the transport's problem. Synthesis failures cost a silent turn, not
// the call.
func (e *Engine) playUtterance(ctx context.Context, conn Transport, resampler *audio.StreamResampler, item speakItem, log *slog.Logger) {
	e.speaking.Store(true)
	defer e.speaking.Store(false)

	start := time.Now()
	frames, err := e.cfg.Speech.Speak(ctx, item.text)
	if err != nil {
		e.cfg.Metrics.RecordProviderError(ctx, e.cfg.TTSName, "tts")
		log.Error("speech synthesis failed, turn is silent", "error", err)
		return
	}

	var pcm []byte
	for frame := range frames {
		if item.gen != e.playGen.Load() {
			go audio.Drain(frames)
			return
		}
		pcm = append(pcm, resampler.Resample(frame.Data, frame.SampleRate)...)
	}
	resampler.Reset()
	if len(pcm) == 0 {
		log.Warn("speech synthesis produced no audio, turn is silent")
		return
	}
	e.cfg.Metrics.RecordTTSDuration(ctx, time.Since(start), e.cfg.TTSName)

	if err := conn.Speak(ctx, pcm); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug("playback ended early", "error", err)
	}
}

func (e *Engine) signalPlaybackDone() {
	e.doneOnce.Do(func() { close(e.playbackDone) })
}
