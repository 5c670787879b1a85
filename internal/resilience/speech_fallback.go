package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/callweave/callweave/pkg/audio"
	"github.com/callweave/callweave/pkg/provider/tts"
	"github.com/callweave/callweave/pkg/types"
)

// SpeechFallbackConfig wires a primary and a fallback synthesizer, each with
// its own voice, into a [SpeechFallback].
type SpeechFallbackConfig struct {
	Primary       tts.Provider
	PrimaryVoice  types.VoiceProfile
	Fallback      tts.Provider
	FallbackVoice types.VoiceProfile

	// FirstAudioTimeout bounds how long the primary may take to produce its
	// first audio chunk before the utterance fails over. Default: 5s.
	FirstAudioTimeout time.Duration

	// Breaker configures the circuit breaker guarding the primary.
	Breaker CircuitBreakerConfig

	// OnFallback, when set, is invoked once per utterance that is served by
	// the fallback provider. Used for failover metrics.
	OnFallback func()
}

// SpeechFallback synthesizes utterances with per-utterance failover.
//
// For each utterance the primary gets [SpeechFallbackConfig.FirstAudioTimeout]
// to produce its first audio chunk. Audio arriving in time means the primary
// is healthy: the chunk is flushed, the rest streams through, and the breaker
// records a success. A setup error, timeout, or stream exhaustion before any
// audio records a failure and the same utterance is re-synthesized by the
// fallback. Once the breaker opens, utterances go straight to the fallback
// until the cooldown elapses. A mid-stream stall after the first chunk is not
// recoverable for that utterance and does not count against the breaker.
//
// Emitted frames carry the producing provider's sample rate so the consumer
// can resample correctly even when the provider changes between utterances.
type SpeechFallback struct {
	primary       tts.Provider
	primaryVoice  types.VoiceProfile
	fallback      tts.Provider
	fallbackVoice types.VoiceProfile
	timeout       time.Duration
	breaker       *CircuitBreaker
	onFallback    func()

	activateOnce sync.Once
}

// NewSpeechFallback creates a [SpeechFallback] from cfg.
func NewSpeechFallback(cfg SpeechFallbackConfig) *SpeechFallback {
	if cfg.FirstAudioTimeout <= 0 {
		cfg.FirstAudioTimeout = 5 * time.Second
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "speech"
	}
	return &SpeechFallback{
		primary:       cfg.Primary,
		primaryVoice:  cfg.PrimaryVoice,
		fallback:      cfg.Fallback,
		fallbackVoice: cfg.FallbackVoice,
		timeout:       cfg.FirstAudioTimeout,
		breaker:       NewCircuitBreaker(cfg.Breaker),
		onFallback:    cfg.OnFallback,
	}
}

// Breaker exposes the primary's circuit breaker for health reporting.
func (f *SpeechFallback) Breaker() *CircuitBreaker {
	return f.breaker
}

// Speak synthesizes one utterance. The returned channel emits PCM frames at
// the producing provider's native sample rate and is closed when the
// utterance completes, fails on both providers, or ctx is cancelled.
func (f *SpeechFallback) Speak(ctx context.Context, utterance string) (<-chan audio.Frame, error) {
	out := make(chan audio.Frame, 8)
	go func() {
		defer close(out)
		if f.breaker.ShouldTry() {
			if f.tryPrimary(ctx, utterance, out) {
				return
			}
		} else {
			slog.Debug("speech breaker open, skipping primary")
		}
		f.runFallback(ctx, utterance, out)
	}()
	return out, nil
}

// tryPrimary reports true when the utterance was handled (audio delivered or
// ctx cancelled); false means the fallback should take over.
func (f *SpeechFallback) tryPrimary(ctx context.Context, utterance string, out chan<- audio.Frame) bool {
	stream, err := synthesizeOne(ctx, f.primary, utterance, f.primaryVoice)
	if err != nil {
		slog.Warn("primary speech synthesis failed to start", "error", err)
		f.breaker.RecordFailure()
		return false
	}

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-stream:
		if !ok {
			// Exhausted before producing any audio.
			slog.Warn("primary speech synthesis produced no audio")
			f.breaker.RecordFailure()
			return false
		}
		f.breaker.RecordSuccess()
		f.pump(ctx, chunk, stream, f.primaryVoice.SampleRate, out)
		return true

	case <-timer.C:
		slog.Warn("primary speech synthesis timed out waiting for first audio",
			"timeout", f.timeout)
		f.breaker.RecordFailure()
		go discard(stream)
		return false

	case <-ctx.Done():
		go discard(stream)
		return true
	}
}

func (f *SpeechFallback) runFallback(ctx context.Context, utterance string, out chan<- audio.Frame) {
	f.activateOnce.Do(func() {
		slog.Info("fallback speech provider activated")
	})
	if f.onFallback != nil {
		f.onFallback()
	}

	stream, err := synthesizeOne(ctx, f.fallback, utterance, f.fallbackVoice)
	if err != nil {
		slog.Error("speech synthesis failed on both providers", "error", err)
		return
	}

	select {
	case chunk, ok := <-stream:
		if !ok {
			slog.Error("speech synthesis failed on both providers: fallback produced no audio")
			return
		}
		f.pump(ctx, chunk, stream, f.fallbackVoice.SampleRate, out)
	case <-ctx.Done():
		go discard(stream)
	}
}

// pump forwards first and then the remainder of stream to out, tagging each
// chunk with the provider's sample rate.
func (f *SpeechFallback) pump(ctx context.Context, first []byte, stream <-chan []byte, rate int, out chan<- audio.Frame) {
	if !send(ctx, out, audio.Frame{Data: first, SampleRate: rate, Timestamp: time.Now()}) {
		go discard(stream)
		return
	}
	for chunk := range stream {
		if !send(ctx, out, audio.Frame{Data: chunk, SampleRate: rate, Timestamp: time.Now()}) {
			go discard(stream)
			return
		}
	}
}

// synthesizeOne starts a single-utterance synthesis stream on p.
func synthesizeOne(ctx context.Context, p tts.Provider, utterance string, voice types.VoiceProfile) (<-chan []byte, error) {
	text := make(chan string, 1)
	text <- utterance
	close(text)
	return p.SynthesizeStream(ctx, text, voice)
}

func send(ctx context.Context, out chan<- audio.Frame, frame audio.Frame) bool {
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// discard drains an abandoned synthesis stream so its producer can exit.
func discard(ch <-chan []byte) {
	for range ch {
	}
}
