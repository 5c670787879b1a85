// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Inworld or Deepgram
// Aura) and presents a uniform streaming interface. The primary entry point
// is SynthesizeStream, which accepts a channel of text fragments and returns
// a channel of raw PCM audio bytes as they become available. This enables
// low-latency pipelining between sentence assembly and the telephone leg.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/callweave/callweave/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (e.g., concurrent calls on one gateway).
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw 16-bit little-endian PCM byte slices
	// as they are synthesised, at the voice's native sample rate. This design
	// allows the caller to pipe sentence fragments directly into synthesis
	// without waiting for the full reply to be available.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's internal
	// goroutines.
	//
	// voice specifies the voice profile to use for synthesis. Providers
	// should return an error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio channel
	// early; callers should check ctx.Err() to distinguish cancellation from
	// provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	// The list reflects the provider's current catalogue and may change
	// between calls if the underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is
	// cancelled before the list is retrieved.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
