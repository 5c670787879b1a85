// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed scripted audio chunks to consumers, to verify the
// VoiceProfile and text fragments passed to the synthesis backend, and to
// simulate provider failure modes (start errors, slow first chunks, and
// mid-stream drops).
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/callweave/callweave/pkg/provider/tts"
	"github.com/callweave/callweave/pkg/types"
)

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeStreamCall records a single invocation of SynthesizeStream. The
// Text slice is filled asynchronously as the mock drains the caller's text
// channel; use Provider.SpokenText after the audio channel has closed.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice types.VoiceProfile
	// Text collects the fragments received on the text channel, in order.
	Text []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeChunks is the sequence of audio byte slices emitted on the
	// channel returned by SynthesizeStream.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream
	// instead of starting a stream.
	SynthesizeErr error

	// FirstChunkDelay delays the first audio chunk, simulating a slow provider.
	FirstChunkDelay time.Duration

	// ChunkInterval adds a delay between consecutive chunks.
	ChunkInterval time.Duration

	// CloseAfter, when > 0, closes the audio channel after that many chunks
	// even if more are scripted, simulating a mid-stream provider failure.
	CloseAfter int

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []*SynthesizeStreamCall

	// ListVoicesCallCount counts calls to ListVoices.
	ListVoicesCallCount int
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits SynthesizeChunks then closes. The caller's text channel
// is drained concurrently so producers never block; received fragments are
// recorded on the call.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	call := &SynthesizeStreamCall{Ctx: ctx, Voice: voice}
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, call)

	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}

	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	firstDelay := p.FirstChunkDelay
	interval := p.ChunkInterval
	closeAfter := p.CloseAfter
	p.mu.Unlock()

	if closeAfter > 0 && closeAfter < len(chunks) {
		chunks = chunks[:closeAfter]
	}

	// Drain the incoming text channel so the producer never blocks, recording
	// each fragment on the call.
	go func() {
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				call.Text = append(call.Text, fragment)
				p.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		if firstDelay > 0 {
			select {
			case <-time.After(firstDelay):
			case <-ctx.Done():
				return
			}
		}
		for i, audio := range chunks {
			if interval > 0 && i > 0 {
				select {
				case <-time.After(interval):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- audio:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	return p.ListVoicesResult, p.ListVoicesErr
}

// SynthesizeCallCount returns the number of SynthesizeStream calls so far.
// Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeStreamCalls)
}

// SpokenText returns the concatenated text fragments received by the i-th
// SynthesizeStream call. Call it only after the corresponding audio channel
// has closed, otherwise fragments may still be in flight. Thread-safe.
func (p *Provider) SpokenText(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.SynthesizeStreamCalls) {
		return ""
	}
	return strings.Join(p.SynthesizeStreamCalls[i].Text, "")
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCallCount = 0
}
