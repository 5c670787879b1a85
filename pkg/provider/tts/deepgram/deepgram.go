// Package deepgram provides a Deepgram Aura-backed TTS provider using the
// Deepgram speak REST API. It implements the tts.Provider interface and serves
// as the fallback synthesis voice when the primary streaming provider is
// unavailable.
//
// The speak API operates in batch mode (one HTTP call per utterance rather
// than a streaming socket), so SynthesizeStream accumulates incoming text
// fragments into complete sentences and dispatches concurrent HTTP requests
// with a small lookahead buffer. Each response body is streamed and re-framed
// into fixed-size PCM chunks while sentence order is preserved on the returned
// audio channel.
package deepgram

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/callweave/callweave/pkg/provider/tts"
	"github.com/callweave/callweave/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL    = "https://api.deepgram.com"
	speakPath         = "/v1/speak"
	defaultVoice      = "aura-2-thalia-en"
	defaultSampleRate = 24000
	defaultTimeout    = 30 * time.Second

	// pcmEncoding is the only output format requested from the speak API.
	// 16-bit little-endian PCM matches what the engine resamples for the
	// phone leg.
	pcmEncoding = "linear16"

	// sentenceLookaheadBuf controls how many concurrent synthesis requests may
	// be in-flight simultaneously. Higher values reduce perceived latency at
	// the cost of additional API load.
	sentenceLookaheadBuf = 4

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 256

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// ---- options ----

// Option is a functional option for configuring a deepgram TTS Provider.
type Option func(*Provider)

// WithVoice sets the default Aura voice model (e.g., "aura-2-thalia-en") used
// when the VoiceProfile passed to SynthesizeStream does not specify one.
func WithVoice(voiceID string) Option {
	return func(p *Provider) {
		p.voice = voiceID
	}
}

// WithSampleRate sets the PCM output rate in Hz requested from the speak API.
// Defaults to 24000 if not set.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the speak API.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithBaseURL overrides the base API URL. Primarily used in tests to point at
// a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by the Deepgram speak API. It is
// safe for concurrent use; multiple SynthesizeStream calls may run in parallel.
type Provider struct {
	apiKey     string
	baseURL    string
	voice      string
	sampleRate int
	httpClient *http.Client
}

// New creates a new deepgram TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		voice:      defaultVoice,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speakRequest is the JSON body sent to POST /v1/speak.
type speakRequest struct {
	Text string `json:"text"`
}

// sentenceStream carries the streamed PCM for a single sentence from its
// worker goroutine to the collector. chunks is closed by the worker when the
// response body is exhausted; err then reports the terminal outcome.
type sentenceStream struct {
	chunks chan []byte
	err    chan error
}

// ---- SynthesizeStream ----

// SynthesizeStream consumes text fragments from the text channel, accumulates
// them into complete sentences (split on '.', '!', '?' followed by whitespace
// or EOF), and issues one speak request per sentence. Response bodies are
// stripped of their WAV container header and re-framed into fixed-size PCM
// chunks on the returned channel, in the original sentence order.
//
// Up to sentenceLookaheadBuf requests may be in-flight concurrently to hide
// network latency while preserving output ordering.
//
// The returned channel is closed when all text has been synthesised, when a
// synthesis request fails, or when ctx is cancelled. The caller should cancel
// ctx when abandoning the stream so that in-flight requests are released.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	model := voice.ID
	if model == "" {
		model = p.voice
	}
	rate := voice.SampleRate
	if rate == 0 {
		rate = p.sampleRate
	}

	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)

		// sentences carries complete sentences from the accumulator to the dispatcher.
		sentences := make(chan string, sentenceLookaheadBuf)

		// streamQueue carries per-sentence streams so the collector can drain in order.
		streamQueue := make(chan *sentenceStream, sentenceLookaheadBuf)

		// --- Accumulator goroutine ---
		// Reads text fragments, buffers them, and emits complete sentences.
		go func() {
			defer close(sentences)
			var buf strings.Builder
			for {
				select {
				case fragment, ok := <-text:
					if !ok {
						// Text channel closed: flush any remaining partial sentence.
						if remaining := strings.TrimSpace(buf.String()); remaining != "" {
							select {
							case sentences <- remaining:
							case <-ctx.Done():
							}
						}
						return
					}
					buf.WriteString(fragment)
					for {
						s := buf.String()
						idx := findSentenceBoundary(s)
						if idx < 0 {
							break
						}
						sentence := strings.TrimSpace(s[:idx+1])
						buf.Reset()
						buf.WriteString(s[idx+1:])
						if sentence == "" {
							continue
						}
						select {
						case sentences <- sentence:
						case <-ctx.Done():
							return
						}
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		// --- Dispatcher goroutine ---
		// Launches one speak request per sentence and queues its stream so the
		// collector can forward audio in sentence order.
		go func() {
			defer close(streamQueue)
			for {
				select {
				case sentence, ok := <-sentences:
					if !ok {
						return
					}
					ss := &sentenceStream{
						chunks: make(chan []byte, sentenceLookaheadBuf),
						err:    make(chan error, 1),
					}
					select {
					case streamQueue <- ss:
					case <-ctx.Done():
						return
					}
					go func(s string) {
						defer close(ss.chunks)
						ss.err <- p.speak(ctx, s, model, rate, ss.chunks)
					}(sentence)
				case <-ctx.Done():
					return
				}
			}
		}()

		// --- Collector ---
		// Forwards each sentence's chunks to the audio channel in order.
		for {
			select {
			case ss, ok := <-streamQueue:
				if !ok {
					return
				}
				for chunk := range ss.chunks {
					select {
					case audioCh <- chunk:
					case <-ctx.Done():
						return
					}
				}
				if err := <-ss.err; err != nil {
					// On synthesis error we stop the stream. The caller can
					// inspect ctx.Err() to distinguish cancellation from
					// provider errors.
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// speak performs a single POST /v1/speak call and streams the PCM payload of
// the response body onto out in pcmChunkSize frames.
func (p *Provider) speak(ctx context.Context, sentence, model string, rate int, out chan<- []byte) error {
	body, err := json.Marshal(speakRequest{Text: sentence})
	if err != nil {
		return fmt.Errorf("deepgram: marshal speak request: %w", err)
	}

	q := url.Values{}
	q.Set("model", model)
	q.Set("encoding", pcmEncoding)
	q.Set("sample_rate", strconv.Itoa(rate))

	reqURL := p.baseURL + speakPath + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("deepgram: create speak request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deepgram: POST %s: %w", speakPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deepgram: POST %s returned status %d", speakPath, resp.StatusCode)
	}

	pcm, err := stripWAVHeader(resp.Body)
	if err != nil {
		return err
	}

	buf := make([]byte, pcmChunkSize)
	for {
		n, err := pcm.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("deepgram: read audio response: %w", err)
		}
	}
}

// ---- ListVoices ----

// auraVoices is the catalogue returned by ListVoices. The speak API has no
// voice-listing endpoint, so the documented Aura voice models are enumerated
// statically.
var auraVoices = []struct {
	id     string
	name   string
	gender string
}{
	{"aura-2-thalia-en", "Thalia", "female"},
	{"aura-2-andromeda-en", "Andromeda", "female"},
	{"aura-2-helena-en", "Helena", "female"},
	{"aura-2-asteria-en", "Asteria", "female"},
	{"aura-2-apollo-en", "Apollo", "male"},
	{"aura-2-arcas-en", "Arcas", "male"},
	{"aura-2-orion-en", "Orion", "male"},
	{"aura-2-zeus-en", "Zeus", "male"},
}

// ListVoices returns the known Aura voice models.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	profiles := make([]types.VoiceProfile, 0, len(auraVoices))
	for _, v := range auraVoices {
		profiles = append(profiles, types.VoiceProfile{
			ID:         v.id,
			Name:       v.name,
			Provider:   "deepgram",
			Model:      "aura-2",
			SampleRate: p.sampleRate,
			Metadata: map[string]string{
				"gender":   v.gender,
				"language": "en",
			},
		})
	}
	return profiles, nil
}

// ---- helpers ----

// findSentenceBoundary returns the index of the first sentence-ending
// character ('.', '!', '?') that is either at the end of s or immediately
// followed by whitespace. Returns -1 if no boundary is found, so that
// abbreviations like "Dr." and decimals like "3.14" are not split.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

// stripWAVHeader inspects the start of r and, when it holds a RIFF/WAVE
// container, consumes everything up to and including the data chunk header so
// that only raw PCM remains. Bodies that do not start with a RIFF header are
// passed through untouched.
func stripWAVHeader(r io.Reader) (io.Reader, error) {
	header := make([]byte, 12)
	n, err := io.ReadFull(r, header)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// Body shorter than a RIFF header: pass through whatever arrived.
		return bytes.NewReader(header[:n]), nil
	}
	if err != nil {
		return nil, fmt.Errorf("deepgram: read audio response: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return io.MultiReader(bytes.NewReader(header), r), nil
	}

	// Walk RIFF sub-chunks until the data chunk; PCM follows its 8-byte header.
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			return nil, errors.New("deepgram: WAV response missing data chunk")
		}
		if string(chunkHeader[0:4]) == "data" {
			return r, nil
		}
		size := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))
		if size%2 != 0 {
			size++ // chunks are word-aligned
		}
		if _, err := io.CopyN(io.Discard, r, size); err != nil {
			return nil, errors.New("deepgram: WAV response missing data chunk")
		}
	}
}
