// Package inworld provides an Inworld-backed TTS provider using the Inworld
// streaming WebSocket API. It implements the tts.Provider interface and is the
// primary synthesis voice for the phone leg.
package inworld

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"

	"github.com/callweave/callweave/pkg/provider/tts"
	"github.com/callweave/callweave/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL = "wss://api.inworld.ai"
	streamPath     = "/tts/v1/voice:stream"
	voicesEndpoint = "https://api.inworld.ai/tts/v1/voices"

	defaultModel      = "inworld-tts-1"
	defaultSampleRate = 24000
	audioEncoding     = "LINEAR16"
)

// Option is a functional option for configuring the Inworld Provider.
type Option func(*Provider)

// WithModel sets the Inworld synthesis model (e.g., "inworld-tts-1").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampleRate sets the PCM output rate in Hz requested from Inworld.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// Provider implements tts.Provider backed by the Inworld streaming API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	sampleRate int
	httpClient *http.Client
}

// New creates a new Inworld Provider. apiKey is the base64 workspace
// credential and must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("inworld: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// synthesisConfig is the first message sent on a new stream. It pins the
// voice, model, and audio format for every utterance that follows.
type synthesisConfig struct {
	VoiceID     string      `json:"voiceId"`
	ModelID     string      `json:"modelId"`
	AudioConfig audioConfig `json:"audioConfig"`
}

// audioConfig mirrors the Inworld audio_config object.
type audioConfig struct {
	AudioEncoding   string `json:"audioEncoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
}

// textMessage is the JSON payload sent for each text fragment.
type textMessage struct {
	Text string `json:"text"`
}

// flushMessage tells Inworld to synthesise any buffered text immediately.
type flushMessage struct {
	Flush bool `json:"flush"`
}

// streamResponse is the JSON message received from Inworld over the WebSocket.
type streamResponse struct {
	Result struct {
		AudioContent string `json:"audioContent"` // base64-encoded PCM
		Final        bool   `json:"final"`
	} `json:"result"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// SynthesizeStream opens a WebSocket to Inworld, pipes text fragments from
// the text channel, and returns a channel emitting raw PCM audio chunks.
//
// The returned audio channel is closed when synthesis is complete or ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("inworld: voice.ID must not be empty")
	}

	model := voice.Model
	if model == "" {
		model = p.model
	}
	rate := voice.SampleRate
	if rate == 0 {
		rate = p.sampleRate
	}

	headers := http.Header{}
	headers.Set("Authorization", "Basic "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, p.baseURL+streamPath, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("inworld: dial: %w", err)
	}

	// Pin voice and audio format before any text is sent.
	cfg := synthesisConfig{
		VoiceID: voice.ID,
		ModelID: model,
		AudioConfig: audioConfig{
			AudioEncoding:   audioEncoding,
			SampleRateHertz: rate,
		},
	}
	cfgBytes, _ := json.Marshal(cfg)
	if err := conn.Write(ctx, websocket.MessageText, cfgBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send config")
		return nil, fmt.Errorf("inworld: send config: %w", err)
	}

	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		// Start reader goroutine.
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				_, msg, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var resp streamResponse
				if err := json.Unmarshal(msg, &resp); err != nil {
					continue
				}
				if resp.Error.Message != "" {
					// Synthesis error; the early channel close signals the caller.
					return
				}
				if resp.Result.AudioContent != "" {
					pcm, err := base64.StdEncoding.DecodeString(resp.Result.AudioContent)
					if err == nil && len(pcm) > 0 {
						select {
						case audioCh <- pcm:
						case <-ctx.Done():
							return
						}
					}
				}
				if resp.Result.Final {
					return
				}
			}
		}()

		// Write text fragments to Inworld.
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					// Text channel closed: flush buffered text and wait for
					// the reader to drain the remaining audio.
					flushBytes, _ := json.Marshal(flushMessage{Flush: true})
					_ = conn.Write(ctx, websocket.MessageText, flushBytes)
					<-readDone
					return
				}
				if fragment == "" {
					continue
				}
				msgBytes, _ := json.Marshal(textMessage{Text: fragment})
				if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
					<-readDone
					return
				}
			case <-ctx.Done():
				// The reader is the only sender on audioCh; it must exit
				// before the deferred close.
				<-readDone
				return
			}
		}
	}()

	return audioCh, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /tts/v1/voices.
type voicesResponse struct {
	Voices []inworldVoice `json:"voices"`
}

// inworldVoice is a single voice entry from the Inworld API.
type inworldVoice struct {
	VoiceID     string   `json:"voiceId"`
	DisplayName string   `json:"displayName"`
	Gender      string   `json:"gender"`
	Languages   []string `json:"languages"`
}

// ListVoices returns all voices available from Inworld for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("inworld: list voices: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inworld: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inworld: list voices: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("inworld: read voices response: %w", err)
	}
	return p.parseVoicesResponse(data)
}

// parseVoicesResponse parses a raw JSON byte slice (matching the Inworld
// /tts/v1/voices response) into a slice of VoiceProfile values.
func (p *Provider) parseVoicesResponse(data []byte) ([]types.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("inworld: decode voices response: %w", err)
	}

	profiles := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		name := v.DisplayName
		if name == "" {
			name = v.VoiceID
		}
		meta := make(map[string]string, 2)
		if v.Gender != "" {
			meta["gender"] = v.Gender
		}
		if len(v.Languages) > 0 {
			meta["language"] = v.Languages[0]
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:         v.VoiceID,
			Name:       name,
			Provider:   "inworld",
			Model:      p.model,
			SampleRate: p.sampleRate,
			Metadata:   meta,
		})
	}
	return profiles, nil
}
