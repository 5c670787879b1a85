// Package energy provides an RMS-energy Voice Activity Detection engine.
//
// Each frame's 16-bit PCM samples are reduced to a root-mean-square level,
// normalised to a [0, 1] speech score, and run through a small hysteresis
// machine: speech starts after a short run of consecutive voiced frames and
// ends only after a hangover period of sustained silence, so natural pauses
// inside an utterance do not flap the detector.
//
// Energy detection is deliberately simple. It exists to trigger barge-in on
// the inbound audio loop; turn-taking is owned by STT endpointing.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/callweave/callweave/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

const (
	// referenceRMS is the RMS level (in int16 sample units) treated as
	// certain speech, about -18 dBFS. A frame at this level scores 1.0.
	referenceRMS = 4096.0

	// startFrames is the number of consecutive voiced frames required before
	// SpeechStart fires: 60 ms at the carrier's 20 ms framing.
	startFrames = 3

	// hangoverMs is how long silence must persist before SpeechEnd fires.
	// Shorter gaps are treated as pauses within the same utterance.
	hangoverMs = 800

	defaultSpeechThreshold  = 0.5
	defaultSilenceThreshold = 0.35
)

// ErrSessionClosed is returned by ProcessFrame after the session is closed.
var ErrSessionClosed = errors.New("energy: session is closed")

// Engine creates RMS-energy VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns a new energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession validates cfg and returns a fresh detection session. Zero-value
// thresholds are filled with the defaults (0.5 speech, 0.35 silence).
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate %d must be positive", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: frame size %d ms must be positive", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = defaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = defaultSilenceThreshold
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > 1 {
		return nil, fmt.Errorf("energy: silence threshold %v out of range [0, 1]", cfg.SilenceThreshold)
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %v must not exceed speech threshold %v",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	return &session{
		cfg:            cfg,
		frameBytes:     cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		hangoverFrames: hangoverMs / cfg.FrameSizeMs,
	}, nil
}

// session holds the per-stream detection state.
type session struct {
	mu sync.Mutex

	cfg            vad.Config
	frameBytes     int
	hangoverFrames int

	inSpeech   bool
	voicedRun  int // consecutive voiced frames while silent
	silenceRun int // consecutive silent frames while speaking
	closed     bool
}

// ProcessFrame scores one PCM frame and advances the hysteresis machine.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.VADEvent{}, ErrSessionClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	score := frameScore(frame)
	ev := vad.VADEvent{Probability: score}

	if s.inSpeech {
		if score < s.cfg.SilenceThreshold {
			s.silenceRun++
			if s.silenceRun >= s.hangoverFrames {
				s.inSpeech = false
				s.silenceRun = 0
				ev.Type = vad.VADSpeechEnd
				return ev, nil
			}
		} else {
			s.silenceRun = 0
		}
		ev.Type = vad.VADSpeechContinue
		return ev, nil
	}

	if score >= s.cfg.SpeechThreshold {
		s.voicedRun++
		if s.voicedRun >= startFrames {
			s.inSpeech = true
			s.voicedRun = 0
			ev.Type = vad.VADSpeechStart
			return ev, nil
		}
	} else {
		s.voicedRun = 0
	}
	ev.Type = vad.VADSilence
	return ev, nil
}

// Reset clears all detection state. The next frames are scored as if the
// stream had just started.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.voicedRun = 0
	s.silenceRun = 0
}

// Close marks the session closed. Further ProcessFrame calls return
// ErrSessionClosed. Closing twice is a no-op.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// frameScore reduces a little-endian int16 frame to a [0, 1] speech score:
// the frame's RMS level relative to referenceRMS, clamped at 1.
func frameScore(frame []byte) float64 {
	samples := len(frame) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		v := float64(int16(frame[i*2]) | int16(frame[i*2+1])<<8)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(samples))
	score := rms / referenceRMS
	if score > 1 {
		return 1
	}
	return score
}
