// Package telephony speaks the carrier's media-stream protocol: a WebSocket
// per call carrying JSON events with base64 µ-law audio at 8 kHz. [Accept]
// upgrades the HTTP request, [Conn.Handshake] waits for the start event, and
// the connection then pumps decoded PCM frames to the engine while [Conn.Speak]
// paces synthesized audio back out at real time, one 20 ms frame per tick.
//
// Pacing matters: the carrier buffers whatever it receives, so blasting a
// whole utterance at once makes barge-in impossible. [Conn.Clear] implements
// barge-in by dropping the unsent remainder of the in-flight utterance and
// telling the carrier to flush its playback buffer.
package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/callweave/callweave/pkg/audio"
)

const (
	// SampleRate is the carrier leg's fixed rate.
	SampleRate = 8000

	// frameBytes is 20 ms of 8 kHz µ-law.
	frameBytes    = 160
	frameInterval = 20 * time.Millisecond

	handshakeTimeout = 30 * time.Second
)

var (
	// ErrHandshakeTimeout means the carrier never sent its start event.
	ErrHandshakeTimeout = errors.New("telephony: no start event within handshake window")

	// ErrClosed is returned by writes after the connection is torn down.
	ErrClosed = errors.New("telephony: connection closed")
)

// Conn is one caller's media stream. Reads are pumped by a single loop into
// [Conn.Frames]; writes are serialized internally so Speak, Clear, and Mark
// may be called from different goroutines.
type Conn struct {
	ws  *websocket.Conn
	log *slog.Logger

	streamSID string

	frames chan audio.Frame

	// writeMu serializes WebSocket writes.
	writeMu sync.Mutex

	// clearGen is bumped by Clear; Speak drops its remaining frames when
	// the generation moves under it.
	clearGen atomic.Int64

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Accept upgrades r to a media-stream WebSocket. The caller must invoke
// [Conn.Handshake] next; nothing is read until then.
func Accept(w http.ResponseWriter, r *http.Request, log *slog.Logger) (*Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: accept: %w", err)
	}
	return &Conn{
		ws:     ws,
		log:    log,
		frames: make(chan audio.Frame, 256),
		done:   make(chan struct{}),
	}, nil
}

// Handshake reads carrier events until the start event arrives, then starts
// the frame pump and returns the call's identity. It fails with
// [ErrHandshakeTimeout] when no start event arrives within 30 seconds.
func (c *Conn) Handshake(ctx context.Context) (StartInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return StartInfo{}, ErrHandshakeTimeout
			}
			return StartInfo{}, fmt.Errorf("telephony: read handshake: %w", err)
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("dropping malformed carrier event during handshake", "error", err)
			continue
		}
		switch msg.Event {
		case "connected":
			continue
		case "start":
			if msg.Start == nil {
				return StartInfo{}, errors.New("telephony: start event without start payload")
			}
			info := startInfoFrom(msg.Start)
			c.streamSID = info.StreamSID
			c.log.Info("media stream started",
				"streamSid", info.StreamSID,
				"callSid", info.CallSID)
			c.wg.Add(1)
			go c.readLoop()
			return info, nil
		case "stop":
			return StartInfo{}, errors.New("telephony: stream stopped during handshake")
		default:
			continue
		}
	}
}

// StreamSID returns the stream identity learned in the handshake.
func (c *Conn) StreamSID() string { return c.streamSID }

// Frames is the inbound caller audio: 20 ms of 8 kHz mono PCM per frame.
// The channel closes when the carrier stops the stream or the socket drops,
// which is the end-of-call signal for the engine.
func (c *Conn) Frames() <-chan audio.Frame { return c.frames }

// readLoop decodes carrier events until the stream ends. Malformed events
// are dropped; the call must survive a bad frame.
func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.frames)

	ctx := context.Background()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.log.Debug("media stream read ended", "streamSid", c.streamSID, "error", err)
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("dropping malformed carrier event", "streamSid", c.streamSID, "error", err)
			continue
		}
		switch msg.Event {
		case "media":
			if msg.Media == nil {
				continue
			}
			mu, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				c.log.Debug("dropping undecodable media payload", "streamSid", c.streamSID, "error", err)
				continue
			}
			frame := audio.Frame{
				Data:       audio.MulawDecode(mu),
				SampleRate: SampleRate,
				Timestamp:  time.Now(),
			}
			select {
			case c.frames <- frame:
			case <-c.done:
				return
			}
		case "mark":
			if msg.Mark != nil {
				c.log.Debug("carrier mark", "streamSid", c.streamSID, "name", msg.Mark.Name)
			}
		case "stop":
			c.log.Info("media stream stopped by carrier", "streamSid", c.streamSID)
			return
		default:
			// Unknown events are carrier chatter.
		}
	}
}

// Speak µ-law-encodes pcm (which must already be 8 kHz mono 16-bit) and
// sends it as media events paced at one 20 ms frame per tick. It returns
// early, without error, when [Conn.Clear] interrupts the utterance.
func (c *Conn) Speak(ctx context.Context, pcm []byte) error {
	mu := audio.MulawEncode(pcm)
	gen := c.clearGen.Load()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for off := 0; off < len(mu); off += frameBytes {
		if off > 0 {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			case <-c.done:
				return ErrClosed
			}
		}
		if c.clearGen.Load() != gen {
			c.log.Debug("speak interrupted by clear", "streamSid", c.streamSID, "sentBytes", off)
			return nil
		}
		end := min(off+frameBytes, len(mu))
		if err := c.write(ctx, message{
			Event:     "media",
			StreamSID: c.streamSID,
			Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(mu[off:end])},
		}); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops the unsent remainder of any in-flight utterance and tells the
// carrier to flush its playback buffer. Used on barge-in.
func (c *Conn) Clear(ctx context.Context) error {
	c.clearGen.Add(1)
	return c.write(ctx, message{Event: "clear", StreamSID: c.streamSID})
}

// Mark asks the carrier to echo name back once everything sent before it has
// been played to the caller.
func (c *Conn) Mark(ctx context.Context, name string) error {
	return c.write(ctx, message{
		Event:     "mark",
		StreamSID: c.streamSID,
		Mark:      &markPayload{Name: name},
	})
}

func (c *Conn) write(ctx context.Context, msg message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("telephony: encode %s event: %w", msg.Event, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("telephony: write %s event: %w", msg.Event, err)
	}
	return nil
}

// Close tears the connection down. Safe to call more than once and from any
// goroutine; the frame channel is closed before Close returns.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close(websocket.StatusNormalClosure, "call ended")
		c.wg.Wait()
	})
	return nil
}
