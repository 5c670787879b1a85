package telephony

// Wire shapes for the carrier's media-stream WebSocket. Every message is a
// JSON text frame with an "event" discriminator; unknown events are ignored
// so carrier protocol additions do not break live calls.

type message struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	// Payload is base64-encoded 8 kHz G.711 µ-law.
	Payload string `json:"payload"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      map[string]any    `json:"mediaFormat,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type markPayload struct {
	Name string `json:"name"`
}

// StartInfo is what the carrier's start handshake tells us about the call.
type StartInfo struct {
	StreamSID  string
	CallSID    string
	AccountSID string

	// From is the caller's number, delivered through the stream's custom
	// parameters (the TwiML passes it as <Parameter name="from" .../>).
	// Empty when the deployment's TwiML does not forward it.
	From string

	CustomParameters map[string]string
}

func startInfoFrom(p *startPayload) StartInfo {
	info := StartInfo{
		StreamSID:        p.StreamSID,
		CallSID:          p.CallSID,
		AccountSID:       p.AccountSID,
		CustomParameters: p.CustomParameters,
	}
	if p.CustomParameters != nil {
		info.From = p.CustomParameters["from"]
	}
	return info
}
