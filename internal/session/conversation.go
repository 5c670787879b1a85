package session

import (
	"sync"

	"github.com/callweave/callweave/pkg/types"
)

// Conversation owns the LLM-facing message history for one call. The engine
// goroutine is the only writer during a turn; the background extractor and
// prompt builders read point-in-time copies via [Conversation.Snapshot], so
// no reader ever observes a half-appended turn.
type Conversation struct {
	mu   sync.Mutex
	msgs []types.Message
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds one message to the history.
func (c *Conversation) Append(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, types.Message{Role: role, Content: content})
}

// Snapshot returns a copy of the full history.
func (c *Conversation) Snapshot() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Tail returns a copy of the most recent n messages (all of them when the
// history is shorter).
func (c *Conversation) Tail(n int) []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := len(c.msgs) - n
	if start < 0 {
		start = 0
	}
	out := make([]types.Message, len(c.msgs)-start)
	copy(out, c.msgs[start:])
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// NewAssistantSince returns the contents of assistant messages appended at or
// after cursor, along with the new cursor position. The engine calls this
// before every user turn to capture agent speech into the transcript exactly
// once.
func (c *Conversation) NewAssistantSince(cursor int) ([]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	var replies []string
	for _, m := range c.msgs[min(cursor, len(c.msgs)):] {
		if m.Role == "assistant" {
			replies = append(replies, m.Content)
		}
	}
	return replies, len(c.msgs)
}
