package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is one transcript line: a user utterance, an agent reply, or a tool
// invocation with its result, stamped with the dialog state active at the
// time.
type Entry struct {
	Role      string         // "agent", "user", or "tool"
	Content   string         // utterance text; empty for tool entries
	Name      string         // tool name when Role == "tool"
	Result    map[string]any // tool result when Role == "tool"
	Timestamp time.Time
	State     State
}

// Transcript is the append-only call log and the single source of truth for
// every post-call artifact. It carries its own lock because the post-call
// pipeline and health handlers read it while the call may still be
// appending.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// AddUser appends a caller utterance.
func (t *Transcript) AddUser(state State, text string) {
	t.append(Entry{Role: "user", Content: text, Timestamp: time.Now(), State: state})
}

// AddAgent appends an agent utterance.
func (t *Transcript) AddAgent(state State, text string) {
	t.append(Entry{Role: "agent", Content: text, Timestamp: time.Now(), State: state})
}

// AddTool appends a tool invocation and its result document.
func (t *Transcript) AddTool(state State, name string, result map[string]any) {
	t.append(Entry{Role: "tool", Name: name, Result: result, Timestamp: time.Now(), State: state})
}

func (t *Transcript) append(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
}

// Entries returns a copy of the full log.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// PlainText renders the log for humans: agent lines prefixed "Agent:", user
// lines "Caller:", tool invocations as "[Tool: name]", joined by newlines.
func (t *Transcript) PlainText() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		switch e.Role {
		case "agent":
			lines = append(lines, "Agent: "+e.Content)
		case "user":
			lines = append(lines, "Caller: "+e.Content)
		case "tool":
			lines = append(lines, fmt.Sprintf("[Tool: %s]", e.Name))
		}
	}
	return strings.Join(lines, "\n")
}

// Structured renders the log for the dashboard: {role, content} for agent
// and user entries, {role, name, result} for tool entries.
func (t *Transcript) Structured() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]map[string]any, 0, len(t.entries))
	for _, e := range t.entries {
		switch e.Role {
		case "agent", "user":
			out = append(out, map[string]any{"role": e.Role, "content": e.Content})
		case "tool":
			result := e.Result
			if result == nil {
				result = map[string]any{}
			}
			out = append(out, map[string]any{"role": "tool", "name": e.Name, "result": result})
		}
	}
	return out
}

// RoleFiltered returns copies of the agent and user entries only, in order.
func (t *Transcript) RoleFiltered() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for _, e := range t.entries {
		if e.Role == "agent" || e.Role == "user" {
			out = append(out, e)
		}
	}
	return out
}
