package session

import "testing"

func TestTranscript_PlainText(t *testing.T) {
	tr := NewTranscript()
	tr.AddAgent(StateWelcome, "Thanks for calling ACE Cooling")
	tr.AddUser(StateWelcome, "my AC quit on me")
	tr.AddTool(StateLookup, "lookup_caller", map[string]any{"found": true})
	tr.AddUser(StateSafety, "no, nothing like that")

	want := "Agent: Thanks for calling ACE Cooling\n" +
		"Caller: my AC quit on me\n" +
		"[Tool: lookup_caller]\n" +
		"Caller: no, nothing like that"
	if got := tr.PlainText(); got != want {
		t.Errorf("PlainText() =\n%q\nwant\n%q", got, want)
	}
}

func TestTranscript_PlainText_Empty(t *testing.T) {
	tr := NewTranscript()
	if got := tr.PlainText(); got != "" {
		t.Errorf("PlainText() = %q, want empty", got)
	}
}

func TestTranscript_Structured(t *testing.T) {
	tr := NewTranscript()
	tr.AddAgent(StateWelcome, "hello")
	tr.AddTool(StateLookup, "lookup_caller", map[string]any{"found": false})
	tr.AddTool(StateCallback, "create_callback", nil)

	got := tr.Structured()
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0]["role"] != "agent" || got[0]["content"] != "hello" {
		t.Errorf("entry 0 = %v", got[0])
	}
	if got[1]["role"] != "tool" || got[1]["name"] != "lookup_caller" {
		t.Errorf("entry 1 = %v", got[1])
	}
	result, ok := got[1]["result"].(map[string]any)
	if !ok || result["found"] != false {
		t.Errorf("entry 1 result = %v", got[1]["result"])
	}
	// A nil tool result is rendered as an empty object, not null.
	if r, ok := got[2]["result"].(map[string]any); !ok || len(r) != 0 {
		t.Errorf("entry 2 result = %v, want empty map", got[2]["result"])
	}
}

func TestTranscript_RoleFiltered(t *testing.T) {
	tr := NewTranscript()
	tr.AddAgent(StateWelcome, "hi")
	tr.AddTool(StateLookup, "lookup_caller", nil)
	tr.AddUser(StateSafety, "no")

	got := tr.RoleFiltered()
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2 (tool filtered out)", len(got))
	}
	if got[0].Role != "agent" || got[1].Role != "user" {
		t.Errorf("roles = %s, %s", got[0].Role, got[1].Role)
	}
}

func TestTranscript_EntriesStampState(t *testing.T) {
	tr := NewTranscript()
	tr.AddUser(StateDiscovery, "it's the upstairs unit")

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].State != StateDiscovery {
		t.Errorf("state = %s, want discovery", entries[0].State)
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("timestamp must be set")
	}
}
