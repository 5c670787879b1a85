package openai

import (
	"testing"

	"github.com/callweave/callweave/pkg/provider/llm"
	"github.com/callweave/callweave/pkg/types"
)

func TestBuildParamsPrependsSystemPrompt(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Joanna from ACE Cooling.",
		Messages: []types.Message{
			{Role: "user", Content: "My AC is out."},
		},
	})
	if err != nil {
		t.Fatalf("buildParams() error = %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("got %d messages, want 2 (system + user)", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message is not the system prompt")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("second message is not the user turn")
	}
}

func TestBuildParamsConvertsRoles(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{
			{Role: "system", Content: "persona"},
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi, this is Joanna"},
		},
	})
	if err != nil {
		t.Fatalf("buildParams() error = %v", err)
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("system message not converted")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("user message not converted")
	}
	if params.Messages[2].OfAssistant == nil {
		t.Error("assistant message not converted")
	}
}

func TestBuildParamsRejectsUnknownRole(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	_, err := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: "narrator", Content: "meanwhile"}},
	})
	if err == nil {
		t.Fatal("buildParams() accepted an unknown role")
	}
}

func TestBuildParamsOptionalFields(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("buildParams() error = %v", err)
	}
	if params.Temperature.Valid() {
		t.Error("zero temperature was sent instead of the provider default")
	}
	if params.MaxCompletionTokens.Valid() {
		t.Error("zero max tokens was sent instead of the provider default")
	}
	if params.ResponseFormat.OfJSONObject != nil {
		t.Error("JSON mode set without being requested")
	}

	params, err = p.buildParams(llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.1,
		MaxTokens:   150,
		JSONMode:    true,
	})
	if err != nil {
		t.Fatalf("buildParams() error = %v", err)
	}
	if got := params.Temperature.Or(0); got != 0.1 {
		t.Errorf("temperature = %v, want 0.1", got)
	}
	if got := params.MaxCompletionTokens.Or(0); got != 150 {
		t.Errorf("maxCompletionTokens = %v, want 150", got)
	}
	if params.ResponseFormat.OfJSONObject == nil {
		t.Error("JSON mode not set on the request")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("New() accepted an empty API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("New() accepted an empty model")
	}
	if _, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	); err != nil {
		t.Errorf("New() with options: %v", err)
	}
}
