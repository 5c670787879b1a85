package resilience

import (
	"context"

	"github.com/callweave/callweave/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across an
// ordered chain of providers. Each provider sits behind its own circuit
// breaker; a request walks the chain until one succeeds.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates a fallback chain rooted at primary.
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback appends provider to the end of the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete requests a full completion from the first healthy provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion streams a completion from the first healthy provider.
// Failover covers stream setup only; once chunks flow, errors surface to the
// consumer unchanged.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}
