package testutil

import (
	"context"
	"sync"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

var _ gateway.Completer = (*FakeCompleter)(nil)

// FakeCompleter is a configurable gateway.Completer for testing.
// Each call to Complete consumes the next entry of Script; when Script is
// exhausted CompleteFn is used, and failing that a fixed "hello" reply.
type FakeCompleter struct {
	CompleteFn func(ctx context.Context, ep gateway.Endpoint, req *gateway.ChatRequest) (*gateway.ChatResult, error)
	VerifyFn   func(ctx context.Context, ep gateway.Endpoint, model string) error
	Script     []Step

	mu       sync.Mutex
	requests []*gateway.ChatRequest
	keys     []string
}

// Step is one scripted Complete outcome.
type Step struct {
	Result *gateway.ChatResult
	Err    error
}

// Complete records the request and replays the next scripted step.
func (f *FakeCompleter) Complete(ctx context.Context, ep gateway.Endpoint, req *gateway.ChatRequest) (*gateway.ChatResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.keys = append(f.keys, ep.APIKey)
	var step *Step
	if len(f.Script) > 0 {
		step = &f.Script[0]
		f.Script = f.Script[1:]
	}
	f.mu.Unlock()

	if step != nil {
		return step.Result, step.Err
	}
	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, ep, req)
	}
	return &gateway.ChatResult{
		Content: "hello",
		Usage:   gateway.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

// Verify delegates to VerifyFn or succeeds.
func (f *FakeCompleter) Verify(ctx context.Context, ep gateway.Endpoint, model string) error {
	f.mu.Lock()
	f.keys = append(f.keys, ep.APIKey)
	f.mu.Unlock()
	if f.VerifyFn != nil {
		return f.VerifyFn(ctx, ep, model)
	}
	return nil
}

// Calls returns how many times Complete was called.
func (f *FakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns the requests passed to Complete.
func (f *FakeCompleter) Requests() []*gateway.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*gateway.ChatRequest(nil), f.requests...)
}

// Keys returns the API keys seen by Complete and Verify, in call order.
func (f *FakeCompleter) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}
