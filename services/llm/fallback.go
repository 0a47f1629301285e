package llm

import (
	"context"
	"log/slog"

	"github.com/sparlab/arena/services/engine/datatypes"
)

// =============================================================================
// Fallback Client
// =============================================================================

// FallbackClient wraps a backend with an ordered model fallback chain.
//
// # Description
//
// Generation requests name a primary model; when that model fails with a
// classified overloaded/rate-limited error (see IsOverloaded) and further
// candidates remain, the next candidate in declared order is tried. Any
// other failure, or exhaustion of the chain, propagates to the caller
// immediately. Silent fallback on non-throttling errors is forbidden
// because it would mask genuine integration bugs as transient noise.
//
// An optional override pins every request to a single model (incident
// response: one candidate misbehaving fleet-wide). With an override set,
// no fallback occurs at all.
//
// FallbackClient implements LLMClient, so call sites are indifferent to
// whether they hold a raw backend or the chain.
//
// # Thread Safety
//
// FallbackClient is immutable after construction and safe for concurrent
// use, assuming the wrapped backend is.
type FallbackClient struct {
	backend    LLMClient
	candidates []string
	override   string

	// OnFallback, when set, is invoked once per fallback hop with the
	// failing model and the model about to be tried. Used for metrics.
	OnFallback func(fromModel, toModel string)
}

// NewFallbackClient creates a FallbackClient.
//
// # Inputs
//
//   - backend: the provider client that serves every attempt.
//   - candidates: fallback model identifiers in declared order.
//   - override: optional forced model; when non-empty it becomes the
//     only attempt for every request.
//
// # Example
//
//	chain := llm.NewFallbackClient(openaiClient,
//	    []string{"gpt-5.2", "gpt-5.2-mini", "gpt-4.1"}, "")
//	reply, err := chain.Chat(ctx, "gpt-5.2", messages, params)
func NewFallbackClient(backend LLMClient, candidates []string, override string) *FallbackClient {
	return &FallbackClient{
		backend:    backend,
		candidates: candidates,
		override:   override,
	}
}

// order computes the effective attempt order for a request.
//
// Override, when configured, is the whole order. Otherwise the primary
// model goes first, followed by the remaining candidates in declared
// order with duplicates skipped.
func (f *FallbackClient) order(primary string) []string {
	if f.override != "" {
		return []string{f.override}
	}

	out := make([]string, 0, len(f.candidates)+1)
	seen := make(map[string]bool, len(f.candidates)+1)
	if primary != "" {
		out = append(out, primary)
		seen[primary] = true
	}
	for _, model := range f.candidates {
		if model == "" || seen[model] {
			continue
		}
		out = append(out, model)
		seen[model] = true
	}
	return out
}

// Chat implements LLMClient, attempting each candidate in order.
func (f *FallbackClient) Chat(ctx context.Context, primary string,
	messages []datatypes.Message, params GenerationParams) (string, error) {

	order := f.order(primary)
	if len(order) == 0 {
		return "", &BackendError{Provider: "fallback", Message: "no model candidates configured"}
	}
	for i, model := range order {
		reply, err := f.backend.Chat(ctx, model, messages, params)
		if err == nil {
			return reply, nil
		}
		// The last candidate's error always propagates, overloaded or not.
		if !IsOverloaded(err) || i == len(order)-1 {
			return "", err
		}
		slog.Warn("model overloaded, falling back",
			"model", model,
			"next", order[i+1],
			"error", err.Error(),
		)
		if f.OnFallback != nil {
			f.OnFallback(model, order[i+1])
		}
	}
	return "", &BackendError{Provider: "fallback", Message: "model fallback chain exhausted"}
}

// ChatStream implements LLMClient.
//
// The first candidate whose stream opens successfully wins; its stream
// is returned as-is. Once a stream has started yielding data there is no
// mid-stream retry: nothing has been committed to storage yet, so a
// mid-stream failure surfaces to the caller as a terminal stream error
// and the caller flushes whatever partial content it already sent.
func (f *FallbackClient) ChatStream(ctx context.Context, primary string,
	messages []datatypes.Message, params GenerationParams) (Stream, error) {

	order := f.order(primary)
	if len(order) == 0 {
		return nil, &BackendError{Provider: "fallback", Message: "no model candidates configured"}
	}
	for i, model := range order {
		stream, err := f.backend.ChatStream(ctx, model, messages, params)
		if err == nil {
			return stream, nil
		}
		// The last candidate's error always propagates, overloaded or not.
		if !IsOverloaded(err) || i == len(order)-1 {
			return nil, err
		}
		slog.Warn("model overloaded on stream open, falling back",
			"model", model,
			"next", order[i+1],
			"error", err.Error(),
		)
		if f.OnFallback != nil {
			f.OnFallback(model, order[i+1])
		}
	}
	return nil, &BackendError{Provider: "fallback", Message: "model fallback chain exhausted"}
}

var _ LLMClient = (*FallbackClient)(nil)
