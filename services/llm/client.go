package llm

import (
	"context"

	"github.com/sparlab/arena/services/engine/datatypes"
)

// GenerationParams carries optional sampling parameters. Nil fields fall
// back to each backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any generation backend.
//
// The model argument selects which model the backend should serve the
// request with; backends that host a single model may ignore it. The
// transcript uses the engine's roles (system/user/ai) and each backend
// maps them onto its own wire roles.
type LLMClient interface {
	// Chat produces a complete reply for the conversation.
	Chat(ctx context.Context, model string, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream produces the reply incrementally. The returned Stream
	// yields text chunks until io.EOF on natural completion; any other
	// error from Recv is terminal for the stream.
	ChatStream(ctx context.Context, model string, messages []datatypes.Message, params GenerationParams) (Stream, error)
}

// Stream yields generated text incrementally.
type Stream interface {
	// Recv returns the next text chunk. io.EOF signals natural
	// completion; any other error is a terminal stream failure.
	Recv() (string, error)

	// Close releases the underlying connection. Safe to call after
	// Recv has returned an error.
	Close() error
}
