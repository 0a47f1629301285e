package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/sparlab/arena/services/engine/datatypes"
)

// OpenAIClient serves generation through the OpenAI chat completions API
// (or any OpenAI-compatible endpoint via base URL override).
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient builds a client from the environment.
//
// OPENAI_API_KEY is required, either as an environment variable or as a
// container secret at /run/secrets/openai_api_key. OPENAI_BASE_URL
// optionally points at a compatible gateway.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
		slog.Info("Using OpenAI-compatible base URL", "base_url", config.BaseURL)
	}

	return &OpenAIClient{client: openai.NewClientWithConfig(config)}, nil
}

// Chat implements the LLMClient interface.
func (o *OpenAIClient) Chat(ctx context.Context, model string,
	messages []datatypes.Message, params GenerationParams) (string, error) {

	slog.Debug("Generating reply via OpenAI", "model", model)

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(model, messages, params, false))
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return "", &BackendError{Provider: "openai", Message: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements the LLMClient interface.
func (o *OpenAIClient) ChatStream(ctx context.Context, model string,
	messages []datatypes.Message, params GenerationParams) (Stream, error) {

	slog.Debug("Opening OpenAI completion stream", "model", model)

	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(model, messages, params, true))
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	return &openaiStream{inner: stream}, nil
}

// buildRequest maps the engine transcript and params onto the wire type.
func (o *OpenAIClient) buildRequest(model string, messages []datatypes.Message,
	params GenerationParams, stream bool) openai.ChatCompletionRequest {

	wireMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		wireMessages = append(wireMessages, openai.ChatCompletionMessage{
			Role:    openaiRole(m.Role),
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: wireMessages,
		Stream:   stream,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// openaiRole maps engine roles onto OpenAI wire roles.
func openaiRole(role datatypes.Role) string {
	switch role {
	case datatypes.RoleSystem:
		return openai.ChatMessageRoleSystem
	case datatypes.RoleAI:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// classifyOpenAIError converts SDK errors into BackendError so the
// fallback chain can classify throttling uniformly.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = err.Error()
		}
		return &BackendError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Message:    msg,
		}
	}
	return fmt.Errorf("openai request failed: %w", err)
}

// openaiStream adapts the SDK stream to the Stream interface.
type openaiStream struct {
	inner *openai.ChatCompletionStream
}

// Recv returns the next non-empty content delta.
func (s *openaiStream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

// Close releases the stream.
func (s *openaiStream) Close() error {
	return s.inner.Close()
}

var _ LLMClient = (*OpenAIClient)(nil)
