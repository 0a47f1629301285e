package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sparlab/arena/services/engine/datatypes"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"
	anthropicMaxTokens  = 4096
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"` // Top-level system prompt
	MaxTokens int                `json:"max_tokens"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Streaming event payload. Only the fields the reader cares about.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error,omitempty"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

func NewAnthropicClient() (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")

	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API key from container secrets")
		}
	}

	if apiKey == "" {
		slog.Warn("Anthropic API key is missing.")
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}

	baseURL := anthropicBaseURL
	if override := os.Getenv("ANTHROPIC_BASE_URL"); override != "" {
		baseURL = strings.TrimSuffix(override, "/") + "/v1/messages"
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}, nil
}

// Chat implements the LLMClient interface.
func (a *AnthropicClient) Chat(ctx context.Context, model string,
	messages []datatypes.Message, params GenerationParams) (string, error) {

	resp, bodyBytes, err := a.send(ctx, model, messages, params, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse Anthropic response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return "", &BackendError{
			Provider:   "anthropic",
			StatusCode: resp.StatusCode,
			Message:    apiResp.Error.Type + ": " + apiResp.Error.Message,
		}
	}
	if len(apiResp.Content) == 0 {
		return "", &BackendError{Provider: "anthropic", Message: "empty content in response"}
	}

	finalText := ""
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			finalText += block.Text
		}
	}
	if finalText == "" {
		return "", &BackendError{Provider: "anthropic", Message: "no text block in response"}
	}
	return finalText, nil
}

// ChatStream implements the LLMClient interface.
func (a *AnthropicClient) ChatStream(ctx context.Context, model string,
	messages []datatypes.Message, params GenerationParams) (Stream, error) {

	resp, _, err := a.send(ctx, model, messages, params, true)
	if err != nil {
		return nil, err
	}
	return &anthropicStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// send posts a messages request and handles the non-2xx paths. For
// streaming requests the body is left open and bodyBytes is nil.
func (a *AnthropicClient) send(ctx context.Context, model string,
	messages []datatypes.Message, params GenerationParams, stream bool) (*http.Response, []byte, error) {

	var apiMessages []anthropicMessage
	var systemPrompt string

	for _, msg := range messages {
		if msg.Role == datatypes.RoleSystem {
			systemPrompt = msg.Content
			continue
		}
		role := "user"
		if msg.Role == datatypes.RoleAI {
			role = "assistant"
		}
		apiMessages = append(apiMessages, anthropicMessage{Role: role, Content: msg.Content})
	}

	reqPayload := anthropicRequest{
		Model:       model,
		Messages:    apiMessages,
		System:      systemPrompt,
		MaxTokens:   anthropicMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
		Stream:      stream,
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal Anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic", "model", model, "stream", stream)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		slog.Warn("Anthropic returned an error", "status_code", resp.StatusCode,
			"body_snippet", snippet(bodyBytes))
		return nil, nil, &BackendError{
			Provider:   "anthropic",
			StatusCode: resp.StatusCode,
			Message:    string(bodyBytes),
		}
	}

	if stream {
		return resp, nil, nil
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("failed to read Anthropic response body: %w", err)
	}
	return resp, bodyBytes, nil
}

func snippet(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}

// anthropicStream reads text deltas off the SSE event stream.
type anthropicStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Recv returns the next content_block_delta text. It returns io.EOF
// after message_stop or when the server closes the stream.
func (s *anthropicStream) Recv() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return "", io.EOF
			}
			return "", fmt.Errorf("anthropic stream read failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			slog.Warn("Skipping unparseable Anthropic stream event", "data_snippet", snippet([]byte(data)))
			continue
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text != "" {
				return event.Delta.Text, nil
			}
		case "message_stop":
			return "", io.EOF
		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Type + ": " + event.Error.Message
			}
			return "", &BackendError{Provider: "anthropic", Message: msg}
		}
	}
}

func (s *anthropicStream) Close() error {
	return s.body.Close()
}

var _ LLMClient = (*AnthropicClient)(nil)
