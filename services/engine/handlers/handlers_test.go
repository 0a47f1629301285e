// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparlab/arena/services/engine/datatypes"
	"github.com/sparlab/arena/services/engine/identity"
	"github.com/sparlab/arena/services/engine/judge"
	"github.com/sparlab/arena/services/engine/middleware"
	"github.com/sparlab/arena/services/engine/ratelimit"
	"github.com/sparlab/arena/services/engine/rounds"
	"github.com/sparlab/arena/services/engine/store"
	"github.com/sparlab/arena/services/llm"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// MockLLMClient implements llm.LLMClient for handler testing.
type MockLLMClient struct {
	ChatResponse string
	ChatError    error
	StreamChunks []string
	StreamError  error

	ChatCalls atomic.Int64
}

func (m *MockLLMClient) Chat(ctx context.Context, model string, messages []datatypes.Message,
	params llm.GenerationParams) (string, error) {
	m.ChatCalls.Add(1)
	return m.ChatResponse, m.ChatError
}

func (m *MockLLMClient) ChatStream(ctx context.Context, model string, messages []datatypes.Message,
	params llm.GenerationParams) (llm.Stream, error) {
	if m.StreamError != nil {
		return nil, m.StreamError
	}
	return &mockStream{chunks: m.StreamChunks}, nil
}

type mockStream struct {
	chunks []string
	pos    int
}

func (s *mockStream) Recv() (string, error) {
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *mockStream) Close() error { return nil }

// newTestDeps builds handler dependencies on an in-memory store with a
// mock debate model and a mock judge model.
func newTestDeps() (*Deps, *MockLLMClient, *MockLLMClient) {
	debateLLM := &MockLLMClient{ChatResponse: "A spirited counterargument."}
	judgeLLM := &MockLLMClient{ChatResponse: validVerdictJSON}
	d := &Deps{
		Store:       store.NewMemoryStore(),
		LLM:         debateLLM,
		Judge:       judge.New(judgeLLM, "judge-model"),
		DebateModel: "debate-model",
	}
	return d, debateLLM, judgeLLM
}

const validVerdictJSON = `{"winner":"ai","user_score":61,"ai_score":74,` +
	`"category_breakdown":{"logic":70,"evidence":75,"persuasion":72,"rebuttal":78},` +
	`"narrative":"The opponent held the stronger line of argument."}`

var (
	registeredIdent = identity.Identity{Kind: identity.KindRegistered, ID: "user-42"}
	anonymousIdent  = identity.Identity{Kind: identity.KindAnonymous, ID: "anon-abc"}
)

// newSessionRouter wires every debate route behind a middleware that
// injects a fixed identity, standing in for the real identity layer.
func newSessionRouter(d *Deps, ident identity.Identity) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		middleware.SetIdentity(c, ident)
		c.Next()
	})
	router.POST("/v1/sessions", CreateSession(d))
	router.GET("/v1/sessions/:id", GetSession(d))
	router.POST("/v1/sessions/:id/messages", SubmitTurn(d))
	router.POST("/v1/sessions/:id/messages/stream", SubmitTurnStream(d))
	router.POST("/v1/sessions/:id/score", ScoreSession(d))
	return router
}

// performRequest executes an HTTP request against the test router.
func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// seedSession creates a session directly in the store with the given
// number of user/AI exchange pairs already played.
func seedSession(t *testing.T, d *Deps, ident identity.Identity, exchanges int) *datatypes.Session {
	t.Helper()

	ownerKind := datatypes.OwnerRegistered
	if ident.Kind == identity.KindAnonymous {
		ownerKind = datatypes.OwnerAnonymous
	}
	messages := []datatypes.Message{
		datatypes.NewMessage(datatypes.RoleSystem, debateSystemPrompt("Cats are better than dogs", "")),
	}
	for i := 0; i < exchanges; i++ {
		messages = append(messages,
			datatypes.NewMessage(datatypes.RoleUser, "user argument"),
			datatypes.NewMessage(datatypes.RoleAI, "opponent reply"),
		)
	}

	session := &datatypes.Session{
		ID:        "sess-test",
		OwnerKind: ownerKind,
		OwnerID:   ident.ID,
		Topic:     "Cats are better than dogs",
		Messages:  messages,
		Status:    datatypes.StatusActive,
		CreatedAt: time.Now().UnixMilli(),
	}
	require.NoError(t, d.Store.Create(context.Background(), session))
	return session
}

// =============================================================================
// CreateSession Tests
// =============================================================================

func TestCreateSession_Registered(t *testing.T) {
	d, _, _ := newTestDeps()
	router := newSessionRouter(d, registeredIdent)

	w := performRequest(router, "POST", "/v1/sessions",
		datatypes.CreateSessionRequest{Topic: "Remote work beats office work"})

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp datatypes.CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "Remote work beats office work", resp.Topic)
	assert.Equal(t, 1, resp.Round)
	assert.False(t, resp.IsAnonymous)

	stored, err := d.Store.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.OwnerRegistered, stored.OwnerKind)
	assert.Equal(t, "user-42", stored.OwnerID)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, datatypes.RoleSystem, stored.Messages[0].Role)
}

func TestCreateSession_MissingTopic(t *testing.T) {
	d, _, _ := newTestDeps()
	router := newSessionRouter(d, registeredIdent)

	w := performRequest(router, "POST", "/v1/sessions", datatypes.CreateSessionRequest{})

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.ErrCodeInvalidRequest, resp.Error)
}

func TestCreateSession_AnonymousDailyCap(t *testing.T) {
	d, _, _ := newTestDeps()
	d.AnonSessionLimiter = ratelimit.New("anon_sessions", 1, 24*time.Hour, ratelimit.NewMemoryStore())
	router := newSessionRouter(d, anonymousIdent)

	body := datatypes.CreateSessionRequest{Topic: "Pineapple belongs on pizza"}

	w := performRequest(router, "POST", "/v1/sessions", body)
	assert.Equal(t, http.StatusCreated, w.Code)

	var created datatypes.CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.IsAnonymous)

	w = performRequest(router, "POST", "/v1/sessions", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.ErrCodeRateLimited, resp.Error)
	assert.Equal(t, 1, resp.Limit)
	// Whole seconds until the daily window resets.
	assert.Greater(t, resp.RetryAfterSeconds, 0)
	assert.LessOrEqual(t, resp.RetryAfterSeconds, 24*60*60)
}

// =============================================================================
// SubmitTurn Tests
// =============================================================================

func TestSubmitTurn_FirstExchange(t *testing.T) {
	d, debateLLM, _ := newTestDeps()
	debateLLM.ChatResponse = "Dogs offer loyalty cats never will."
	router := newSessionRouter(d, registeredIdent)
	session := seedSession(t, d, registeredIdent, 0)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/messages",
		datatypes.TurnRequest{Content: "Cats are self-sufficient."})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.TurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Cats are self-sufficient.", resp.UserMessage.Content)
	assert.Equal(t, datatypes.RoleUser, resp.UserMessage.Role)
	assert.Equal(t, "Dogs offer loyalty cats never will.", resp.AIMessage.Content)
	assert.Equal(t, datatypes.RoleAI, resp.AIMessage.Role)
	assert.Equal(t, 2, resp.Round)
	assert.Equal(t, datatypes.StatusActive, resp.Status)

	stored, err := d.Store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 3)
}

func TestSubmitTurn_ThirdExchangeCompletes(t *testing.T) {
	d, _, _ := newTestDeps()
	router := newSessionRouter(d, registeredIdent)
	session := seedSession(t, d, registeredIdent, 2)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/messages",
		datatypes.TurnRequest{Content: "In closing, the evidence is overwhelming."})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.TurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, rounds.MaxRounds, resp.Round)
	assert.Equal(t, datatypes.StatusCompleted, resp.Status)

	stored, err := d.Store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, rounds.CompletedMessageCount)
	assert.Equal(t, datatypes.StatusCompleted, stored.Status)
}

func TestSubmitTurn_RejectsCompletedSession(t *testing.T) {
	d, debateLLM, _ := newTestDeps()
	router := newSessionRouter(d, registeredIdent)
	session := seedSession(t, d, registeredIdent, rounds.MaxRounds)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/messages",
		datatypes.TurnRequest{Content: "One more point."})

	assert.Equal(t, http.StatusConflict, w.Code)

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.ErrCodeSessionCompleted, resp.Error)
	assert.Equal(t, int64(0), debateLLM.ChatCalls.Load(),
		"no generation should run for a finished debate")
}

func TestSubmitTurn_AnonymousTurnCap(t *testing.T) {
	d, debateLLM, _ := newTestDeps()
	d.AnonTurnCap = 2
	router := newSessionRouter(d, anonymousIdent)
	session := seedSession(t, d, anonymousIdent, 2)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/messages",
		datatypes.TurnRequest{Content: "Another turn please."})

	assert.Equal(t, http.StatusForbidden, w.Code)

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.ErrCodeAnonymousTurnLimit, resp.Error)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, int64(0), debateLLM.ChatCalls.Load())
}

func TestSubmitTurn_GenerationFailureLeavesTranscriptIntact(t *testing.T) {
	d, debateLLM, _ := newTestDeps()
	debateLLM.ChatError = errors.New("backend exploded")
	router := newSessionRouter(d, registeredIdent)
	session := seedSession(t, d, registeredIdent, 0)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/messages",
		datatypes.TurnRequest{Content: "Opening argument."})

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.ErrCodeGenerationFailed, resp.Error)

	stored, err := d.Store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 1, "a failed exchange must persist nothing")
}

func TestSubmitTurn_OtherOwnerGets404(t *testing.T) {
	d, _, _ := newTestDeps()
	session := seedSession(t, d, registeredIdent, 0)

	intruder := identity.Identity{Kind: identity.KindRegistered, ID: "user-other"}
	router := newSessionRouter(d, intruder)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/messages",
		datatypes.TurnRequest{Content: "Hostile takeover."})

	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.ErrCodeSessionNotFound, resp.Error)
}

func TestSubmitTurn_EmptyContent(t *testing.T) {
	d, _, _ := newTestDeps()
	router := newSessionRouter(d, registeredIdent)
	session := seedSession(t, d, registeredIdent, 0)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/messages",
		datatypes.TurnRequest{Content: ""})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// GetSession Tests
// =============================================================================

func TestGetSession_HidesSystemMessage(t *testing.T) {
	d, _, _ := newTestDeps()
	router := newSessionRouter(d, registeredIdent)
	session := seedSession(t, d, registeredIdent, 1)

	w := performRequest(router, "GET", "/v1/sessions/"+session.ID, nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string              `json:"session_id"`
		Topic     string              `json:"topic"`
		Round     int                 `json:"round"`
		Messages  []datatypes.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, session.ID, resp.SessionID)
	assert.Equal(t, 2, resp.Round)
	require.Len(t, resp.Messages, 2)
	for _, m := range resp.Messages {
		assert.NotEqual(t, datatypes.RoleSystem, m.Role)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	d, _, _ := newTestDeps()
	router := newSessionRouter(d, registeredIdent)

	w := performRequest(router, "GET", "/v1/sessions/no-such-session", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// ScoreSession Tests
// =============================================================================

func TestScoreSession_Success(t *testing.T) {
	d, _, judgeLLM := newTestDeps()
	router := newSessionRouter(d, registeredIdent)
	session := seedSession(t, d, registeredIdent, rounds.MaxRounds)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/score", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ScoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Score)
	assert.False(t, resp.Cached)
	assert.Equal(t, datatypes.WinnerAI, resp.Score.Winner)
	assert.InDelta(t, 74, resp.Score.AIScore, 0.01)
	assert.Equal(t, int64(1), judgeLLM.ChatCalls.Load())
}

func TestScoreSession_SecondCallIsCached(t *testing.T) {
	d, _, judgeLLM := newTestDeps()
	router := newSessionRouter(d, registeredIdent)
	session := seedSession(t, d, registeredIdent, rounds.MaxRounds)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/score", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "POST", "/v1/sessions/"+session.ID+"/score", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ScoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, datatypes.WinnerAI, resp.Score.Winner)
	assert.Equal(t, int64(1), judgeLLM.ChatCalls.Load(),
		"the judge must run at most once per session")
}

func TestScoreSession_NotScoreable(t *testing.T) {
	d, _, judgeLLM := newTestDeps()
	router := newSessionRouter(d, registeredIdent)
	session := seedSession(t, d, registeredIdent, 1)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/score", nil)

	assert.Equal(t, http.StatusConflict, w.Code)

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.ErrCodeSessionNotScoreable, resp.Error)
	assert.Equal(t, int64(0), judgeLLM.ChatCalls.Load())
}

func TestScoreSession_InvalidVerdict(t *testing.T) {
	d, _, judgeLLM := newTestDeps()
	judgeLLM.ChatResponse = "I think the user did quite well overall."
	router := newSessionRouter(d, registeredIdent)
	session := seedSession(t, d, registeredIdent, rounds.MaxRounds)

	w := performRequest(router, "POST", "/v1/sessions/"+session.ID+"/score", nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.ErrCodeJudgeResponseInvalid, resp.Error)

	stored, err := d.Store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Score, "an unparseable verdict must not be persisted")
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}
