// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sparlab/arena/pkg/extensions"
	"github.com/sparlab/arena/services/engine/datatypes"
	"github.com/sparlab/arena/services/engine/handlers"
	"github.com/sparlab/arena/services/engine/identity"
	"github.com/sparlab/arena/services/engine/judge"
	"github.com/sparlab/arena/services/engine/middleware"
	"github.com/sparlab/arena/services/engine/store"
	"github.com/sparlab/arena/services/llm"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockLLMClient is a minimal mock for llm.LLMClient
type mockLLMClient struct{}

func (m *mockLLMClient) Chat(_ context.Context, _ string, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return "mock chat response", nil
}

func (m *mockLLMClient) ChatStream(_ context.Context, _ string, _ []datatypes.Message, _ llm.GenerationParams) (llm.Stream, error) {
	return &mockStream{}, nil
}

type mockStream struct{ done bool }

func (s *mockStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	s.done = true
	return "mock stream", nil
}

func (s *mockStream) Close() error { return nil }

func newTestRouter() *gin.Engine {
	router := gin.New()
	mockLLM := &mockLLMClient{}
	d := &handlers.Deps{
		Store:       store.NewMemoryStore(),
		LLM:         mockLLM,
		Judge:       judge.New(mockLLM, "judge-model"),
		DebateModel: "debate-model",
	}
	SetupRoutes(router, d, &extensions.NopAuthProvider{}, identity.NewResolver("test-secret"),
		middleware.RateLimitOptions{})
	return router
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersAllRoutes(t *testing.T) {
	router := newTestRouter()

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/sessions"},
		{"GET", "/v1/sessions/:id"},
		{"POST", "/v1/sessions/:id/messages"},
		{"POST", "/v1/sessions/:id/messages/stream"},
		{"POST", "/v1/sessions/:id/score"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", want.method, want.path)
		}
	}
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_HealthBypassesIdentity(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.IdentityCookieName {
			t.Errorf("Health endpoint must not mint identity cookies")
		}
	}
}

func TestSetupRoutes_SessionRoutesMintIdentity(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/sessions/no-such-id", nil)
	router.ServeHTTP(w, req)

	var minted bool
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.IdentityCookieName {
			minted = true
		}
	}
	if !minted {
		t.Errorf("Expected an identity cookie on a cookieless v1 request")
	}
}
