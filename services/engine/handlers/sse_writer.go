// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sparlab/arena/services/engine/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to
// HTTP responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics.
// Implementations handle the SSE wire format
// (event: type\ndata: json\n\n) internally. Each event is assigned a
// UUID id and a Unix-millisecond timestamp.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: streaming handlers
// emit tokens and keepalives from different goroutines.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before writing.
type SSEWriter interface {
	// WriteEvent writes a single SSE event and flushes immediately.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStatus writes a progress note (e.g. "Opponent is thinking...").
	WriteStatus(message string) error

	// WriteToken streams the next chunk of the opponent reply.
	WriteToken(content string) error

	// WriteError writes a terminal error event. The message must be
	// client-safe; internal details stay in logs.
	WriteError(code, errMsg string) error

	// WriteDone writes the final event with the turn outcome. Should
	// only be called once per stream.
	WriteDone(sessionID string, round int, status datatypes.SessionStatus) error

	// WriteKeepAlive sends an SSE comment (": ping") so proxies and
	// load balancers don't drop the connection during long model calls.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates an SSEWriter for the given ResponseWriter.
//
// Returns an error when the ResponseWriter does not support
// http.Flusher, which streaming requires.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent writes a single SSE event to the response.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// SSE format: event: type\ndata: json\n\n
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "status",
		Message: message,
	})
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "token",
		Content: content,
	})
}

func (w *sseWriter) WriteError(code, errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      "error",
		Error:     errMsg,
		ErrorCode: code,
	})
}

func (w *sseWriter) WriteDone(sessionID string, round int, status datatypes.SessionStatus) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      "done",
		SessionId: sessionID,
		Round:     round,
		Status:    status,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
