// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sparlab/arena/services/engine/datatypes"
	"github.com/sparlab/arena/services/engine/observability"
)

// keepAliveInterval paces SSE comment pings during slow model calls.
const keepAliveInterval = 15 * time.Second

// SubmitTurnStream handles POST /v1/sessions/:id/messages/stream.
//
// The exchange protocol is identical to SubmitTurn; the difference is
// transport. Opponent tokens are forwarded to the client as SSE
// "token" events while the full reply accumulates server-side, and the
// accumulated reply is persisted in the same atomic append as the user
// message once the stream finishes.
//
// A client disconnect cancels the upstream generation via the request
// context. Nothing is persisted for a turn whose stream did not finish,
// so a reconnecting client sees the transcript exactly as before the
// aborted turn.
func SubmitTurnStream(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()

		ident, ok := requestIdentity(c)
		if !ok {
			return
		}

		var req datatypes.TurnRequest
		if err := c.BindJSON(&req); err != nil {
			d.abortError(c, http.StatusBadRequest, datatypes.ErrorResponse{
				Error:  datatypes.ErrCodeInvalidRequest,
				Detail: "invalid request body",
			})
			return
		}
		if err := req.Validate(); err != nil {
			d.abortError(c, http.StatusBadRequest, datatypes.ErrorResponse{
				Error:  datatypes.ErrCodeInvalidRequest,
				Detail: err.Error(),
			})
			return
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			slog.Error("streaming not supported by response writer", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Error: datatypes.ErrCodeGenerationFailed,
			})
			return
		}

		if d.Metrics != nil {
			d.Metrics.StreamStarted()
			defer d.Metrics.StreamEnded()
		}

		// Keepalives cover the window before the first token arrives.
		stopKeepAlive := make(chan struct{})
		defer close(stopKeepAlive)
		go func() {
			ticker := time.NewTicker(keepAliveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := writer.WriteKeepAlive(); err != nil {
						return
					}
				case <-stopKeepAlive:
					return
				}
			}
		}()

		_ = writer.WriteStatus("Opponent is preparing a response...")

		generate := func(ctx context.Context, messages []datatypes.Message) (string, error) {
			stream, err := d.LLM.ChatStream(ctx, d.DebateModel, messages, debateParams())
			if err != nil {
				return "", err
			}
			defer stream.Close()

			var reply strings.Builder
			for {
				chunk, err := stream.Recv()
				if err == io.EOF {
					break
				}
				if err != nil {
					return "", err
				}
				reply.WriteString(chunk)
				if werr := writer.WriteToken(chunk); werr != nil {
					// Client gone; stop pulling tokens so the upstream
					// call winds down.
					return "", werr
				}
			}
			return reply.String(), nil
		}

		sessionID := c.Param("id")
		outcome, terr := d.runTurn(c.Request.Context(), sessionID, ident, req.Content, generate, 0)

		if terr != nil {
			d.recordTurn(observability.TransportSSE, false, time.Since(started).Seconds())
			if c.Request.Context().Err() != nil {
				if d.Metrics != nil {
					d.Metrics.RecordClientDisconnect()
				}
				slog.Info("client disconnected mid-stream", "session_id", sessionID)
				return
			}
			d.recordError(terr.resp.Error)
			_ = writer.WriteError(terr.resp.Error, streamErrorMessage(terr.resp.Error))
			return
		}

		d.recordTurn(observability.TransportSSE, true, time.Since(started).Seconds())
		_ = writer.WriteDone(sessionID, outcome.round, outcome.status)
	}
}

// streamErrorMessage maps wire error codes to client-safe prose for
// the SSE error event.
func streamErrorMessage(code string) string {
	switch code {
	case datatypes.ErrCodeSessionNotFound:
		return "Session not found."
	case datatypes.ErrCodeSessionCompleted:
		return "This debate has already finished."
	case datatypes.ErrCodeAnonymousTurnLimit:
		return "Anonymous turn limit reached. Sign in to continue debating."
	case datatypes.ErrCodeConflict:
		return "Another turn was submitted at the same time. Reload and try again."
	default:
		return "The opponent could not respond. Please try again."
	}
}
