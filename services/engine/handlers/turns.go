// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sparlab/arena/services/engine/datatypes"
	"github.com/sparlab/arena/services/engine/identity"
	"github.com/sparlab/arena/services/engine/observability"
	"github.com/sparlab/arena/services/engine/rounds"
	"github.com/sparlab/arena/services/engine/store"
)

// turnConflictRetries is how many times a turn is replayed after
// losing the optimistic append race before surfacing a 409.
const turnConflictRetries = 1

// turnError is a classified turn failure ready for the wire.
type turnError struct {
	status int
	resp   datatypes.ErrorResponse
}

// turnOutcome is a successful exchange.
type turnOutcome struct {
	userMessage datatypes.Message
	aiMessage   datatypes.Message
	round       int
	status      datatypes.SessionStatus
}

// SubmitTurn handles POST /v1/sessions/:id/messages.
//
// The opponent reply is generated BEFORE anything is persisted, then
// the user message and the reply are appended in one atomic
// compare-and-swap write. A half-persisted exchange (user message
// without reply) therefore cannot exist, and a lost append race is
// replayed against the fresh transcript.
func SubmitTurn(d *Deps) gin.HandlerFunc {
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

		outcome, terr := d.runTurn(c.Request.Context(), c.Param("id"), ident, req.Content,
			nil, turnConflictRetries)
		if terr != nil {
			d.recordTurn(observability.TransportJSON, false, time.Since(started).Seconds())
			d.abortError(c, terr.status, terr.resp)
			return
		}

		d.recordTurn(observability.TransportJSON, true, time.Since(started).Seconds())
		c.JSON(http.StatusOK, datatypes.TurnResponse{
			UserMessage: outcome.userMessage,
			AIMessage:   outcome.aiMessage,
			Round:       outcome.round,
			Status:      outcome.status,
		})
	}
}

// generateFn produces the opponent reply for a transcript. The JSON
// handler passes nil and gets the blocking chat path; the streaming
// handler substitutes its own function that also feeds the SSE stream.
type generateFn func(ctx context.Context, messages []datatypes.Message) (string, error)

// runTurn executes the full turn protocol. maxRetries bounds conflict
// replays; the streaming handler passes 0 since replaying would send
// the client a second token stream.
func (d *Deps) runTurn(ctx context.Context, sessionID string, ident identity.Identity,
	content string, generate generateFn, maxRetries int) (*turnOutcome, *turnError) {

	if generate == nil {
		generate = func(ctx context.Context, messages []datatypes.Message) (string, error) {
			return d.LLM.Chat(ctx, d.DebateModel, messages, debateParams())
		}
	}

	for attempt := 0; ; attempt++ {
		session, err := d.Store.Get(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &turnError{http.StatusNotFound, datatypes.ErrorResponse{
					Error: datatypes.ErrCodeSessionNotFound,
				}}
			}
			slog.Error("failed to load session for turn", "session_id", sessionID, "error", err)
			return nil, &turnError{http.StatusInternalServerError, datatypes.ErrorResponse{
				Error: datatypes.ErrCodeGenerationFailed,
			}}
		}

		if !ownsSession(ident, session) {
			return nil, &turnError{http.StatusNotFound, datatypes.ErrorResponse{
				Error: datatypes.ErrCodeSessionNotFound,
			}}
		}

		if session.Status == datatypes.StatusCompleted || rounds.IsCompleted(len(session.Messages)) {
			// A transcript at full length whose status flag lagged
			// behind is reconciled here.
			if session.Status != datatypes.StatusCompleted {
				if err := d.Store.SetStatus(ctx, sessionID, datatypes.StatusCompleted); err != nil {
					slog.Error("failed to reconcile completed status", "session_id", sessionID, "error", err)
				}
			}
			return nil, &turnError{http.StatusConflict, datatypes.ErrorResponse{
				Error: datatypes.ErrCodeSessionCompleted,
			}}
		}

		if session.OwnerKind == datatypes.OwnerAnonymous && session.UserTurns() >= d.anonTurnCap() {
			return nil, &turnError{http.StatusForbidden, datatypes.ErrorResponse{
				Error: datatypes.ErrCodeAnonymousTurnLimit,
				Limit: d.anonTurnCap(),
			}}
		}

		userMessage := datatypes.NewMessage(datatypes.RoleUser, content)
		transcript := append(session.Clone().Messages, userMessage)

		reply, err := generate(ctx, transcript)
		if err != nil {
			slog.Error("opponent generation failed", "session_id", sessionID, "error", err)
			return nil, &turnError{http.StatusBadGateway, datatypes.ErrorResponse{
				Error: datatypes.ErrCodeGenerationFailed,
			}}
		}
		aiMessage := datatypes.NewMessage(datatypes.RoleAI, reply)

		// Once the reply exists in full, persist it even if the client
		// disconnected while it was being generated.
		persistCtx := context.WithoutCancel(ctx)
		updated, err := d.Store.AppendMessages(persistCtx, sessionID, len(session.Messages),
			userMessage, aiMessage)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrConflict) && attempt < maxRetries:
				slog.Warn("turn lost append race, replaying", "session_id", sessionID,
					"attempt", attempt+1)
				continue
			case errors.Is(err, store.ErrConflict):
				return nil, &turnError{http.StatusConflict, datatypes.ErrorResponse{
					Error: datatypes.ErrCodeConflict,
				}}
			case errors.Is(err, store.ErrCompleted):
				return nil, &turnError{http.StatusConflict, datatypes.ErrorResponse{
					Error: datatypes.ErrCodeSessionCompleted,
				}}
			default:
				slog.Error("failed to append turn", "session_id", sessionID, "error", err)
				return nil, &turnError{http.StatusInternalServerError, datatypes.ErrorResponse{
					Error: datatypes.ErrCodeGenerationFailed,
				}}
			}
		}

		status := datatypes.StatusActive
		if rounds.IsCompleted(len(updated.Messages)) {
			status = datatypes.StatusCompleted
			if err := d.Store.SetStatus(persistCtx, sessionID, datatypes.StatusCompleted); err != nil {
				slog.Error("failed to mark session completed", "session_id", sessionID, "error", err)
			}
		}

		return &turnOutcome{
			userMessage: userMessage,
			aiMessage:   aiMessage,
			round:       rounds.CurrentRound(len(updated.Messages)),
			status:      status,
		}, nil
	}
}
