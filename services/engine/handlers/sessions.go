// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v4"

	"github.com/sparlab/arena/services/engine/datatypes"
	"github.com/sparlab/arena/services/engine/identity"
	"github.com/sparlab/arena/services/engine/rounds"
	"github.com/sparlab/arena/services/engine/store"
)

// CreateSession handles POST /v1/sessions.
//
// Anonymous creations are additionally capped per client IP (daily
// window) so an unauthenticated client cannot mint unlimited sessions
// by clearing cookies.
func CreateSession(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := requestIdentity(c)
		if !ok {
			return
		}

		var req datatypes.CreateSessionRequest
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

		ownerKind := datatypes.OwnerRegistered
		if ident.Kind == identity.KindAnonymous {
			ownerKind = datatypes.OwnerAnonymous

			if d.AnonSessionLimiter != nil {
				result, err := d.AnonSessionLimiter.Check(c.Request.Context(), c.ClientIP())
				if err != nil {
					slog.Error("anonymous session limiter failed, allowing request", "error", err)
				} else if !result.Allowed {
					d.abortError(c, http.StatusTooManyRequests, datatypes.ErrorResponse{
						Error:             datatypes.ErrCodeRateLimited,
						Limit:             result.Limit,
						RetryAfterSeconds: result.RetryAfter(time.Now()),
					})
					return
				}
			}
		}

		session := &datatypes.Session{
			ID:        shortuuid.New(),
			OwnerKind: ownerKind,
			OwnerID:   ident.ID,
			Topic:     req.Topic,
			Opponent:  req.Opponent,
			Status:    datatypes.StatusActive,
			CreatedAt: time.Now().UnixMilli(),
			Messages: []datatypes.Message{
				datatypes.NewMessage(datatypes.RoleSystem, debateSystemPrompt(req.Topic, req.Opponent)),
			},
		}

		if err := d.Store.Create(c.Request.Context(), session); err != nil {
			// Short ids collide with negligible probability; one retry
			// with a fresh id covers it.
			if err == store.ErrExists {
				session.ID = shortuuid.New()
				err = d.Store.Create(c.Request.Context(), session)
			}
			if err != nil {
				slog.Error("failed to create session", "error", err)
				d.abortError(c, http.StatusInternalServerError, datatypes.ErrorResponse{
					Error: datatypes.ErrCodeInvalidRequest,
				})
				return
			}
		}

		d.recordSessionCreated(string(ownerKind))
		slog.Info("session created", "session_id", session.ID,
			"owner_kind", ownerKind, "topic_length", len(req.Topic))

		c.JSON(http.StatusCreated, datatypes.CreateSessionResponse{
			SessionID:   session.ID,
			Topic:       session.Topic,
			Round:       rounds.CurrentRound(len(session.Messages)),
			IsAnonymous: ownerKind == datatypes.OwnerAnonymous,
		})
	}
}

// GetSession handles GET /v1/sessions/:id.
//
// Only the owner can read a session. A mismatch returns 404 rather
// than 403 so session ids cannot be probed for existence.
func GetSession(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := requestIdentity(c)
		if !ok {
			return
		}

		session, err := d.Store.Get(c.Request.Context(), c.Param("id"))
		if err != nil || !ownsSession(ident, session) {
			if err != nil && err != store.ErrNotFound {
				slog.Error("failed to load session", "error", err)
			}
			d.abortError(c, http.StatusNotFound, datatypes.ErrorResponse{
				Error: datatypes.ErrCodeSessionNotFound,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"session_id": session.ID,
			"topic":      session.Topic,
			"opponent":   session.Opponent,
			"status":     session.Status,
			"round":      rounds.CurrentRound(len(session.Messages)),
			"messages":   publicMessages(session),
			"score":      session.Score,
			"created_at": session.CreatedAt,
		})
	}
}

// publicMessages strips the system persona message from a transcript;
// clients only see the exchange itself.
func publicMessages(session *datatypes.Session) []datatypes.Message {
	out := make([]datatypes.Message, 0, len(session.Messages))
	for _, msg := range session.Messages {
		if msg.Role == datatypes.RoleSystem {
			continue
		}
		out = append(out, msg)
	}
	return out
}
