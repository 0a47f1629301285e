// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the debate engine.
//
// Handlers are lean: identity and rate limiting run in middleware, the
// round state machine and judge live in their own packages, and the
// handlers orchestrate them against the session store.
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sparlab/arena/services/engine/datatypes"
	"github.com/sparlab/arena/services/engine/identity"
	"github.com/sparlab/arena/services/engine/judge"
	"github.com/sparlab/arena/services/engine/middleware"
	"github.com/sparlab/arena/services/engine/observability"
	"github.com/sparlab/arena/services/engine/ratelimit"
	"github.com/sparlab/arena/services/engine/store"
	"github.com/sparlab/arena/services/llm"
)

// DefaultAnonTurnCap is the per-session user turn ceiling for
// anonymous owners when no explicit cap is configured.
const DefaultAnonTurnCap = 6

// Deps bundles everything the debate handlers need. Constructed once
// by the engine and shared across requests.
type Deps struct {
	// Store is the session persistence collaborator.
	Store store.SessionStore

	// LLM serves opponent generation, usually a FallbackClient.
	LLM llm.LLMClient

	// Judge scores finished debates.
	Judge *judge.Judge

	// DebateModel is the primary model for opponent replies.
	DebateModel string

	// AnonTurnCap is the per-session user turn ceiling for anonymous
	// owners. Zero means DefaultAnonTurnCap.
	AnonTurnCap int

	// AnonSessionLimiter caps anonymous session creation per client IP.
	// Nil disables the cap.
	AnonSessionLimiter *ratelimit.Limiter

	// Metrics is optional; nil disables metric recording.
	Metrics *observability.EngineMetrics
}

func (d *Deps) anonTurnCap() int {
	if d.AnonTurnCap > 0 {
		return d.AnonTurnCap
	}
	return DefaultAnonTurnCap
}

// metric helpers tolerate a nil Metrics so tests can skip registration.

func (d *Deps) recordTurn(transport observability.Transport, success bool, seconds float64) {
	if d.Metrics != nil {
		d.Metrics.RecordTurn(transport, success, seconds)
	}
}

func (d *Deps) recordError(code string) {
	if d.Metrics != nil {
		d.Metrics.RecordError(code)
	}
}

func (d *Deps) recordSessionCreated(ownerKind string) {
	if d.Metrics != nil {
		d.Metrics.RecordSessionCreated(ownerKind)
	}
}

func (d *Deps) recordJudgeVerdict(result string) {
	if d.Metrics != nil {
		d.Metrics.RecordJudgeVerdict(result)
	}
}

// requestIdentity pulls the resolved identity from the Gin context.
// The identity middleware always runs first on debate routes, so a
// missing identity is a wiring bug, reported as a 500.
func requestIdentity(c *gin.Context) (identity.Identity, bool) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error:  datatypes.ErrCodeInvalidRequest,
			Detail: "identity not resolved",
		})
	}
	return ident, ok
}

// ownsSession reports whether the identity owns the session.
func ownsSession(ident identity.Identity, session *datatypes.Session) bool {
	switch session.OwnerKind {
	case datatypes.OwnerRegistered:
		return ident.Kind == identity.KindRegistered && ident.ID == session.OwnerID
	case datatypes.OwnerAnonymous:
		return ident.Kind == identity.KindAnonymous && ident.ID == session.OwnerID
	default:
		return false
	}
}

// abortError writes a wire-format error and records it.
func (d *Deps) abortError(c *gin.Context, status int, resp datatypes.ErrorResponse) {
	d.recordError(resp.Error)
	c.AbortWithStatusJSON(status, resp)
}

// debateSystemPrompt builds the opponent persona message for a new
// session. The opponent always argues against the participant.
func debateSystemPrompt(topic, opponent string) string {
	var sb strings.Builder
	sb.WriteString("You are a skilled debate opponent facing a human debater.\n")
	sb.WriteString(fmt.Sprintf("Debate topic: %s\n", topic))
	if opponent != "" {
		sb.WriteString(fmt.Sprintf("Your persona: %s\n", opponent))
	}
	sb.WriteString("Argue the opposing side of whatever position the human takes. ")
	sb.WriteString("Stay on topic, respond directly to the human's latest argument, ")
	sb.WriteString("and keep each reply under 250 words. The debate runs three rounds: ")
	sb.WriteString("opening, rebuttal, closing.")
	return sb.String()
}

// debateParams are the generation settings for opponent replies.
func debateParams() llm.GenerationParams {
	temp := float32(0.8)
	maxTokens := 1024
	return llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}
}
