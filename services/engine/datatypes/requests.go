// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the debate engine.
//
// This file contains request and response types for the session, turn,
// and scoring endpoints, with validation via go-playground/validator.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Input Limits
// =============================================================================

const (
	// MaxTurnContentBytes is the maximum size of a single turn's content.
	// Checked as byte length, not rune count, to bound memory.
	MaxTurnContentBytes = 10 * 1024 // 10KB

	// MaxTopicLength is the maximum topic length in bytes.
	MaxTopicLength = 200

	// MaxOpponentLength is the maximum opponent descriptor length in bytes.
	MaxOpponentLength = 500
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// engineValidate is the validator instance for engine request types,
// initialized in init() with custom validators.
var engineValidate *validator.Validate

func init() {
	engineValidate = validator.New()
	_ = engineValidate.RegisterValidation("turnbytes", maxBytes(MaxTurnContentBytes))
	_ = engineValidate.RegisterValidation("topicbytes", maxBytes(MaxTopicLength))
	_ = engineValidate.RegisterValidation("opponentbytes", maxBytes(MaxOpponentLength))
}

// maxBytes builds a validator enforcing a byte-length ceiling on a
// string field. Keeping the ceilings in the constants above means the
// tags cannot drift from the documented limits.
func maxBytes(limit int) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= limit
	}
}

// =============================================================================
// Session Creation
// =============================================================================

// CreateSessionRequest is the body for POST /v1/sessions.
type CreateSessionRequest struct {
	// Topic is the debate motion. Required, at most MaxTopicLength bytes.
	Topic string `json:"topic" validate:"required,topicbytes"`

	// Opponent optionally describes the generated opponent's persona.
	Opponent string `json:"opponent,omitempty" validate:"opponentbytes"`
}

// Validate validates the CreateSessionRequest fields.
func (r *CreateSessionRequest) Validate() error {
	return engineValidate.Struct(r)
}

// CreateSessionResponse is returned on successful session creation.
// On anonymous creation the signed identity token travels separately as
// an HTTP-only cookie, never in the body.
type CreateSessionResponse struct {
	SessionID   string `json:"session_id"`
	Topic       string `json:"topic"`
	Round       int    `json:"round"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// =============================================================================
// Turn Submission
// =============================================================================

// TurnRequest is the body for POST /v1/sessions/:id/messages.
type TurnRequest struct {
	// Content is the participant's argument for this turn.
	Content string `json:"content" validate:"required,turnbytes"`
}

// Validate validates the TurnRequest fields.
func (r *TurnRequest) Validate() error {
	return engineValidate.Struct(r)
}

// TurnResponse is returned after a completed exchange: the persisted user
// message, the generated opponent reply, and the machine's view of the
// session afterward. Round is the round the NEXT user turn belongs to.
type TurnResponse struct {
	UserMessage Message       `json:"user_message"`
	AIMessage   Message       `json:"ai_message"`
	Round       int           `json:"round"`
	Status      SessionStatus `json:"status"`
}

// =============================================================================
// Scoring
// =============================================================================

// ScoreResponse is returned by POST /v1/sessions/:id/score. Cached is true
// when the score was computed by an earlier call and returned verbatim.
type ScoreResponse struct {
	Score  *Score `json:"score"`
	Cached bool   `json:"cached"`
}

// =============================================================================
// Errors
// =============================================================================

// Error codes surfaced to clients. Structured enough that a UI can render
// actionable messaging without parsing free text.
const (
	ErrCodeInvalidRequest       = "invalid_request"
	ErrCodeSessionNotFound      = "session_not_found"
	ErrCodeSessionCompleted     = "session_completed"
	ErrCodeAnonymousTurnLimit   = "anonymous_turn_limit_reached"
	ErrCodeRateLimited          = "rate_limited"
	ErrCodeGenerationFailed     = "generation_failed"
	ErrCodeJudgeResponseInvalid = "judge_response_invalid"
	ErrCodeSessionNotScoreable  = "session_not_scoreable"
	ErrCodeForbidden            = "forbidden"
	ErrCodeConflict             = "append_conflict"
)

// ErrorResponse is the uniform error body for the engine's endpoints.
type ErrorResponse struct {
	Error string `json:"error"`

	// Limit accompanies anonymous_turn_limit_reached and rate_limited.
	Limit int `json:"limit,omitempty"`

	// RetryAfterSeconds accompanies rate_limited.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`

	// Detail carries an optional human-readable explanation.
	Detail string `json:"detail,omitempty"`
}
