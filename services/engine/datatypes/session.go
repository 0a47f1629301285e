// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the debate engine.
//
// This file contains the Session model: one bounded, round-structured
// debate between a participant and a generated opponent. Request and
// response types for the HTTP surface live in requests.go.
package datatypes

import "time"

// Role identifies the author of a message in a debate transcript.
type Role string

const (
	// RoleSystem is the framing message inserted at session creation.
	RoleSystem Role = "system"

	// RoleUser is a participant turn.
	RoleUser Role = "user"

	// RoleAI is a generated opponent turn.
	RoleAI Role = "ai"
)

// SessionStatus is the lifecycle state of a debate session.
// The only legal transition is StatusActive -> StatusCompleted, exactly once.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// OwnerKind distinguishes registered accounts from cookie-carried
// anonymous identities.
type OwnerKind string

const (
	OwnerRegistered OwnerKind = "registered"
	OwnerAnonymous  OwnerKind = "anonymous"
)

// Winner values for a judged debate.
const (
	WinnerUser = "user"
	WinnerAI   = "ai"
	WinnerDraw = "draw"
)

// Message is a single entry in a session's append-only transcript.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"` // Unix milliseconds
}

// NewMessage creates a Message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now().UnixMilli()}
}

// Score is the structured post-hoc judge result for a completed debate.
// Once stored on a session it is immutable.
type Score struct {
	// Winner is one of WinnerUser, WinnerAI, WinnerDraw.
	Winner string `json:"winner"`

	// UserScore and AIScore are clamped to [0, 100].
	UserScore float64 `json:"user_score"`
	AIScore   float64 `json:"ai_score"`

	// CategoryBreakdown holds per-category sub-scores as emitted by the
	// judge (e.g. "logic", "evidence", "rhetoric"). May be nil.
	CategoryBreakdown map[string]float64 `json:"category_breakdown,omitempty"`

	// Narrative is the judge's free-text rationale.
	Narrative string `json:"narrative,omitempty"`
}

// Session is one debate. The transcript is append-only: messages are never
// mutated in place or reordered, and the first message is always the
// system framing inserted at creation.
type Session struct {
	ID string `json:"id"`

	// OwnerKind and OwnerID together form the owner identity: a stable
	// account subject for registered users, or a signed anonymous id.
	OwnerKind OwnerKind `json:"owner_kind"`
	OwnerID   string    `json:"owner_id"`

	// Topic is immutable after creation.
	Topic string `json:"topic"`

	// Opponent is the optional persona descriptor folded into the system
	// message at creation (e.g. "a stern constitutional scholar").
	Opponent string `json:"opponent,omitempty"`

	Messages []Message     `json:"messages"`
	Status   SessionStatus `json:"status"`

	// Score is nil until the session has been judged; write-once after.
	Score *Score `json:"score,omitempty"`

	CreatedAt int64 `json:"created_at"` // Unix milliseconds
}

// UserTurns counts participant messages in the transcript.
func (s *Session) UserTurns() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// AITurns counts generated opponent messages in the transcript.
func (s *Session) AITurns() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleAI {
			n++
		}
	}
	return n
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate shared state behind the store's back.
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.Score != nil {
		sc := *s.Score
		if s.Score.CategoryBreakdown != nil {
			sc.CategoryBreakdown = make(map[string]float64, len(s.Score.CategoryBreakdown))
			for k, v := range s.Score.CategoryBreakdown {
				sc.CategoryBreakdown[k] = v
			}
		}
		out.Score = &sc
	}
	return &out
}
