// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package judge scores a finished debate with an LLM verdict.
//
// The judge model is asked for strict JSON. Model output is never
// trusted: the response is stripped of markdown fences, parsed, and
// validated before anything reaches a client or the store.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sparlab/arena/services/engine/datatypes"
	"github.com/sparlab/arena/services/llm"
)

// ErrInvalidResponse indicates the judge model returned output that
// could not be validated into a verdict.
var ErrInvalidResponse = errors.New("judge response invalid")

// ErrNotEligible indicates the transcript is too short to score.
var ErrNotEligible = errors.New("session not eligible for scoring")

// minTurnsPerSide is the minimum number of turns each side must have
// taken before a verdict is meaningful.
const minTurnsPerSide = 2

const judgeSystemPrompt = `You are an impartial debate judge. You will receive a debate transcript between a human debater (USER) and an AI opponent (OPPONENT).

Score the debate and respond with ONLY a JSON object, no prose, in exactly this shape:

{
  "winner": "user" | "ai" | "draw",
  "user_score": <number 0-100>,
  "ai_score": <number 0-100>,
  "category_breakdown": {"logic": <number 0-100>, "evidence": <number 0-100>, "persuasion": <number 0-100>, "rebuttal": <number 0-100>},
  "narrative": "<2-4 sentence explanation of the verdict>"
}

Judge on argument quality alone. Do not favor either side for being human or AI.`

// verdict is the wire shape the judge model is asked to produce.
type verdict struct {
	Winner            string             `json:"winner"`
	UserScore         float64            `json:"user_score"`
	AIScore           float64            `json:"ai_score"`
	CategoryBreakdown map[string]float64 `json:"category_breakdown"`
	Narrative         string             `json:"narrative"`
}

// Judge scores debate transcripts.
type Judge struct {
	client llm.LLMClient
	model  string
}

// New builds a judge backed by the given client and model.
func New(client llm.LLMClient, model string) *Judge {
	return &Judge{client: client, model: model}
}

// Eligible reports whether the session has enough substance to score:
// at least two turns from each side.
func Eligible(session *datatypes.Session) bool {
	return session.UserTurns() >= minTurnsPerSide && session.AITurns() >= minTurnsPerSide
}

// Score asks the judge model for a verdict on the session transcript.
//
// # Outputs
//
//	*datatypes.Score - The validated verdict with scores clamped to 0-100.
//	error - ErrNotEligible for short transcripts, ErrInvalidResponse
//	        when the model output fails validation, or the transport
//	        error from the model call.
func (j *Judge) Score(ctx context.Context, session *datatypes.Session) (*datatypes.Score, error) {
	if !Eligible(session) {
		return nil, ErrNotEligible
	}

	messages := []datatypes.Message{
		datatypes.NewMessage(datatypes.RoleSystem, judgeSystemPrompt),
		datatypes.NewMessage(datatypes.RoleUser, buildTranscript(session)),
	}

	temp := float32(0.0)
	raw, err := j.client.Chat(ctx, j.model, messages, llm.GenerationParams{
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("judge model call failed: %w", err)
	}

	score, err := ParseVerdict(raw)
	if err != nil {
		slog.Warn("Judge returned an unusable verdict", "session_id", session.ID,
			"error", err, "raw_snippet", truncate(raw, 256))
		return nil, err
	}
	return score, nil
}

// buildTranscript renders the debate for the judge. The system
// persona message is summarized as context rather than replayed.
func buildTranscript(session *datatypes.Session) string {
	var sb strings.Builder
	sb.WriteString("Debate topic: ")
	sb.WriteString(session.Topic)
	sb.WriteString("\n\nTranscript:\n")
	for _, msg := range session.Messages {
		switch msg.Role {
		case datatypes.RoleUser:
			sb.WriteString("USER: ")
		case datatypes.RoleAI:
			sb.WriteString("OPPONENT: ")
		default:
			continue
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Provide your verdict now.")
	return sb.String()
}

// ParseVerdict validates raw model output into a Score.
//
// Markdown code fences are stripped first since chat models habitually
// wrap JSON in them. Anything else that deviates from the contract, be
// it trailing prose, an unknown winner value, or unparseable JSON,
// fails with ErrInvalidResponse.
func ParseVerdict(raw string) (*datatypes.Score, error) {
	cleaned := stripFences(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}

	decoder := json.NewDecoder(strings.NewReader(cleaned))
	var v verdict
	if err := decoder.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	// Reject trailing content after the JSON object.
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing content after JSON object", ErrInvalidResponse)
	}

	winner := strings.ToLower(strings.TrimSpace(v.Winner))
	switch winner {
	case datatypes.WinnerUser, datatypes.WinnerAI, datatypes.WinnerDraw:
	default:
		return nil, fmt.Errorf("%w: unknown winner %q", ErrInvalidResponse, v.Winner)
	}

	score := &datatypes.Score{
		Winner:    winner,
		UserScore: clamp(v.UserScore),
		AIScore:   clamp(v.AIScore),
		Narrative: strings.TrimSpace(v.Narrative),
	}
	if len(v.CategoryBreakdown) > 0 {
		score.CategoryBreakdown = make(map[string]float64, len(v.CategoryBreakdown))
		for category, value := range v.CategoryBreakdown {
			score.CategoryBreakdown[category] = clamp(value)
		}
	}
	return score, nil
}

// stripFences removes a surrounding markdown code fence, with or
// without a language tag.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag like "json" on the opening fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{}") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
