// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sparlab/arena/services/engine/datatypes"
	"github.com/sparlab/arena/services/engine/judge"
	"github.com/sparlab/arena/services/engine/store"
)

// ScoreSession handles POST /v1/sessions/:id/score.
//
// Scoring is idempotent: the first verdict for a session is stored
// permanently and every later call returns it unchanged. If two judges
// race, whichever write lands first wins and both callers receive the
// stored verdict.
func ScoreSession(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := requestIdentity(c)
		if !ok {
			return
		}

		sessionID := c.Param("id")
		session, err := d.Store.Get(c.Request.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				d.abortError(c, http.StatusNotFound, datatypes.ErrorResponse{
					Error: datatypes.ErrCodeSessionNotFound,
				})
				return
			}
			slog.Error("failed to load session for scoring", "session_id", sessionID, "error", err)
			d.abortError(c, http.StatusInternalServerError, datatypes.ErrorResponse{
				Error: datatypes.ErrCodeGenerationFailed,
			})
			return
		}
		if !ownsSession(ident, session) {
			d.abortError(c, http.StatusNotFound, datatypes.ErrorResponse{
				Error: datatypes.ErrCodeSessionNotFound,
			})
			return
		}

		if session.Score != nil {
			c.JSON(http.StatusOK, datatypes.ScoreResponse{Score: session.Score, Cached: true})
			return
		}

		if !judge.Eligible(session) {
			d.abortError(c, http.StatusConflict, datatypes.ErrorResponse{
				Error:  datatypes.ErrCodeSessionNotScoreable,
				Detail: "each side needs at least two turns before the debate can be scored",
			})
			return
		}

		score, err := d.Judge.Score(c.Request.Context(), session)
		if err != nil {
			if errors.Is(err, judge.ErrInvalidResponse) {
				slog.Error("judge produced an unparseable verdict", "session_id", sessionID, "error", err)
				d.recordJudgeVerdict("invalid")
				d.abortError(c, http.StatusBadGateway, datatypes.ErrorResponse{
					Error: datatypes.ErrCodeJudgeResponseInvalid,
				})
				return
			}
			slog.Error("judge call failed", "session_id", sessionID, "error", err)
			d.recordJudgeVerdict("error")
			d.abortError(c, http.StatusBadGateway, datatypes.ErrorResponse{
				Error: datatypes.ErrCodeGenerationFailed,
			})
			return
		}

		stored, err := d.Store.SetScore(c.Request.Context(), sessionID, score)
		if err != nil {
			// The verdict exists; failing to cache it should not hide
			// it from the caller.
			slog.Error("failed to persist score", "session_id", sessionID, "error", err)
			stored = score
		}

		d.recordJudgeVerdict(stored.Winner)
		c.JSON(http.StatusOK, datatypes.ScoreResponse{Score: stored, Cached: false})
	}
}
