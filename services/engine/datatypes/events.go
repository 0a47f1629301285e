// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// StreamEvent is one Server-Sent Event on a streaming turn.
//
// Event types:
//   - "token": Content carries the next chunk of the opponent reply.
//   - "status": Message carries a human-readable progress note.
//   - "error": Error and ErrorCode describe a terminal failure.
//   - "done": SessionId, Round and Status describe the turn outcome.
type StreamEvent struct {
	Id        string `json:"id,omitempty"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at,omitempty"`

	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	SessionId string        `json:"session_id,omitempty"`
	Round     int           `json:"round,omitempty"`
	Status    SessionStatus `json:"status,omitempty"`
}
