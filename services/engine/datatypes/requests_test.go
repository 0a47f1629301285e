// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"
)

// The byte ceilings live in the Max* constants; these tests build their
// inputs from the same constants so the limits cannot drift from the
// validation tags unnoticed.

func TestCreateSessionRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateSessionRequest
		wantErr bool
	}{
		{"valid", CreateSessionRequest{Topic: "Cats are better than dogs"}, false},
		{"missing topic", CreateSessionRequest{}, true},
		{"topic at limit", CreateSessionRequest{Topic: strings.Repeat("t", MaxTopicLength)}, false},
		{"topic over limit", CreateSessionRequest{Topic: strings.Repeat("t", MaxTopicLength+1)}, true},
		{"opponent at limit", CreateSessionRequest{
			Topic:    "ok",
			Opponent: strings.Repeat("o", MaxOpponentLength),
		}, false},
		{"opponent over limit", CreateSessionRequest{
			Topic:    "ok",
			Opponent: strings.Repeat("o", MaxOpponentLength+1),
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTurnRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     TurnRequest
		wantErr bool
	}{
		{"valid", TurnRequest{Content: "An argument."}, false},
		{"empty", TurnRequest{}, true},
		{"at limit", TurnRequest{Content: strings.Repeat("c", MaxTurnContentBytes)}, false},
		{"over limit", TurnRequest{Content: strings.Repeat("c", MaxTurnContentBytes+1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
