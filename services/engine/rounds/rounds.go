// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rounds implements the debate round state machine.
//
// A debate progresses Opening (round 1) -> Rebuttal (round 2) ->
// Closing (round 3) -> completed. Transitions are driven purely by
// transcript length, never by external signals, which makes every
// function here a pure function of message count: trivially testable
// and free of hidden mutable state.
//
// The transcript layout is one leading system message followed by
// user/AI exchange pairs:
//
//	index:  0        1     2    3     4    5     6
//	role:   system   user  ai   user  ai   user  ai
//	round:  -        1     1    2     2    3     3
//
// # Reporting Convention
//
// CurrentRound reports the round the NEXT user turn belongs to. After the
// first full exchange (3 total messages) it returns 2, signaling readiness
// for the second exchange - not "round 1 just finished". Client UIs key
// "Round N of 3" banners off this value, so the convention must hold.
package rounds

// MaxRounds is the structural cap on exchanges per session.
const MaxRounds = 3

// CompletedMessageCount is the transcript length of a finished debate:
// the system message plus MaxRounds user/AI exchange pairs.
const CompletedMessageCount = 1 + 2*MaxRounds

// CurrentRound returns the round for a transcript of messageCount
// messages, clamped to [1, MaxRounds]. The leading system message does
// not count as a round.
func CurrentRound(messageCount int) int {
	if messageCount < 1 {
		return 1
	}
	round := (messageCount-1)/2 + 1
	if round < 1 {
		return 1
	}
	if round > MaxRounds {
		return MaxRounds
	}
	return round
}

// IsCompleted reports whether a transcript of messageCount messages
// represents a finished debate.
func IsCompleted(messageCount int) bool {
	return messageCount >= CompletedMessageCount
}

// Name returns the display label for a round number. Out-of-range values
// fall back to "Closing" since the machine clamps at MaxRounds.
func Name(round int) string {
	switch round {
	case 1:
		return "Opening"
	case 2:
		return "Rebuttal"
	default:
		return "Closing"
	}
}
