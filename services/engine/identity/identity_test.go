// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package identity

import (
	"errors"
	"strings"
	"testing"
)

// TestMintVerify_RoundTrip verifies that a freshly minted token verifies
// back to its original id.
func TestMintVerify_RoundTrip(t *testing.T) {
	r := NewResolver("test-secret")

	id, token := r.Mint()
	if id == "" || token == "" {
		t.Fatal("Mint returned empty id or token")
	}
	if !strings.Contains(token, ".") {
		t.Fatalf("Token %q missing separator", token)
	}

	got, ok := r.Verify(token)
	if !ok {
		t.Fatal("Verify rejected a freshly minted token")
	}
	if got != id {
		t.Errorf("Verify returned id %q, want %q", got, id)
	}
}

// TestVerify_FlippedSignatureByte verifies that corrupting any single
// character of the signature segment invalidates the token.
func TestVerify_FlippedSignatureByte(t *testing.T) {
	r := NewResolver("test-secret")
	_, token := r.Mint()

	sep := strings.LastIndex(token, ".")
	for i := sep + 1; i < len(token); i++ {
		flipped := []byte(token)
		if flipped[i] == 'a' {
			flipped[i] = 'b'
		} else {
			flipped[i] = 'a'
		}
		if _, ok := r.Verify(string(flipped)); ok {
			t.Fatalf("Verify accepted token with flipped signature byte at %d", i)
		}
	}
}

// TestVerify_Malformed verifies that structurally broken tokens are
// rejected rather than crashing or partially matching.
func TestVerify_Malformed(t *testing.T) {
	r := NewResolver("test-secret")

	cases := []string{
		"",
		"no-separator",
		".leadingdot",
		"trailingdot.",
		"id.shortsig",
		"id.",
		".",
	}
	for _, token := range cases {
		if _, ok := r.Verify(token); ok {
			t.Errorf("Verify accepted malformed token %q", token)
		}
	}
}

// TestVerify_WrongSecret verifies that a token signed under one secret
// does not verify under another.
func TestVerify_WrongSecret(t *testing.T) {
	a := NewResolver("secret-a")
	b := NewResolver("secret-b")

	_, token := a.Mint()
	if _, ok := b.Verify(token); ok {
		t.Error("Token signed under secret-a verified under secret-b")
	}
}

// TestVerify_DotInID verifies that ids containing dots survive the
// split-on-last-separator rule.
func TestVerify_DotInID(t *testing.T) {
	r := NewResolver("test-secret")

	id := "user.with.dots"
	token := id + "." + r.sign(id)

	got, ok := r.Verify(token)
	if !ok {
		t.Fatal("Verify rejected token whose id contains dots")
	}
	if got != id {
		t.Errorf("Verify returned id %q, want %q", got, id)
	}
}

// TestResolve_RegisteredWins verifies that an authenticated subject is
// authoritative even when a valid anonymous cookie is present.
func TestResolve_RegisteredWins(t *testing.T) {
	r := NewResolver("test-secret")
	_, token := r.Mint()

	got := r.Resolve("acct-42", token)
	if got.Kind != KindRegistered || got.ID != "acct-42" {
		t.Errorf("Resolve = %+v, want registered acct-42", got)
	}
	if got.IsAnonymous() {
		t.Error("Registered identity reported as anonymous")
	}
}

// TestResolve_AnonymousCookie verifies the cookie path when no subject
// is present.
func TestResolve_AnonymousCookie(t *testing.T) {
	r := NewResolver("test-secret")
	id, token := r.Mint()

	got := r.Resolve("", token)
	if got.Kind != KindAnonymous || got.ID != id {
		t.Errorf("Resolve = %+v, want anonymous %s", got, id)
	}
}

// TestResolve_ForgedCookieDegradesToNone verifies the fail-open-but-
// re-issue policy: a forged token is treated as absent, never as an
// authenticated identity.
func TestResolve_ForgedCookieDegradesToNone(t *testing.T) {
	r := NewResolver("test-secret")

	got := r.Resolve("", "forged-id.deadbeef")
	if got.Kind != KindNone {
		t.Errorf("Resolve of forged token = %+v, want KindNone", got)
	}
}

// TestSign_RepeatableAcrossEnclaveOpens verifies that sealing the secret
// in locked memory does not change signing semantics: every sign opens a
// fresh buffer view, computes the same HMAC, and wipes it, so signatures
// stay deterministic across many cycles.
func TestSign_RepeatableAcrossEnclaveOpens(t *testing.T) {
	r := NewResolver("test-secret")

	first := r.sign("stable-id")
	if first == "" {
		t.Fatal("sign returned empty signature")
	}
	for i := 0; i < 100; i++ {
		if got := r.sign("stable-id"); got != first {
			t.Fatalf("sign cycle %d returned %q, want %q", i, got, first)
		}
	}
}

// TestVerify_ConcurrentUse verifies that a single Resolver is safe for
// concurrent mint and verify. Each signing operation holds its own
// decrypted view of the secret.
func TestVerify_ConcurrentUse(t *testing.T) {
	r := NewResolver("test-secret")

	done := make(chan error, 16)
	for g := 0; g < 16; g++ {
		go func() {
			for i := 0; i < 50; i++ {
				id, token := r.Mint()
				got, ok := r.Verify(token)
				if !ok || got != id {
					done <- errVerifyMismatch
					return
				}
			}
			done <- nil
		}()
	}
	for g := 0; g < 16; g++ {
		if err := <-done; err != nil {
			t.Fatal("concurrent mint/verify round trip failed")
		}
	}
}

var errVerifyMismatch = errors.New("verify mismatch")

// TestNewResolver_EmptySecretFallsBack verifies that a missing secret
// does not break resolution.
func TestNewResolver_EmptySecretFallsBack(t *testing.T) {
	r := NewResolver("")

	id, token := r.Mint()
	got, ok := r.Verify(token)
	if !ok || got != id {
		t.Error("Resolver with fallback secret failed mint/verify round trip")
	}
}
