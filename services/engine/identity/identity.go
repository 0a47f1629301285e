// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package identity issues and verifies tamper-evident anonymous
// identities for unauthenticated participants.
//
// An anonymous identity is a random UUID plus an HMAC-SHA256 signature
// over it, encoded as "id.signature" and stored client-side as an opaque
// HTTP-only cookie. The resolver never trusts a bare id without a
// matching signature, so a client cannot forge someone else's identity
// (or a fresh quota) by editing the cookie.
//
// Identity here gates rate limits, not access to sensitive data. A
// malformed or forged token therefore degrades to "no identity" and the
// caller mints a fresh one - fail open, but re-issue.
//
// # Resolution Order
//
//  1. An authenticated account subject, when present, is authoritative.
//  2. Otherwise a cookie token with a verifying signature.
//  3. Otherwise KindNone; the caller mints and signs a new identity.
//
// The resolver performs no network or storage access; resolution is pure
// derivation and completes synchronously.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// Kind classifies a resolved identity.
type Kind string

const (
	// KindNone means no identity could be established; the caller is
	// responsible for minting a fresh anonymous identity.
	KindNone Kind = "none"

	// KindAnonymous is a verified cookie-carried identity.
	KindAnonymous Kind = "anonymous"

	// KindRegistered is an externally-authenticated account subject.
	KindRegistered Kind = "registered"
)

// Identity is the result of resolution.
type Identity struct {
	Kind Kind
	ID   string
}

// IsAnonymous reports whether the identity is cookie-carried (or absent).
func (i Identity) IsAnonymous() bool {
	return i.Kind != KindRegistered
}

// devFallbackSecret keeps resolution functional when no secret is
// configured. Development only: every deployment-facing checklist item
// requires ARENA_IDENTITY_SECRET in production, but a missing secret must
// not crash resolution at runtime.
const devFallbackSecret = "arena-dev-identity-secret-do-not-deploy"

// Resolver signs and verifies anonymous identity tokens.
//
// The signing secret lives in a memguard enclave: encrypted at rest in
// process memory, decrypted into an mlocked buffer only for the duration
// of each HMAC computation, and wiped immediately after. The plaintext
// secret is never resident between signing operations.
//
// # Thread Safety
//
// Resolver is immutable after construction and safe for concurrent use;
// each sign opens its own buffer view of the enclave.
type Resolver struct {
	secret *memguard.Enclave
}

// NewResolver creates a Resolver with the given signing secret.
//
// An empty secret falls back to the documented development secret with a
// warning; supplying a real secret is a configuration responsibility of
// the deployment, not something the resolver enforces at runtime. The
// secret is sealed into locked memory on construction.
func NewResolver(secret string) *Resolver {
	if secret == "" {
		slog.Warn("identity signing secret not configured, using development fallback")
		secret = devFallbackSecret
	}
	// NewEnclave wipes the source slice, so hand it a private copy
	// rather than the caller's backing array.
	return &Resolver{secret: memguard.NewEnclave([]byte(secret))}
}

// Resolve establishes the identity for a request.
//
// subject is the externally-authenticated account id (may be empty);
// cookieToken is the raw identity cookie value (may be empty). When both
// are absent or the token fails verification, the result is KindNone and
// the caller mints a fresh identity before first use.
func (r *Resolver) Resolve(subject, cookieToken string) Identity {
	if subject != "" {
		return Identity{Kind: KindRegistered, ID: subject}
	}
	if cookieToken != "" {
		if id, ok := r.Verify(cookieToken); ok {
			return Identity{Kind: KindAnonymous, ID: id}
		}
	}
	return Identity{Kind: KindNone}
}

// Mint generates a fresh anonymous identity.
//
// Returns the bare id (for rate-limit keying and session ownership) and
// the signed token (for the client cookie).
func (r *Resolver) Mint() (id, token string) {
	id = uuid.New().String()
	return id, id + "." + r.sign(id)
}

// Verify checks a token's signature and extracts the id.
//
// The token is split on the LAST separator so ids containing dots remain
// verifiable. The recomputed signature is compared with hmac.Equal, a
// constant-time routine, so response timing never reveals how close a
// forged signature is. Any malformed token yields ok=false; callers must
// treat that identically to an absent token.
func (r *Resolver) Verify(token string) (id string, ok bool) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 {
		return "", false
	}
	id, sig := token[:idx], token[idx+1:]

	expected := r.sign(id)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", false
	}
	return id, true
}

// sign computes the hex-encoded HMAC-SHA256 of id under the resolver's
// secret. HMAC replaces the naive H(secret || id || secret) construction:
// same sign/verify surface, standard keyed-hash guarantees.
//
// An enclave open failure yields an empty signature; the resulting token
// never verifies, so resolution degrades to KindNone rather than
// panicking inside a request.
func (r *Resolver) sign(id string) string {
	key, err := r.secret.Open()
	if err != nil {
		slog.Error("failed to open identity secret enclave", "error", err)
		return ""
	}
	defer key.Destroy()

	mac := hmac.New(sha256.New, key.Bytes())
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}
