// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the integration points between the debate
// engine and the surrounding product (account system, billing, analytics).
//
// The engine itself never authenticates account credentials. It accepts an
// AuthProvider that turns a bearer token into a stable subject id; when no
// provider is configured (or the token is absent) requests degrade to the
// anonymous identity path handled by the identity package.
package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when token validation fails.
// Hosted deployments should wrap this error with additional context.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information for an authenticated account.
//
// Required fields:
//   - UserID: stable unique identifier for the account
//
// Optional fields may be empty; Metadata lets hosted deployments carry
// provider-specific claims without changing this struct.
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated account.
	// Must never be empty for a successful validation.
	UserID string

	// Email is the account's email address, if the provider supplies it.
	Email string

	// Metadata holds additional claims from the identity provider.
	Metadata map[string]any
}

// AuthProvider validates bearer tokens and returns account identity.
//
// Implementations must be safe for concurrent use. Validation failures
// should wrap ErrUnauthorized so the middleware can distinguish a bad
// token from a provider outage.
//
// A request that presents a bearer token and fails validation is rejected
// outright rather than downgraded to anonymous; silently dropping to the
// anonymous path would mask expired credentials from the client.
type AuthProvider interface {
	// Validate checks the token and returns the account identity.
	//
	// An empty token must return (nil, ErrUnauthorized) rather than an
	// invented identity; the anonymous path handles that case.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider rejects every token, forcing all traffic onto the
// anonymous identity path. This is the default for self-hosted
// deployments without an account system.
type NopAuthProvider struct{}

// Validate always returns ErrUnauthorized.
func (p *NopAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	return nil, ErrUnauthorized
}

// Ensure NopAuthProvider implements AuthProvider.
var _ AuthProvider = (*NopAuthProvider)(nil)
