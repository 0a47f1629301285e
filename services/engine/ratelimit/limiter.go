// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit implements fixed-window request throttling keyed by
// arbitrary strings (IP, identity id, composites).
//
// The algorithm is deliberately a FIXED window, not sliding/log-based: it
// trades precision (a possible 2x burst straddling a window boundary) for
// O(1) memory and O(1) time per check. That is the right trade for abuse
// dampening; it would be the wrong one for exact quota accounting.
//
// Multiple independent Limiter instances compose into tiers: a coarse
// per-IP ceiling checked before a tighter per-identity ceiling, and a
// very tight per-IP-per-day ceiling for anonymous session creation. Tier
// composition lives in the middleware package; each Limiter knows nothing
// about the others.
//
// Counter state lives behind the Store interface. MemoryStore is the
// default in-process map; RedisStore provides the cross-instance variant
// (atomic INCR with TTL) for multi-instance deployments, with the Check
// contract unchanged.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a single Check call.
type Result struct {
	// Allowed is false once the key has exceeded the window's budget.
	Allowed bool

	// Limit is the configured ceiling, echoed for response headers.
	Limit int

	// Remaining is the number of requests left in the current window,
	// never negative.
	Remaining int

	// ResetAt is when the current window ends and the counter resets.
	ResetAt time.Time
}

// RetryAfter returns the whole seconds until the window resets, at
// least 1. Used for the Retry-After header on denials.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store is the keyed counter backing a Limiter.
//
// Incr atomically increments the counter for key, (re)initializing the
// window when the key is unseen or its window has elapsed, and returns
// the post-increment count along with the window's reset time.
//
// Implementations must be safe for concurrent use; each Incr is an
// atomic read-modify-write on its own entry.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}

// Limiter enforces a fixed-window ceiling of maxRequests per window.
//
// # Example
//
//	ipTier := ratelimit.New("ip", 60, time.Minute, ratelimit.NewMemoryStore())
//	res, err := ipTier.Check(ctx, clientIP)
//	if err == nil && !res.Allowed {
//	    // deny with res.RetryAfter(time.Now())
//	}
type Limiter struct {
	name        string
	maxRequests int
	window      time.Duration
	store       Store
}

// New creates a Limiter named name (used in logs and metrics labels)
// allowing maxRequests per window against the given store.
func New(name string, maxRequests int, window time.Duration, store Store) *Limiter {
	return &Limiter{
		name:        name,
		maxRequests: maxRequests,
		window:      window,
		store:       store,
	}
}

// Name returns the tier name this limiter was constructed with.
func (l *Limiter) Name() string { return l.name }

// Limit returns the configured ceiling.
func (l *Limiter) Limit() int { return l.maxRequests }

// Check counts a request against key and reports whether it fits inside
// the current window.
//
// Every call increments the counter, including denied ones. The window
// boundary is fixed at first observation, so hammering a denied key does
// not push its reset horizon further out.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	count, resetAt, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return Result{}, err
	}

	remaining := l.maxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= l.maxRequests,
		Limit:     l.maxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
