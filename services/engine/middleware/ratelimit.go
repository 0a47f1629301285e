// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sparlab/arena/services/engine/datatypes"
	"github.com/sparlab/arena/services/engine/ratelimit"
)

// KeyFunc derives a rate-limit key from the request. An empty key
// skips the tier for this request.
type KeyFunc func(c *gin.Context) string

// Tier pairs a limiter with the key it buckets on.
type Tier struct {
	Limiter *ratelimit.Limiter
	Key     KeyFunc
}

// IPKey buckets on the client IP.
func IPKey(c *gin.Context) string {
	return c.ClientIP()
}

// IdentityKey buckets on the resolved identity id. Falls back to the
// client IP when the identity middleware did not run.
func IdentityKey(c *gin.Context) string {
	if ident, ok := GetIdentity(c); ok && ident.ID != "" {
		return string(ident.Kind) + ":" + ident.ID
	}
	return c.ClientIP()
}

// RateLimitOptions configures RateLimitMiddleware.
type RateLimitOptions struct {
	// Tiers are checked in order; the first denial wins.
	Tiers []Tier

	// OnDenial, when set, observes denials for metrics.
	OnDenial func(limiter string)
}

// RateLimitMiddleware enforces the configured limiter tiers.
//
// # Description
//
// Each tier is checked in order. All checks count the request against
// their window even when an earlier tier will deny; a client probing a
// denied endpoint keeps consuming quota everywhere. On denial the
// response is 429 with the wire error code "rate_limited", a Retry-After
// header, and X-RateLimit-* headers describing the denying tier. On
// success the headers describe the most constrained tier (fewest
// remaining requests).
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RateLimitMiddleware(opts RateLimitOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()

		var denied *ratelimit.Result
		var deniedName string
		var tightest *ratelimit.Result

		for _, tier := range opts.Tiers {
			key := tier.Key(c)
			if key == "" {
				continue
			}
			result, err := tier.Limiter.Check(c.Request.Context(), key)
			if err != nil {
				// A broken limiter backend must not take the API down.
				slog.Error("rate limiter check failed, allowing request",
					"limiter", tier.Limiter.Name(), "error", err)
				continue
			}
			if !result.Allowed && denied == nil {
				r := result
				denied = &r
				deniedName = tier.Limiter.Name()
			}
			if tightest == nil || result.Remaining < tightest.Remaining {
				r := result
				tightest = &r
			}
		}

		if denied != nil {
			if opts.OnDenial != nil {
				opts.OnDenial(deniedName)
			}
			retryAfter := denied.RetryAfter(now)
			setRateLimitHeaders(c, denied)
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
				Error:             datatypes.ErrCodeRateLimited,
				Limit:             denied.Limit,
				RetryAfterSeconds: retryAfter,
			})
			return
		}

		if tightest != nil {
			setRateLimitHeaders(c, tightest)
		}
		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, r *ratelimit.Result) {
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", r.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", r.Remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", r.ResetAt.Unix()))
}

// RegisteredOrAnonymousTiers builds the standard two-tier setup: a
// per-IP limiter in front of a per-identity limiter.
func RegisteredOrAnonymousTiers(ipLimiter, identityLimiter *ratelimit.Limiter) []Tier {
	return []Tier{
		{Limiter: ipLimiter, Key: IPKey},
		{Limiter: identityLimiter, Key: IdentityKey},
	}
}
