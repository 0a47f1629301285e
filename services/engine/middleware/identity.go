// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the debate engine.
//
// # Identity Flow
//
// The identity middleware establishes who a request belongs to before
// any handler runs:
//
//	Request
//	   │
//	   ▼
//	IdentityMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │      └─► provider.Validate → registered identity
//	   │
//	   ├─► Else: verify the "arena_identity" cookie
//	   │      └─► valid signature → anonymous identity
//	   │
//	   └─► Else: mint a fresh anonymous identity, set the cookie
//	           │
//	           ▼
//	       Handler (retrieves via GetIdentity)
//
// Every request therefore reaches handlers with a usable identity;
// handlers never deal with the unauthenticated case directly.
//
// # Rate Limiting
//
// RateLimitMiddleware composes limiter tiers (per-IP and per-identity)
// and short-circuits with 429 plus standard rate limit headers when any
// tier denies.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sparlab/arena/pkg/extensions"
	"github.com/sparlab/arena/services/engine/identity"
)

// =============================================================================
// Context Keys
// =============================================================================

// identityKey is the context key for the resolved identity.
const identityKey = "arena_identity_info"

// IdentityCookieName is the cookie carrying the signed anonymous token.
const IdentityCookieName = "arena_identity"

// identityCookieMaxAge keeps anonymous identities stable for a year.
const identityCookieMaxAge = 365 * 24 * 60 * 60

// =============================================================================
// Context Helpers
// =============================================================================

// SetIdentity stores the resolved identity in the Gin context.
func SetIdentity(c *gin.Context, ident identity.Identity) {
	c.Set(identityKey, ident)
}

// GetIdentity retrieves the resolved identity from the Gin context.
//
// Returns ok=false if the identity middleware did not run for this
// request.
func GetIdentity(c *gin.Context) (identity.Identity, bool) {
	if v, exists := c.Get(identityKey); exists {
		if ident, ok := v.(identity.Identity); ok {
			return ident, true
		}
	}
	return identity.Identity{}, false
}

// =============================================================================
// Identity Middleware
// =============================================================================

// IdentityMiddleware resolves the request identity.
//
// # Description
//
// Bearer tokens are validated against the configured AuthProvider and
// yield registered identities. Without one, the anonymous identity
// cookie is verified; a missing or forged cookie results in a freshly
// minted identity whose signed token is set as an HTTP-only cookie on
// the response.
//
// A bearer token that fails validation aborts with 401 rather than
// degrading to anonymous, so a client with an expired credential finds
// out instead of silently burning the anonymous quota.
//
// # Inputs
//
//   - provider: AuthProvider for bearer tokens. Must not be nil.
//   - resolver: anonymous identity resolver. Must not be nil.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func IdentityMiddleware(provider extensions.AuthProvider, resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		if token != "" {
			authInfo, err := provider.Validate(c.Request.Context(), token)
			if err != nil {
				if errors.Is(err, extensions.ErrUnauthorized) {
					c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
						"error": "unauthorized",
					})
					return
				}
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "authentication failed",
				})
				return
			}
			SetIdentity(c, identity.Identity{Kind: identity.KindRegistered, ID: authInfo.UserID})
			c.Next()
			return
		}

		cookieToken, _ := c.Cookie(IdentityCookieName)
		ident := resolver.Resolve("", cookieToken)
		if ident.Kind == identity.KindNone {
			id, signed := resolver.Mint()
			ident = identity.Identity{Kind: identity.KindAnonymous, ID: id}
			c.SetCookie(IdentityCookieName, signed, identityCookieMaxAge, "/", "", false, true)
		}

		SetIdentity(c, ident)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
