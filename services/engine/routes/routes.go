// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sparlab/arena/pkg/extensions"
	"github.com/sparlab/arena/services/engine/handlers"
	"github.com/sparlab/arena/services/engine/identity"
	"github.com/sparlab/arena/services/engine/middleware"
)

// SetupRoutes registers the debate engine's HTTP surface.
//
// /health and /metrics sit outside the v1 group so probes and scrapers
// never consume rate limit quota or mint identity cookies.
func SetupRoutes(router *gin.Engine, d *handlers.Deps, auth extensions.AuthProvider,
	resolver *identity.Resolver, limits middleware.RateLimitOptions) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.IdentityMiddleware(auth, resolver))
	v1.Use(middleware.RateLimitMiddleware(limits))
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", handlers.CreateSession(d))
			sessions.GET("/:id", handlers.GetSession(d))
			sessions.POST("/:id/messages", handlers.SubmitTurn(d))
			sessions.POST("/:id/messages/stream", handlers.SubmitTurnStream(d))
			sessions.POST("/:id/score", handlers.ScoreSession(d))
		}
	}
}
