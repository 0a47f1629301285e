// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine provides the debate session service for Arena.
//
// This package contains the main Service type that coordinates all
// components: HTTP routing, identity resolution, rate limiting, session
// persistence, the opponent model with fallback, the judge, and
// observability infrastructure.
//
// # Hosted Integration
//
// The engine never authenticates account credentials itself. Hosted
// deployments supply an extensions.AuthProvider at construction time;
// self-hosted deployments pass nil and every visitor debates on the
// anonymous cookie path.
//
// # Usage
//
//	cfg := engine.Config{Port: 12310, LLMBackend: "openai"}
//	svc, err := engine.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sparlab/arena/pkg/extensions"
	"github.com/sparlab/arena/services/engine/handlers"
	"github.com/sparlab/arena/services/engine/identity"
	"github.com/sparlab/arena/services/engine/judge"
	"github.com/sparlab/arena/services/engine/middleware"
	"github.com/sparlab/arena/services/engine/observability"
	"github.com/sparlab/arena/services/engine/ratelimit"
	"github.com/sparlab/arena/services/engine/routes"
	"github.com/sparlab/arena/services/engine/store"
	"github.com/sparlab/arena/services/llm"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the debate engine service.
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers
	// must not modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds debate engine configuration options. All fields are
// optional with defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// LLMBackend specifies the generation provider.
	// Valid values: "openai", "ollama", "claude", "anthropic"
	// Default: "openai"
	LLMBackend string

	// DebateModel is the primary model for opponent replies.
	// Default: "gpt-4o-mini"
	DebateModel string

	// FallbackModels are tried in order when the model ahead of them
	// reports overload. The primary model is always first.
	FallbackModels []string

	// ModelOverride pins generation to a single model, disabling
	// fallback. Used for incident response and evaluation runs.
	ModelOverride string

	// JudgeModel scores finished debates. Default: DebateModel.
	JudgeModel string

	// StoreBackend selects session persistence.
	// Valid values: "badger", "memory"
	// Default: "badger"
	StoreBackend string

	// BadgerPath is the on-disk location for the badger store.
	// Default: "./data/sessions"
	BadgerPath string

	// RedisAddr enables Redis-backed rate limit counters shared across
	// replicas. Empty means per-process in-memory counters.
	RedisAddr string

	// IdentitySecret signs anonymous identity cookies. Empty falls back
	// to the development secret with a warning.
	IdentitySecret string

	// AnonTurnCap is the per-session user turn ceiling for anonymous
	// owners. Default: handlers.DefaultAnonTurnCap.
	AnonTurnCap int

	// IPRequestsPerMinute caps requests per client IP.
	// Default: 60
	IPRequestsPerMinute int

	// IdentityRequestsPerMinute caps requests per resolved identity.
	// Default: 30
	IdentityRequestsPerMinute int

	// AnonSessionsPerDay caps anonymous session creation per client IP.
	// Default: 10
	AnonSessionsPerDay int

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "arena-otel-collector:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use. All fields are
// read-only after New() returns.
type service struct {
	config        Config
	auth          extensions.AuthProvider
	router        *gin.Engine
	llmClient     *llm.FallbackClient
	sessionStore  store.SessionStore
	redisClient   *redis.Client
	metrics       *observability.EngineMetrics
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a debate engine Service with the given configuration.
//
// Initialization order: defaults, tracing, metrics, session store,
// rate limit stores, LLM client with fallback, judge, HTTP routes.
// If auth is nil, all traffic uses the anonymous identity path.
func New(cfg Config, auth extensions.AuthProvider) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
		auth:   auth,
	}
	if s.auth == nil {
		s.auth = &extensions.NopAuthProvider{}
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.metrics = observability.InitMetrics()

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting debate engine server", "port", s.config.Port,
		"backend", s.config.LLMBackend, "store", s.config.StoreBackend)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "openai"
	}
	if cfg.DebateModel == "" {
		cfg.DebateModel = "gpt-4o-mini"
	}
	if cfg.JudgeModel == "" {
		cfg.JudgeModel = cfg.DebateModel
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "badger"
	}
	if cfg.BadgerPath == "" {
		cfg.BadgerPath = "./data/sessions"
	}
	if cfg.AnonTurnCap == 0 {
		cfg.AnonTurnCap = handlers.DefaultAnonTurnCap
	}
	if cfg.IPRequestsPerMinute == 0 {
		cfg.IPRequestsPerMinute = 60
	}
	if cfg.IdentityRequestsPerMinute == 0 {
		cfg.IdentityRequestsPerMinute = 30
	}
	if cfg.AnonSessionsPerDay == 0 {
		cfg.AnonSessionsPerDay = 10
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "arena-otel-collector:4317"
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing with an
// OTLP exporter over an insecure gRPC connection, appropriate for
// internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("debate-engine")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStore initializes session persistence.
func (s *service) initStore() error {
	switch s.config.StoreBackend {
	case "memory":
		s.sessionStore = store.NewMemoryStore()
		slog.Info("Using in-memory session store")
		return nil
	case "badger":
		bs, err := store.NewBadgerStore(store.BadgerConfig{
			Path:       s.config.BadgerPath,
			SyncWrites: true,
			Logger:     slog.Default(),
		})
		if err != nil {
			return err
		}
		s.sessionStore = bs
		slog.Info("Using badger session store", "path", s.config.BadgerPath)
		return nil
	default:
		return fmt.Errorf("unknown store backend: %s", s.config.StoreBackend)
	}
}

// initLLMClient creates the provider client for the configured backend
// and wraps it in the fallback chain.
func (s *service) initLLMClient() error {
	var backend llm.LLMClient
	var err error

	switch s.config.LLMBackend {
	case "openai":
		backend, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		backend, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "claude", "anthropic":
		backend, err = llm.NewAnthropicClient()
		slog.Info("Using Anthropic (Claude) LLM backend")
	default:
		return fmt.Errorf("unknown LLM backend: %s", s.config.LLMBackend)
	}
	if err != nil {
		return err
	}

	s.llmClient = llm.NewFallbackClient(backend, s.config.FallbackModels, s.config.ModelOverride)
	s.llmClient.OnFallback = s.metrics.RecordFallback
	return nil
}

// rateLimitStore returns the counter backend shared by all limiters:
// Redis when configured, otherwise per-process memory.
func (s *service) rateLimitStore() ratelimit.Store {
	if s.config.RedisAddr == "" {
		return ratelimit.NewMemoryStore()
	}
	s.redisClient = redis.NewClient(&redis.Options{Addr: s.config.RedisAddr})
	slog.Info("Using Redis rate limit counters", "addr", s.config.RedisAddr)
	return ratelimit.NewRedisStore(s.redisClient, "arena:ratelimit")
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("debate-engine"))

	counters := s.rateLimitStore()
	ipLimiter := ratelimit.New("ip", s.config.IPRequestsPerMinute, time.Minute, counters)
	identityLimiter := ratelimit.New("identity", s.config.IdentityRequestsPerMinute, time.Minute, counters)
	anonSessionLimiter := ratelimit.New("anon_sessions", s.config.AnonSessionsPerDay, 24*time.Hour, counters)

	deps := &handlers.Deps{
		Store:              s.sessionStore,
		LLM:                s.llmClient,
		Judge:              judge.New(s.llmClient, s.config.JudgeModel),
		DebateModel:        s.config.DebateModel,
		AnonTurnCap:        s.config.AnonTurnCap,
		AnonSessionLimiter: anonSessionLimiter,
		Metrics:            s.metrics,
	}

	limits := middleware.RateLimitOptions{
		Tiers:    middleware.RegisteredOrAnonymousTiers(ipLimiter, identityLimiter),
		OnDenial: s.metrics.RecordRateLimitDenial,
	}

	resolver := identity.NewResolver(s.config.IdentitySecret)
	routes.SetupRoutes(s.router, deps, s.auth, resolver, limits)
}

// cleanup releases all resources held by the service. Called when
// Run() exits or on initialization failure.
func (s *service) cleanup() {
	if s.sessionStore != nil {
		if err := s.sessionStore.Close(); err != nil {
			slog.Warn("session store close error", "error", err)
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			slog.Warn("redis close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
