// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command arena runs the Sparlab debate engine.
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sparlab/arena/pkg/logging"
	"github.com/sparlab/arena/services/engine"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "Sparlab Arena debate engine",
	Long:  "Arena hosts timed three-round debates between a participant and a generated opponent.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the debate engine HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal outside local development.
		_ = godotenv.Load()

		logger := logging.New(logging.Config{
			Service: "engine",
			JSON:    true,
			LogDir:  os.Getenv("ARENA_LOG_DIR"),
		})
		defer logger.Close()
		slog.SetDefault(logger.Slog())

		cfg := engine.Config{
			Port:                      getEnvInt("ARENA_PORT", 0),
			LLMBackend:                os.Getenv("ARENA_LLM_BACKEND"),
			DebateModel:               os.Getenv("ARENA_DEBATE_MODEL"),
			FallbackModels:            getEnvList("ARENA_FALLBACK_MODELS"),
			ModelOverride:             os.Getenv("ARENA_MODEL_OVERRIDE"),
			JudgeModel:                os.Getenv("ARENA_JUDGE_MODEL"),
			StoreBackend:              os.Getenv("ARENA_STORE_BACKEND"),
			BadgerPath:                os.Getenv("ARENA_BADGER_PATH"),
			RedisAddr:                 os.Getenv("ARENA_REDIS_ADDR"),
			IdentitySecret:            os.Getenv("ARENA_IDENTITY_SECRET"),
			AnonTurnCap:               getEnvInt("ARENA_ANON_TURN_CAP", 0),
			IPRequestsPerMinute:       getEnvInt("ARENA_IP_RPM", 0),
			IdentityRequestsPerMinute: getEnvInt("ARENA_IDENTITY_RPM", 0),
			AnonSessionsPerDay:        getEnvInt("ARENA_ANON_SESSIONS_PER_DAY", 0),
			OTelEndpoint:              os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			GinMode:                   os.Getenv("GIN_MODE"),
		}

		svc, err := engine.New(cfg, nil)
		if err != nil {
			return err
		}
		return svc.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// getEnvInt reads an integer environment variable, returning fallback
// when unset or malformed.
func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring malformed integer environment variable", "key", key, "value", raw)
		return fallback
	}
	return v
}

// getEnvList reads a comma-separated environment variable.
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
