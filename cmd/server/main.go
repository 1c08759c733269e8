// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// SATVOS — Invoice Ingestion Service
//
// Entry point for the Go ingestion service. It:
//  1. Loads configuration from config.yaml and environment variables
//  2. Connects to PostgreSQL (tenant directory) and Redis (dedup)
//  3. Builds the S3 mail store and the ingestion pipeline
//  4. Serves the SNS inbound endpoint for SES receipt events
//  5. Serves a health check endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/satvos/ingestion/internal/config"
	"github.com/satvos/ingestion/internal/dedup"
	"github.com/satvos/ingestion/internal/ingest"
	"github.com/satvos/ingestion/internal/satvos"
	"github.com/satvos/ingestion/internal/storage"
	"github.com/satvos/ingestion/internal/tenant"
	"github.com/satvos/ingestion/internal/webhook"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// Still log even if config is broken — this is a deployment issue
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting SATVOS invoice ingestion service",
		"s3_bucket", cfg.S3Bucket,
		"s3_prefix", cfg.S3Prefix,
		"cache_ttl", cfg.TenantCacheTTL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Tenant Directory + Cache ---
	store, err := tenant.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise tenant store", "error", err)
		os.Exit(1)
	}
	tenants := tenant.NewCache(store, cfg.TenantCacheTTL)

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	filter := dedup.NewFilter(rdb)
	if err := filter.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- S3 Mail Store ---
	mailStore, err := storage.NewMailStore(ctx, storage.Options{
		Bucket:    cfg.S3Bucket,
		Prefix:    cfg.S3Prefix,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		slog.Error("failed to initialise S3 mail store", "error", err)
		os.Exit(1)
	}

	// --- Ingestion Pipeline ---
	apiHTTPClient := &http.Client{Timeout: cfg.RequestTimeout}
	processor := ingest.NewProcessor(ingest.ProcessorConfig{
		Tenants:        tenants,
		Mail:           mailStore,
		Dedup:          filter,
		DefaultBaseURL: cfg.DefaultAPIBaseURL,
		NewClient: func(baseURL, tenantSlug string) ingest.APIClient {
			return satvos.NewClient(apiHTTPClient, baseURL, tenantSlug)
		},
	})

	// --- Inbound SNS Endpoint ---
	handler := webhook.NewHandler(processor)
	ready, err := webhook.Serve(ctx, cfg.InboundPort, handler)
	if err != nil {
		slog.Error("failed to start inbound server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("inbound server ready")

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := filter.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the inbound server

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("ingestion service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingestion service stopped")
}
