// Copyright 2026 The CollectOps Authors
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

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/collectops/collectops/internal/auth"
	"github.com/collectops/collectops/internal/observability/logger"
	"github.com/collectops/collectops/internal/scheduler"
	transportHTTP "github.com/collectops/collectops/internal/transport/http"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the in-process scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	slog.InfoContext(ctx, "starting collectops", slog.String("version", Version), slog.String("environment", cfg.Environment))

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	verifier, err := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, nil)
	if err != nil {
		return err
	}

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	handler := transportHTTP.NewHandler(a.services(), verifier, a.auditLogger, transportHTTP.Options{
		CronSecret:      cfg.Cron.Secret,
		DefaultCapacity: cfg.Planner.DefaultCapacity,
		MaxCapacity:     cfg.Planner.MaxCapacity,
		RequestTimeout:  cfg.Server.WriteTimeout,
		Health:          a.repos.health,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      transportHTTP.NewRouter(handler, rateLimiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.InfoContext(gctx, "starting http server", logger.Component("server"), logger.Operation("listen"), slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		rateLimiter.Run(gctx)
		return nil
	})

	if cfg.Cron.SchedulerEnabled {
		sched := scheduler.New(a.scanner, a.planner, cfg.Cron.SweepInterval, nil)
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	err = g.Wait()
	slog.Info("server stopped")
	return err
}
