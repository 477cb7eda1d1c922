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
	"fmt"
	"log/slog"

	"github.com/collectops/collectops/internal/analytics"
	"github.com/collectops/collectops/internal/audit"
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/config"
	"github.com/collectops/collectops/internal/events"
	"github.com/collectops/collectops/internal/loan"
	"github.com/collectops/collectops/internal/observability/logger"
	"github.com/collectops/collectops/internal/observability/metrics"
	"github.com/collectops/collectops/internal/observability/tracing"
	"github.com/collectops/collectops/internal/promise"
	"github.com/collectops/collectops/internal/route"
	"github.com/collectops/collectops/internal/scoring"
	"github.com/collectops/collectops/internal/store"
	"github.com/collectops/collectops/internal/store/memory"
	"github.com/collectops/collectops/internal/store/postgres"
	transportHTTP "github.com/collectops/collectops/internal/transport/http"
	"github.com/collectops/collectops/internal/visit"
	"github.com/redis/go-redis/v9"
)

// repositories is the storage backend selected by STORE_DRIVER.
type repositories struct {
	loans     loan.Repository
	promises  promise.Repository
	routes    route.Repository
	analytics analytics.Repository
	tx        store.Transactor
	health    transportHTTP.Pinger
	db        *postgres.DB
}

func openStore(ctx context.Context, cfg *config.Config) (*repositories, error) {
	if cfg.Database.Driver == config.DriverMemory {
		s := memory.New()
		if cfg.Database.SeedFile == "" {
			slog.WarnContext(ctx, "using empty in-memory store; set STORE_SEED_FILE to preload loans, data is lost on exit")
		} else {
			clients, loans, err := s.LoadSeedFile(cfg.Database.SeedFile)
			if err != nil {
				return nil, err
			}
			slog.InfoContext(ctx, "seeded in-memory store",
				logger.Component("memory"), logger.Count("clients", clients), logger.Count("loans", loans))
		}
		return &repositories{
			loans:     s.Loans(),
			promises:  s.Promises(),
			routes:    s.Routes(),
			analytics: s.Analytics(),
			tx:        s,
		}, nil
	}

	db, err := openPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &repositories{
		loans:     postgres.NewLoanRepository(db),
		promises:  postgres.NewPromiseRepository(db),
		routes:    postgres.NewRouteRepository(db),
		analytics: postgres.NewAnalyticsRepository(db),
		tx:        db,
		health:    db,
		db:        db,
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	db, err := postgres.New(ctx, postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.InfoContext(ctx, "connected to database", logger.Component("postgres"))
	return db, nil
}

// app holds the wired services shared by the serve and one-shot commands.
type app struct {
	repos       *repositories
	auditLogger audit.Logger
	instruments *metrics.Instruments
	tracer      *tracing.Provider
	redis       *redis.Client
	dispatcher  *events.Dispatcher

	planner    *route.Planner
	ledger     *promise.Ledger
	scanner    *promise.Scanner
	tracker    *visit.Tracker
	aggregator *analytics.Aggregator
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{auditLogger: audit.NewSlogLogger()}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.tracer, err = tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Environment,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	meter, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.MetricsEnabled}, cfg.Observability.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize meter: %w", err)
	}
	if a.instruments, err = metrics.NewInstruments(meter); err != nil {
		return nil, fmt.Errorf("failed to register instruments: %w", err)
	}

	if a.repos, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.LogPublisher{}
	if cfg.Redis.Enabled {
		a.redis, err = events.Connect(ctx, events.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		publisher = events.NewRedisPublisher(a.redis, cfg.Events.ChannelPrefix)
	}
	a.dispatcher = events.NewDispatcher(publisher, events.DispatcherConfig{
		QueueSize:      cfg.Events.QueueSize,
		Workers:        cfg.Events.Workers,
		PublishTimeout: cfg.Events.PublishTimeout,
	}, a.instruments)

	scorer, err := scoring.New(cfg.Scoring.Weights())
	if err != nil {
		return nil, fmt.Errorf("invalid scoring weights: %w", err)
	}

	r := a.repos
	a.ledger = promise.NewLedger(r.promises, r.loans, r.tx, a.dispatcher, a.auditLogger,
		promise.WithMetrics(a.instruments))
	a.scanner = promise.NewScanner(r.promises, r.loans, r.tx, a.dispatcher, a.auditLogger,
		promise.WithMetrics(a.instruments),
		promise.WithBatchSize(cfg.Cron.SweepBatchSize))
	a.planner = route.NewPlanner(r.routes, r.loans, scorer, r.tx, a.dispatcher, a.auditLogger,
		route.WithMetrics(a.instruments),
		route.WithEpsilon(cfg.Planner.EpsilonMeters))
	a.tracker = visit.NewTracker(r.routes, r.loans, a.ledger, r.tx, a.dispatcher, a.auditLogger,
		visit.WithMetrics(a.instruments))
	a.aggregator = analytics.NewAggregator(r.analytics, clock.System)

	return a, nil
}

func (a *app) services() transportHTTP.Services {
	return transportHTTP.Services{
		Planner:    a.planner,
		Tracker:    a.tracker,
		Ledger:     a.ledger,
		Scanner:    a.scanner,
		Aggregator: a.aggregator,
		Loans:      a.repos.loans,
	}
}

// Close drains queued events before releasing connections.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.dispatcher != nil {
		errs = append(errs, a.dispatcher.Close(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.repos != nil && a.repos.db != nil {
		a.repos.db.Close()
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		slog.ErrorContext(ctx, "shutdown incomplete", logger.Error(err))
	}
}
