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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/collectops/collectops/internal/auth"
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/config"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Database.Driver != config.DriverPostgres {
				return errors.New("migrate requires STORE_DRIVER=postgres")
			}
			ctx := cmd.Context()
			db, err := openPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Println("Applying migrations...")
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Println("Migration successful.")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue pending promises once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.scanner.CheckExpiredPromises(ctx, tenantID)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "limit the sweep to one tenant")
	return cmd
}

func closeRoutesCmd() *cobra.Command {
	var (
		tenantID string
		before   string
	)
	cmd := &cobra.Command{
		Use:   "close-routes",
		Short: "Complete routes left open from earlier business dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff := clock.System()
			if before != "" {
				d, err := clock.ParseDate(before)
				if err != nil {
					return fmt.Errorf("invalid --before: %w", err)
				}
				cutoff = d
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				n, err := a.planner.CloseStale(ctx, tenantID, cutoff)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"closed": n, "before": clock.Date(cutoff)})
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "limit to one tenant")
	cmd.Flags().StringVar(&before, "before", "", "close routes dated before this day (default today)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		p   auth.Principal
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Environment == "production" {
				return errors.New("token issuing is disabled in production")
			}
			if !auth.ValidRole(p.Role) {
				return fmt.Errorf("unknown role %q", p.Role)
			}
			v, err := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, nil)
			if err != nil {
				return err
			}
			tok, err := v.Issue(p, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.TenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&p.UserID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&p.Role, "role", auth.RoleCollector, "collector, supervisor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.Close(shutdownCtx)
	}()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
