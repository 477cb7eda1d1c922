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
	"fmt"
	"log/slog"
	"os"

	"github.com/collectops/collectops/internal/config"
	"github.com/collectops/collectops/internal/observability/logger"
	"github.com/spf13/cobra"
)

var Version = "dev"

var (
	envFiles []string
	cfg      *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "collectops",
		Short:         "CollectOps - field collection operations engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			cfg = loaded

			logger.InitLogger(logger.Config{
				Level:       cfg.Observability.LogLevel,
				Format:      cfg.Observability.LogFormat,
				ServiceName: cfg.Observability.ServiceName,
			})
			return nil
		},
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(closeRoutesCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", logger.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
