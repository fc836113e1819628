// Copyright 2025 AxonFlow
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

/*
Command sqlbridge serves the operational API of the resilient SQL
connection layer: health, Prometheus metrics, target listing, probes and
pool administration.

# Usage

	sqlbridge serve
	sqlbridge config example
	sqlbridge config validate <file>

# Environment Variables

Optional:
  - PORT: HTTP server port (default: 8080)
  - SQLBRIDGE_CONFIG_FILE: YAML or TOML configuration file
  - SQLBRIDGE_STORAGE_URL: PostgreSQL URL of the target table
  - SQLBRIDGE_TARGET_<NAME>: descriptor for target <name>
  - SQLBRIDGE_SECRETS_REGION: AWS region for credential secrets
  - SQLBRIDGE_ADMIN_JWT_SECRET: HMAC secret guarding admin routes
  - SQLBRIDGE_MAX_ROWS: cap on rows returned per query
  - LOG_LEVEL: DEBUG, INFO, WARN or ERROR (default: INFO)

A .env file in the working directory is loaded first when present.

# Example

	export SQLBRIDGE_TARGET_SALES="Data Source=db:1521/SALES;User Id=app;Password=secret"
	./sqlbridge serve
	curl localhost:8080/api/v1/targets/sales/probe
*/
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sqlbridge/connectors/config"
	"sqlbridge/server"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "sqlbridge",
		Short:   "Resilient SQL connection layer",
		Long:    `sqlbridge runs SQL against named database targets with pooled sessions, retries and error classification.`,
		Version: version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx)
		},
	}
}

// configCmd groups configuration file helpers.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "example",
		Short: "Print an example YAML configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.GenerateExampleConfigFile())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and validate a YAML or TOML configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d targets)\n", args[0], len(cfg.Targets))
			return nil
		},
	})

	return cmd
}
