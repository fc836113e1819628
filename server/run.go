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

package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"sqlbridge/connectors/config"
	"sqlbridge/connectors/metrics"
	"sqlbridge/connectors/pool"
	"sqlbridge/connectors/registry"
	"sqlbridge/connectors/resilient"
	"sqlbridge/connectors/sqltool"
	"sqlbridge/shared/logger"
)

// Environment variables read by Run
const (
	EnvPort        = "PORT"
	EnvAdminSecret = "SQLBRIDGE_ADMIN_JWT_SECRET"
	EnvAWSRegion   = "SQLBRIDGE_SECRETS_REGION"
	EnvAWSEndpoint = "SQLBRIDGE_SECRETS_ENDPOINT"
	EnvMaxRows     = "SQLBRIDGE_MAX_ROWS"
)

const shutdownTimeout = 15 * time.Second

// Run wires the connection layer from the environment and serves until ctx
// is canceled. Pools, driver handles and target storage are closed on exit.
func Run(ctx context.Context) error {
	log := logger.New("sqlbridge")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	secrets := config.ChainSecretsManager{}
	if region := os.Getenv(EnvAWSRegion); region != "" {
		aws, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{
			Region:   region,
			Endpoint: os.Getenv(EnvAWSEndpoint),
		})
		if err != nil {
			return err
		}
		secrets = append(secrets, aws)
	}
	secrets = append(secrets, config.NewEnvSecretsManager())

	var sources []registry.Source
	var store *registry.PostgreSQLStorage
	if cfg.Storage.DatabaseURL != "" {
		store, err = registry.NewPostgreSQLStorage(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		sources = append(sources, store)
	}
	sources = append(sources, registry.NewFileSource(cfg), registry.NewEnvSource())
	reg := registry.New(secrets, 0, sources...)

	recorder, err := metrics.NewRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	opener := pool.NewSQLOpener()
	defer opener.Close()
	pools := pool.NewManager(opener, recorder, cfg.Pool.AcquireTimeout())
	defer pools.Close()
	if err := metrics.RegisterPoolStats(prometheus.DefaultRegisterer, pools); err != nil {
		return err
	}

	policy := cfg.Retry.Policy()
	connector, err := resilient.NewConnector(pools, policy, recorder)
	if err != nil {
		return err
	}
	executor, err := resilient.NewExecutor(connector, policy, recorder)
	if err != nil {
		return err
	}
	service := sqltool.NewService(reg, executor, recorder)
	if v := os.Getenv(EnvMaxRows); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid %s: %q", EnvMaxRows, v)
		}
		service.MaxRows = n
	}

	opts := Options{
		Executor:    service,
		Pools:       pools,
		Invalidator: reg,
		AdminSecret: []byte(os.Getenv(EnvAdminSecret)),
	}
	if store != nil {
		opts.Store = store
		if len(opts.AdminSecret) == 0 {
			log.Warn("", "", "Target storage configured without "+EnvAdminSecret+"; target writes are disabled", nil)
		}
	}

	port := os.Getenv(EnvPort)
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           New(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "sqlbridge starting", map[string]interface{}{
			"port":         port,
			"storage":      store != nil,
			"max_attempts": policy.MaxAttempts,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("", "", "Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
