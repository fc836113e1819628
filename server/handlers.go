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

// Package server exposes the connection layer's operational endpoints:
// health, metrics, target listing, probes and pool administration.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"sqlbridge/connectors/base"
	"sqlbridge/connectors/pool"
	"sqlbridge/connectors/registry"
	"sqlbridge/connectors/sqltool"
	"sqlbridge/shared/logger"
)

const serviceName = "sqlbridge"

// Executor runs statements against named targets. *sqltool.Service satisfies it.
type Executor interface {
	Execute(ctx context.Context, schema, sqlText string, kind base.Kind) (*base.Result, error)
	Schemas(ctx context.Context) ([]string, error)
}

// Pools is the pool administration surface. *pool.Manager satisfies it.
type Pools interface {
	Clear(name string) bool
	Stats() []pool.Stats
}

// Invalidator drops cached target resolutions. *registry.Registry satisfies it.
type Invalidator interface {
	Invalidate(name string)
}

// TargetStore persists target definitions. *registry.PostgreSQLStorage satisfies it.
type TargetStore interface {
	SaveTarget(ctx context.Context, e registry.Entry) error
	DeleteTarget(ctx context.Context, name string) error
}

// Options configures a Server
type Options struct {
	Executor    Executor
	Pools       Pools
	Invalidator Invalidator
	// Store is nil when no target storage is configured
	Store TargetStore
	// Gatherer backs /prometheus; prometheus.DefaultGatherer when nil
	Gatherer prometheus.Gatherer
	// AdminSecret enables HMAC JWT checks on admin routes when set
	AdminSecret []byte
}

// Server serves the HTTP API
type Server struct {
	opts   Options
	logger *logger.Logger
}

// New creates a server
func New(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{opts: opts, logger: logger.New("server")}
}

// Handler returns the router wrapped in CORS
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/targets", s.listTargetsHandler).Methods("GET")
	api.HandleFunc("/targets/{name}/probe", s.probeHandler).Methods("GET")

	admin := api.NewRoute().Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/targets/{name}/clear", s.clearHandler).Methods("POST")
	admin.Handle("/targets/{name}", s.requireSecret(http.HandlerFunc(s.saveTargetHandler))).Methods("PUT")
	admin.Handle("/targets/{name}", s.requireSecret(http.HandlerFunc(s.deleteTargetHandler))).Methods("DELETE")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": time.Now().UTC(),
		"pools":     len(s.opts.Pools.Stats()),
	})
}

func (s *Server) listTargetsHandler(w http.ResponseWriter, r *http.Request) {
	names, err := s.opts.Executor.Schemas(r.Context())
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"targets": names,
		"pools":   s.opts.Pools.Stats(),
	})
}

func (s *Server) probeHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	result, err := s.opts.Executor.Execute(r.Context(), name, "", base.KindProbe)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"target":      result.Target,
		"healthy":     true,
		"attempts":    result.Attempts,
		"duration_ms": result.Duration.Milliseconds(),
	})
}

func (s *Server) clearHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.opts.Invalidator.Invalidate(name)
	if !s.opts.Pools.Clear(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no pool for target %s", name)})
		return
	}
	s.logger.Info(name, "", "Pool cleared by admin request", nil)
	writeJSON(w, http.StatusOK, map[string]interface{}{"target": name, "cleared": true})
}

type targetRequest struct {
	Descriptor        string `json:"descriptor"`
	CredentialsSecret string `json:"credentials_secret"`
	Enabled           *bool  `json:"enabled"`
}

func (s *Server) saveTargetHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "target storage is not configured"})
		return
	}
	name := mux.Vars(r)["name"]

	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Descriptor) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "descriptor is required"})
		return
	}

	entry := registry.Entry{
		Name:              name,
		Descriptor:        req.Descriptor,
		CredentialsSecret: req.CredentialsSecret,
		Enabled:           req.Enabled == nil || *req.Enabled,
	}
	if err := s.opts.Store.SaveTarget(r.Context(), entry); err != nil {
		s.logger.Error(name, "", "Failed to save target", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save target"})
		return
	}
	s.opts.Invalidator.Invalidate(name)
	writeJSON(w, http.StatusOK, map[string]interface{}{"target": name, "enabled": entry.Enabled})
}

func (s *Server) deleteTargetHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "target storage is not configured"})
		return
	}
	name := mux.Vars(r)["name"]

	err := s.opts.Store.DeleteTarget(r.Context(), name)
	var nf *registry.NotFoundError
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
		return
	case err != nil:
		s.logger.Error(name, "", "Failed to delete target", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete target"})
		return
	}
	s.opts.Invalidator.Invalidate(name)
	s.opts.Pools.Clear(name)
	w.WriteHeader(http.StatusNoContent)
}

// requireAdmin validates an HS256 bearer token when an admin secret is set
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.opts.AdminSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}

		token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
			return s.opts.AdminSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			s.logger.Warn("", "", "Rejected admin request", map[string]interface{}{
				"path":  r.URL.Path,
				"error": fmt.Sprint(err),
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSecret refuses target writes unless admin tokens are checked
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.opts.AdminSecret) == 0 {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "target writes require an admin secret"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	var te *sqltool.Error
	if !errors.As(err, &te) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, statusFor(te.Code), map[string]interface{}{"error": te})
}

func statusFor(code string) int {
	switch code {
	case sqltool.CodeInvalidRequest:
		return http.StatusBadRequest
	case sqltool.CodeNotFound:
		return http.StatusNotFound
	case sqltool.CodePoolExhausted, sqltool.CodeConnectFailed:
		return http.StatusServiceUnavailable
	case sqltool.CodeOperationFailed, sqltool.CodeNonRecoverable:
		return http.StatusBadGateway
	case sqltool.CodeCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
