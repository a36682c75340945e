/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server is the HTTP surface: the webhook receiver, the environments
// REST API, health probes and the metrics endpoint. It performs no work
// itself; webhook handling derives an event and hands it to the lifecycle
// controller, which enqueues the actual work.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ephemera-dev/ephemera/pkg/lifecycle"
	"github.com/ephemera-dev/ephemera/pkg/store"
)

// EventHandler consumes decoded pull-request events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *lifecycle.PREvent) error
}

// Store is the read surface the API serves, plus the readiness ping.
type Store interface {
	Ping(ctx context.Context) error
	GetEnvironmentByID(ctx context.Context, id int64) (*store.Environment, error)
	GetEnvironmentByPR(ctx context.Context, repositoryFullName string, prNumber int) (*store.Environment, error)
	GetEnvironmentByNamespace(ctx context.Context, namespace string) (*store.Environment, error)
	ListEnvironments(ctx context.Context, repository string, activeOnly bool) ([]*store.Environment, error)
}

type Server struct {
	server        *http.Server
	store         Store
	events        EventHandler
	webhookSecret []byte
	log           *zap.SugaredLogger
}

func New(port int, s Store, events EventHandler, webhookSecret string, log *zap.SugaredLogger) *Server {
	srv := &Server{
		store:         s,
		events:        events,
		webhookSecret: []byte(webhookSecret),
		log:           log.Named("server"),
	}

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Get("/health", srv.handleHealth)
	router.Get("/health/ready", srv.handleReady)
	router.Handle("/metrics", promhttp.Handler())
	router.Post("/webhooks/github", srv.handleGithubWebhook)
	router.Route("/api/v1/environments", func(r chi.Router) {
		r.Post("/", srv.handleCreateEnvironment)
		r.Get("/", srv.handleListEnvironments)
		r.Get("/{id}", srv.handleGetEnvironment)
		r.Get("/namespace/{namespace}", srv.handleGetEnvironmentByNamespace)
	})

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Infow("listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving http, %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warnw("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
