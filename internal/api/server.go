// Package api exposes the operational HTTP surface: health, status,
// metrics and audit queries. The bot interface lives elsewhere and only
// consumes the core's Go APIs.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/audit"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/core"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/storage"
	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// Server is the admin API server over one Core.
type Server struct {
	core    *core.Core
	httpSrv *http.Server
}

// NewServer creates a Server bound to the core registry.
func NewServer(c *core.Core) *Server {
	return &Server{core: c}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(loggingMiddleware)

	r.Handle("/metrics", MetricsHandler())
	r.Get("/healthz", s.HealthHandler)
	r.Get("/v1/sys/status", s.StatusHandler)
	r.Get("/v1/capabilities", s.CapabilitiesHandler)
	r.Get("/v1/audit/events", s.AuditEventsHandler)
	r.Get("/v1/audit/summary", s.AuditSummaryHandler)
	r.Get("/v1/archive/sources", s.ArchiveSourcesHandler)
	r.Get("/v1/archive/manifest", s.ArchiveManifestHandler)

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.core.Config.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Info().Str("addr", s.core.Config.ListenAddr).Msg("starting admin server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// StatusHandler reports configuration and credential health.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"environment":   s.core.Config.Environment,
		"state_backend": s.core.Config.StateBackend,
		"enforcement":   s.core.Permissions.Level().String(),
		"checks":        s.core.Vault.ValidateAll(r.Context()),
	})
}

// CapabilitiesHandler lists the capability catalog.
func (s *Server) CapabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": s.core.Catalog.All()})
}

// AuditEventsHandler queries audit events. durable=true reads the sink;
// the default reads the in-memory ring.
func (s *Server) AuditEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	if q.Get("durable") == "true" {
		events, err := s.core.Backend.QueryAuditEvents(r.Context(), storage.AuditFilter{
			Type:  models.EventType(q.Get("type")),
			Actor: q.Get("actor"),
			Limit: limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
		return
	}

	events := s.core.Ledger.Query(audit.Filter{
		Type:  models.EventType(q.Get("type")),
		Actor: q.Get("actor"),
	}, limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// AuditSummaryHandler aggregates the retained buffer.
func (s *Server) AuditSummaryHandler(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid window: "+err.Error())
			return
		}
		window = d
	}
	writeJSON(w, http.StatusOK, s.core.Ledger.Summarize(window))
}

// ArchiveSourcesHandler lists archive sources.
func (s *Server) ArchiveSourcesHandler(w http.ResponseWriter, r *http.Request) {
	sources, err := s.core.Archive.Sources()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// ArchiveManifestHandler returns the manifest for ?source=&date=.
func (s *Server) ArchiveManifestHandler(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	var date time.Time
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date: "+err.Error())
			return
		}
		date = d
	}
	m, err := s.core.Archive.Manifest(source, date)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}
