// Package server exposes a read-only JSON API over the pipeline's cache
// tables: health, per-stage snapshots, and the blacklist.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/blacklist"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/modules/stage0"
	"github.com/jihoonkang/stockpipe/internal/modules/stage1"
	"github.com/jihoonkang/stockpipe/internal/modules/stage2"
	"github.com/jihoonkang/stockpipe/internal/pipeline"
)

// Server serves the read-only status API.
type Server struct {
	orchestrator *pipeline.Orchestrator
	stage0       *stage0.Repository
	stage1       *stage1.Repository
	stage2       *stage2.Repository
	blacklist    *blacklist.Manager
	log          zerolog.Logger
	httpServer   *http.Server
}

// New creates the API server.
func New(
	addr string,
	orch *pipeline.Orchestrator,
	s0 *stage0.Repository,
	s1 *stage1.Repository,
	s2 *stage2.Repository,
	bl *blacklist.Manager,
	log zerolog.Logger,
) *Server {
	s := &Server{
		orchestrator: orch,
		stage0:       s0,
		stage1:       s1,
		stage2:       s2,
		blacklist:    bl,
		log:          log.With().Str("component", "server").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/stage0/{region}", s.handleStage0)
		r.Get("/stage1/{region}", s.handleStage1)
		r.Get("/stage2/{region}", s.handleStage2)
		r.Get("/blacklist", s.handleBlacklist)
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orchestrator.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStage0(w http.ResponseWriter, r *http.Request) {
	region, filterDate, ok := s.resolveRegionDate(w, r)
	if !ok {
		return
	}
	entries, err := s.stage0.Load(region, filterDate, queryBool(r, "passed_only", true))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"region": region, "filter_date": filterDate, "count": len(entries), "entries": entries,
	})
}

func (s *Server) handleStage1(w http.ResponseWriter, r *http.Request) {
	region, filterDate, ok := s.resolveRegionDate(w, r)
	if !ok {
		return
	}
	entries, err := s.stage1.Load(region, filterDate, queryBool(r, "passed_only", true))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"region": region, "filter_date": filterDate, "count": len(entries), "entries": entries,
	})
}

func (s *Server) handleStage2(w http.ResponseWriter, r *http.Request) {
	region, err := domain.ParseRegion(chi.URLParam(r, "region"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.stage2.Latest(region, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"region": region, "count": len(entries), "entries": entries,
	})
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.blacklist.Summary())
}

// resolveRegionDate parses the region param and picks the snapshot date:
// explicit ?date= or the newest stored one.
func (s *Server) resolveRegionDate(w http.ResponseWriter, r *http.Request) (domain.Region, string, bool) {
	region, err := domain.ParseRegion(chi.URLParam(r, "region"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", "", false
	}
	filterDate := r.URL.Query().Get("date")
	if filterDate == "" {
		filterDate, _, err = s.stage0.LatestSnapshot(region)
		if err != nil || filterDate == "" {
			writeError(w, http.StatusNotFound, domain.NewValidationError("no snapshot for region"))
			return "", "", false
		}
	}
	return region, filterDate, true
}

func queryBool(r *http.Request, name string, def bool) bool {
	switch r.URL.Query().Get(name) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
