// Package web serves the latest estimates and service health over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/epimetrics/rtwatch/internal/logger"
	"github.com/epimetrics/rtwatch/internal/models"
	"github.com/epimetrics/rtwatch/internal/store"
)

// Server is the HTTP status API over the estimate store.
type Server struct {
	store *store.Store
	http  *http.Server
}

// ErrorResponse is the JSON body for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// NewServer builds the API server on addr.
func NewServer(addr string, st *store.Store) *Server {
	s := &Server{store: st}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/regions", s.handleRegions).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/estimates/{region}", s.handleEstimates).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/latest", s.handleLatest).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown. It returns http.ErrServerClosed on a clean
// shutdown like net/http does.
func (s *Server) Start() error {
	logger.Info("HTTP server listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}

	run, err := s.store.LastRun(r.Context())
	switch {
	case errors.Is(err, store.ErrNotFound):
		status["last_run"] = "never"
	case err != nil:
		s.sendError(w, "store unavailable", http.StatusServiceUnavailable)
		return
	default:
		status["last_run"] = run.FinishedAt.UTC().Format(time.RFC3339)
		status["last_run_status"] = run.Status
	}

	s.sendJSON(w, status, http.StatusOK)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.store.Regions(r.Context())
	if err != nil {
		logger.Error("regions query failed: %v", err)
		s.sendError(w, "failed to list regions", http.StatusInternalServerError)
		return
	}
	if regions == nil {
		regions = []store.RegionInfo{}
	}
	s.sendJSON(w, regions, http.StatusOK)
}

func (s *Server) handleEstimates(w http.ResponseWriter, r *http.Request) {
	region := mux.Vars(r)["region"]

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := models.ParseDate(raw)
		if err != nil {
			s.sendError(w, "invalid since date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	estimates, err := s.store.EstimatesByRegion(r.Context(), region, since)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(w, "no estimates for region "+region, http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("estimates query for %s failed: %v", region, err)
		s.sendError(w, "failed to load estimates", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, estimates, http.StatusOK)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.LatestEstimates(r.Context())
	if err != nil {
		logger.Error("latest estimates query failed: %v", err)
		s.sendError(w, "failed to load latest estimates", http.StatusInternalServerError)
		return
	}
	if latest == nil {
		latest = []models.Estimate{}
	}
	s.sendJSON(w, latest, http.StatusOK)
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, msg string, code int) {
	s.sendJSON(w, ErrorResponse{Error: msg, Code: code}, code)
}
