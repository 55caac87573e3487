// Package httpapi is the thin HTTP adapter over the lifecycle manager and
// the store's read side: acknowledge/resolve/list/statistics/logs routes,
// CORS, and a golang.org/x/time/rate limiter keyed by the request's remote
// address at the inbound API boundary.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/predmaint/alertcore/internal/apperr"
	"github.com/predmaint/alertcore/internal/config"
	"github.com/predmaint/alertcore/internal/lifecycle"
	"github.com/predmaint/alertcore/internal/observ"
	"github.com/predmaint/alertcore/internal/store"
)

// AlertStore is the read-side store contract the API needs beyond
// lifecycle transitions.
type AlertStore interface {
	ListAlerts(ctx context.Context, machineID string, activeOnly bool) ([]store.Alert, error)
	Statistics(ctx context.Context) (store.Statistics, error)
	ListLogs(ctx context.Context, machineID string, days int) ([]store.MaintenanceLog, error)
}

// Server serves lifecycle HTTP surface.
type Server struct {
	router    chi.Router
	lifecycle *lifecycle.Manager
	store     AlertStore
	limiters  sync.Map // remote addr -> *rate.Limiter
	cfg       config.HTTPConfig
}

// New builds a Server wired to a lifecycle manager and read-side store.
func New(cfg config.HTTPConfig, lm *lifecycle.Manager, st AlertStore) *Server {
	s := &Server{router: chi.NewRouter(), lifecycle: lm, store: st, cfg: cfg}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.rateLimit)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) limiterFor(key string) *rate.Limiter {
	if l, ok := s.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(float64(s.cfg.RateLimitPerMin)/60), s.cfg.RateLimitPerMin)
	actual, _ := s.limiters.LoadOrStore(key, l)
	return actual.(*rate.Limiter)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiterFor(r.RemoteAddr).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", observ.HealthHandler().ServeHTTP)
	s.router.Get("/metrics", observ.Handler().ServeHTTP)

	s.router.Route("/alerts", func(r chi.Router) {
		r.Get("/", s.listAlerts)
		r.Get("/statistics", s.statistics)
		r.Post("/{id}/acknowledge", s.acknowledge)
		r.Post("/{id}/start", s.startWork)
		r.Post("/{id}/resolve", s.resolve)
	})
	s.router.Get("/logs", s.listLogs)
}

// Router returns the chi router for embedding in an http.Server.
func (s *Server) Router() http.Handler { return s.router }

type ackRequest struct {
	OperatorID string `json:"operator_id"`
}

type resolveRequest struct {
	OperatorID      string `json:"operator_id"`
	RootCause       string `json:"root_cause"`
	ResolutionNotes string `json:"resolution_notes"`
	DowntimeMinutes int    `json:"downtime_minutes"`
}

func (s *Server) acknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.lifecycle.Acknowledge(r.Context(), id, req.OperatorID); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "acknowledged_at": time.Now().UTC()})
}

func (s *Server) startWork(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.lifecycle.StartWork(r.Context(), id, req.OperatorID); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.lifecycle.Resolve(r.Context(), id, req.OperatorID, req.RootCause, req.ResolutionNotes, req.DowntimeMinutes); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "log_id": "LOG-" + id})
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	machineID := r.URL.Query().Get("machine_id")
	alerts, err := s.store.ListAlerts(r.Context(), machineID, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "alerts": alerts})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "statistics": stats})
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	machineID := r.URL.Query().Get("machine_id")
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			days = parsed
		}
	}
	logs, err := s.store.ListLogs(r.Context(), machineID, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "logs": logs})
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch apperr.CodeOf(err) {
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.Unavailable:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
