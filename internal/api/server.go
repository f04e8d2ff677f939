package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IZEUS01/Exfil-Guard/internal/metrics"
	"github.com/IZEUS01/Exfil-Guard/internal/model"
	"github.com/IZEUS01/Exfil-Guard/internal/notify"
	"github.com/IZEUS01/Exfil-Guard/internal/rules"
	"github.com/IZEUS01/Exfil-Guard/internal/store"
)

// Server is the HTTP query surface consumed by dashboards and operators.
type Server struct {
	r        *chi.Mux
	store    *store.Store
	loader   *rules.Loader
	badge    *notify.Badge
	alerts   *notify.AlertCenter
	metrics  *metrics.Metrics
	natsConn *nats.Conn
	logger   *slog.Logger
}

// NewServer builds the router.
func NewServer(st *store.Store, loader *rules.Loader, badge *notify.Badge, alerts *notify.AlertCenter, m *metrics.Metrics, nc *nats.Conn, logger *slog.Logger) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		store:    st,
		loader:   loader,
		badge:    badge,
		alerts:   alerts,
		metrics:  m,
		natsConn: nc,
		logger:   logger,
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Logger)
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/events", s.getEvents)
	s.r.Post("/events/clear", s.clearEvents)
	s.r.Get("/stats", s.getStats)
	s.r.Get("/badge", s.getBadge)
	s.r.Get("/alerts", s.getAlerts)
	s.r.Delete("/alerts/{id}", s.dismissAlert)
	s.r.Get("/rules", s.getRules)
	s.r.Post("/rules/reload", s.reloadRules)
	s.r.Handle("/metrics", promhttp.Handler())
	s.r.Get("/healthz", s.health)
	s.r.Get("/readyz", s.ready)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.r }

// getEvents handles GET /events?severity=&type=&limit=.
func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{
		Severity: model.Severity(r.URL.Query().Get("severity")),
		Type:     model.ObservationType(r.URL.Query().Get("type")),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	events := s.store.Query(filter)
	stats := s.store.Stats()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":    events,
		"count":     len(events),
		"total":     stats.Total,
		"high_risk": stats.HighRisk,
		"timestamp": time.Now().UTC(),
	})
}

// clearEvents empties the store; the store's stats hook refreshes the badge.
func (s *Server) clearEvents(w http.ResponseWriter, r *http.Request) {
	s.store.Clear()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) getBadge(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"text":  s.badge.Text(),
		"color": s.badge.Color(),
	})
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": s.alerts.Active(),
	})
}

func (s *Server) dismissAlert(w http.ResponseWriter, r *http.Request) {
	s.alerts.Dismiss(chi.URLParam(r, "id"))
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// getRules summarizes the active rule set.
func (s *Server) getRules(w http.ResponseWriter, r *http.Request) {
	rs := s.loader.Snapshot()
	s.metrics.RulesLoaded.Set(float64(rs.Len()))

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"source":         rs.Source,
		"version":        rs.Version,
		"rule_count":     rs.Len(),
		"rule_ids":       rs.IDs(),
		"pattern_errors": rs.PatternErrors(),
	})
}

func (s *Server) reloadRules(w http.ResponseWriter, r *http.Request) {
	rs, err := s.loader.Load()
	response := map[string]interface{}{
		"rule_count": rs.Len(),
		"source":     rs.Source,
		"fallback":   err != nil,
	}
	if err != nil {
		// The loader already fell back to built-in defaults.
		response["error"] = err.Error()
	}
	s.metrics.RulesLoaded.Set(float64(rs.Len()))
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"stats":     s.store.Stats(),
	})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	natsConnected := s.natsConn != nil && s.natsConn.IsConnected()
	s.metrics.SetNatsConnected(natsConnected)
	rulesLoaded := s.loader.Snapshot().Len() > 0

	status := "ready"
	code := http.StatusOK
	if !natsConnected || !rulesLoaded {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"nats_connected": natsConnected,
		"rules_loaded":   rulesLoaded,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
