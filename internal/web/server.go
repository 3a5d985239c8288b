package web

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil/internal/auth"
	"vigil/internal/db"
	"vigil/internal/models"
	"vigil/internal/prom"
)

type Server struct {
	repo       *db.Repository
	prom       *prom.Client
	auth       *auth.Manager
	log        *slog.Logger
	wsInterval time.Duration
}

func NewServer(repo *db.Repository, promClient *prom.Client, authManager *auth.Manager, logger *slog.Logger, wsInterval time.Duration) *Server {
	if wsInterval <= 0 {
		wsInterval = 5 * time.Second
	}
	return &Server{repo: repo, prom: promClient, auth: authManager, log: logger, wsInterval: wsInterval}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/me", s.requireAuth(s.handleMe))

	mux.HandleFunc("GET /api/v1/servers", s.requireAuth(s.handleListServers))
	mux.HandleFunc("POST /api/v1/servers", s.requireAuth(s.handleCreateServer))
	mux.HandleFunc("GET /api/v1/servers/{id}", s.requireAuth(s.handleGetServer))
	mux.HandleFunc("PATCH /api/v1/servers/{id}", s.requireAuth(s.handleUpdateServer))
	mux.HandleFunc("DELETE /api/v1/servers/{id}", s.requireAuth(s.handleDeleteServer))

	mux.HandleFunc("GET /api/v1/alerts/rules", s.requireAuth(s.handleListRules))
	mux.HandleFunc("POST /api/v1/alerts/rules", s.requireAuth(s.handleCreateRule))
	mux.HandleFunc("GET /api/v1/alerts/rules/{id}", s.requireAuth(s.handleGetRule))
	mux.HandleFunc("PATCH /api/v1/alerts/rules/{id}", s.requireAuth(s.handleUpdateRule))
	mux.HandleFunc("DELETE /api/v1/alerts/rules/{id}", s.requireAuth(s.handleDeleteRule))

	mux.HandleFunc("GET /api/v1/alerts/events", s.requireAuth(s.handleListEvents))
	mux.HandleFunc("GET /api/v1/alerts/events/{id}", s.requireAuth(s.handleGetEvent))

	mux.HandleFunc("GET /api/v1/metrics/servers/{id}/summary", s.requireAuth(s.handleServerSummary))
	mux.HandleFunc("GET /ws/metrics/{id}", s.handleMetricsStream)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	return logMiddleware(mux, s.log)
}

// --- auth ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	email := r.FormValue("username")
	password := r.FormValue("password")
	user, err := s.repo.GetUserByEmail(r.Context(), email)
	if err != nil || !auth.VerifyPassword(password, user.HashedPassword) {
		unauthorized(w)
		return
	}
	token, err := s.auth.CreateAccessToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// --- servers ---

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	servers, err := s.repo.ListServers(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

type serverCreate struct {
	Name     string `json:"name"`
	JobName  string `json:"job_name"`
	Instance string `json:"instance"`
	IsActive *bool  `json:"is_active"`
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var in serverCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if in.Name == "" || in.JobName == "" || in.Instance == "" {
		writeError(w, http.StatusBadRequest, "name, job_name and instance are required")
		return
	}
	srv := models.Server{Name: in.Name, JobName: in.JobName, Instance: in.Instance, IsActive: true}
	if in.IsActive != nil {
		srv.IsActive = *in.IsActive
	}
	id, err := s.repo.CreateServer(r.Context(), srv)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	srv.ID = id
	writeJSON(w, http.StatusCreated, srv)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	srv, err := s.repo.GetServer(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "server not found")
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var upd db.ServerUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := s.repo.UpdateServer(r.Context(), id, upd); err != nil {
		writeStoreError(w, err, "server not found")
		return
	}
	srv, err := s.repo.GetServer(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "server not found")
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteServer(r.Context(), id); err != nil {
		writeStoreError(w, err, "server not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- alert rules ---

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	var serverID *int64
	if v := r.URL.Query().Get("server_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid server_id")
			return
		}
		serverID = &id
	}
	rules, err := s.repo.ListRules(r.Context(), serverID, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

type ruleCreate struct {
	Name              string  `json:"name"`
	ServerID          int64   `json:"server_id"`
	MetricName        string  `json:"metric_name"`
	PromQL            string  `json:"promql"`
	Threshold         float64 `json:"threshold"`
	Comparison        string  `json:"comparison"`
	RepeatIntervalSec int     `json:"repeat_interval_sec"`
	IsActive          *bool   `json:"is_active"`
	Channel           string  `json:"channel"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var in ruleCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if in.Name == "" || in.MetricName == "" || in.PromQL == "" {
		writeError(w, http.StatusBadRequest, "name, metric_name and promql are required")
		return
	}
	if _, err := s.repo.GetServer(r.Context(), in.ServerID); err != nil {
		writeStoreError(w, err, "server not found")
		return
	}
	rule := models.AlertRule{
		Name:              in.Name,
		ServerID:          in.ServerID,
		MetricName:        in.MetricName,
		PromQL:            in.PromQL,
		Threshold:         in.Threshold,
		Comparison:        in.Comparison,
		RepeatIntervalSec: in.RepeatIntervalSec,
		IsActive:          true,
		Channel:           in.Channel,
	}
	if in.IsActive != nil {
		rule.IsActive = *in.IsActive
	}
	id, err := s.repo.CreateRule(r.Context(), rule)
	if err != nil {
		if errors.Is(err, db.ErrInvalidComparison) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	created, err := s.repo.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := s.repo.GetRule(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "alert rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var upd db.RuleUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := s.repo.UpdateRule(r.Context(), id, upd); err != nil {
		if errors.Is(err, db.ErrInvalidComparison) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeStoreError(w, err, "alert rule not found")
		return
	}
	rule, err := s.repo.GetRule(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "alert rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteRule(r.Context(), id); err != nil {
		writeStoreError(w, err, "alert rule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- alert events ---

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	filter := db.EventFilter{Offset: offset, Limit: limit}
	q := r.URL.Query()
	if v := q.Get("server_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid server_id")
			return
		}
		filter.ServerID = &id
	}
	if v := q.Get("alert_rule_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid alert_rule_id")
			return
		}
		filter.RuleID = &id
	}
	if v := q.Get("status"); v != "" {
		filter.Status = &v
	}
	events, err := s.repo.ListEvents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	event, err := s.repo.GetEvent(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "alert event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// --- metrics ---

func (s *Server) handleServerSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	srv, err := s.repo.GetServer(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "server not found")
		return
	}
	if !srv.IsActive {
		writeError(w, http.StatusBadRequest, "server is not active")
		return
	}
	summary := s.prom.ServerSummary(r.Context(), srv.JobName, srv.Instance)
	writeJSON(w, http.StatusOK, map[string]any{
		"server_id":   srv.ID,
		"server_name": srv.Name,
		"metrics":     summary,
	})
}

// --- health ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DB().PingContext(r.Context()); err != nil {
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// --- helpers ---

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func pagination(r *http.Request) (offset, limit int) {
	limit = 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("skip"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return offset, limit
}

func writeStoreError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
