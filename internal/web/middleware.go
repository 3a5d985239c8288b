package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"vigil/internal/metrics"
	"vigil/internal/models"
)

func logMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(ww.status)).Inc()
		logger.Info("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", uuid.NewString(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Hijack and Flush on the
// underlying writer, which the websocket upgrade needs.
func (s *statusWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }

type ctxKey int

const userKey ctxKey = 0

// requireAuth rejects requests without a valid bearer token and stores the
// authenticated user in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			unauthorized(w)
			return
		}
		userID, err := s.auth.ParseToken(token)
		if err != nil {
			unauthorized(w)
			return
		}
		user, err := s.repo.GetUser(r.Context(), userID)
		if err != nil {
			unauthorized(w)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}

func currentUser(r *http.Request) (models.User, bool) {
	u, ok := r.Context().Value(userKey).(models.User)
	return u, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "could not validate credentials")
}
