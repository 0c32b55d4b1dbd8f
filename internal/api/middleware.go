package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Response headers set on every request.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderClientID  = "X-Edge-Client-ID"
)

type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// maxRequestBodySize caps request bodies. Every route is a GET.
const maxRequestBodySize = 4 << 10

// scrapePaths are polled by probes and Prometheus. Successful requests to
// them are not logged.
var scrapePaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyRequestID).(string)
	return id
}

// requestIDMiddleware keeps a caller's X-Request-ID or assigns one, and
// names the edge client that answered.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		w.Header().Set(HeaderClientID, s.client.ClientID())
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// loggingMiddleware logs API requests. Scrapes are logged only when they
// fail on the server side.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		if scrapePaths[r.URL.Path] && sw.status < http.StatusInternalServerError {
			return
		}
		s.logger.Debug("api request",
			"client_id", s.client.ClientID(),
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(r),
		)
	})
}

// recoveryMiddleware turns a handler panic into a 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("api handler panic",
					"client_id", s.client.ClientID(),
					"error", err,
					"path", r.URL.Path,
					"request_id", requestID(r),
				)
				s.writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter records the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
