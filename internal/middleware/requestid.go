package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/schemaflow/platform/pkg/logger"
)

// RequestIDHeader is the header the request ID is read from and echoed to.
const RequestIDHeader = "X-Request-ID"

// RequestIDFrom returns the request ID attached to ctx, or "" when the
// request did not pass through the request ID middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestIDMiddleware assigns every request an ID. An incoming X-Request-ID
// is trusted so callers can correlate across services, otherwise a fresh
// UUID is generated. The ID is echoed on the response and stored in the
// request context for log correlation.
type RequestIDMiddleware struct{}

// NewRequestIDMiddleware creates a request ID middleware.
func NewRequestIDMiddleware() *RequestIDMiddleware {
	return &RequestIDMiddleware{}
}

// Handler returns the middleware handler.
func (m *RequestIDMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set(RequestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs one line per completed request with method, path,
// status, duration and the correlation IDs available at the time.
type LoggingMiddleware struct {
	log *logger.Logger
}

// NewLoggingMiddleware creates a request logging middleware.
func NewLoggingMiddleware(log *logger.Logger) *LoggingMiddleware {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &LoggingMiddleware{log: log}
}

// Handler returns the middleware handler.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}
		if id := RequestIDFrom(r.Context()); id != "" {
			fields["request_id"] = id
		}
		if userID := UserID(r.Context()); userID != "" {
			fields["user_id"] = userID
		}

		entry := m.log.WithFields(fields)
		switch {
		case rec.status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case rec.status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request completed")
		}
	})
}

// statusRecorder captures the response status for logging. WriteHeader may
// never be called for 200 responses, so it starts at StatusOK.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working behind the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
