package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// Logger wraps slog with the request-ID and status/latency fields
// original_source's logging middleware and
// O-tero-Distributed-Caching-System/pkg/middleware/logging.go both
// attach to every request line, upgraded from the teacher's
// log+encoding/json pairing to log/slog's native JSON handler (the same
// corpus's proxy repo already makes this exact upgrade).
type Logger struct {
	slog *slog.Logger
}

func NewLogger() *Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{slog: slog.New(h)}
}

func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

type requestIDKey struct{}

// WithRequestID attaches a request ID to ctx, generated via uuid the same
// way generateRequestID() does in pkg/middleware/logging.go.
func WithRequestID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(ctx, requestIDKey{}, id), id
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}

// LogRequest emits one structured log line per completed request,
// severity chosen from the status code the way logRequest() in
// pkg/middleware/logging.go does (INFO below 400, WARN 4xx, ERROR 5xx).
func (l *Logger) LogRequest(requestID, method, path string, status int, latency time.Duration) {
	args := []any{
		"request_id", requestID,
		"method", method,
		"path", path,
		"status", status,
		"latency_ms", float64(latency.Microseconds()) / 1000,
	}
	switch {
	case status >= 500:
		l.Error("request completed", args...)
	case status >= 400:
		l.Warn("request completed", args...)
	default:
		l.Info("request completed", args...)
	}
}

// responseRecorder wraps http.ResponseWriter to capture the status code
// and bytes written for LogRequest, grounded on logging.go's
// responseWriter.
type responseRecorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytesWritten += n
	return n, err
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// WrapResponseWriter exposes responseRecorder to the dispatch package
// without making the type itself exported, keeping the logging
// instrumentation detail private to telemetry.
func WrapResponseWriter(w http.ResponseWriter) (http.ResponseWriter, func() int) {
	rec := newResponseRecorder(w)
	return rec, func() int { return rec.status }
}
