package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type responseData struct {
	status int
	size   int
}

// Records status and size of written response
// Shared by access log and metrics middlewares
type logWriter struct {
	http.ResponseWriter
	data responseData
}

func (w *logWriter) Write(p []byte) (int, error) {
	size, err := w.ResponseWriter.Write(p)
	w.data.size += size
	return size, err
}

func (w *logWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.data.status = statusCode
}

// LoggerMiddleware writes access log line per request
// Server errors are logged as warnings, handlers log the cause themselves
func LoggerMiddleware(l logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &logWriter{
				ResponseWriter: w,
				data:           responseData{status: http.StatusOK},
			}

			next.ServeHTTP(lw, r)

			args := []any{
				"request_id", chimw.GetReqID(r.Context()),
				"method", r.Method,
				"uri", r.RequestURI,
				"duration", time.Since(start),
				"status", lw.data.status,
				"size", lw.data.size,
			}
			if lw.data.status >= http.StatusInternalServerError {
				l.Warn("HTTP request failed", args...)
				return
			}
			l.Info("HTTP request", args...)
		})
	}
}
