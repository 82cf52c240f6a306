package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// NormalizePath maps request paths to a bounded label set.
// Symbol segments would otherwise blow up label cardinality.
func NormalizePath(path string) string {
	switch {
	case path == "/metrics" || path == "/health":
		return path
	case strings.HasPrefix(path, "/api/v1/analyze"):
		return "/api/v1/analyze"
	case strings.HasPrefix(path, "/api/v1/snapshot"):
		return "/api/v1/snapshot"
	case strings.HasPrefix(path, "/api/v1/runs"):
		return "/api/v1/runs"
	case strings.HasPrefix(path, "/api/v1/sources"):
		return "/api/v1/sources"
	case strings.HasPrefix(path, "/api/v1"):
		return "/api/v1/other"
	default:
		return "other"
	}
}

// HTTPMiddleware returns middleware that instruments HTTP requests
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
			written:        false,
		}

		next.ServeHTTP(rw, r)

		duration := float64(time.Since(start).Milliseconds())
		statusCode := strconv.Itoa(rw.statusCode)

		RecordAPIRequest(r.Method, NormalizePath(r.URL.Path), statusCode, duration)
	})
}
