package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/namelink/internal/metrics"
)

// RequestLogging logs every request and records it in the HTTP metrics.
// Routes are labelled by their mux template so IDs do not explode cardinality.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &capture{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			elapsed := time.Since(start)
			route := routeTemplate(r)
			metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(sw.status), elapsed.Seconds())

			level := zap.InfoLevel
			if elapsed >= 500*time.Millisecond || sw.status >= http.StatusInternalServerError {
				level = zap.WarnLevel
			}
			logger.Check(level, "request done").Write(
				zap.Int("status", sw.status),
				zap.Duration("elapsed", elapsed),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type capture struct {
	http.ResponseWriter
	status int
}

func (c *capture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}
