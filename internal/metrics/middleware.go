package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// responseWriter wraps http.ResponseWriter to capture status code
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

// unmatchedPath labels requests that hit no registered route.
const unmatchedPath = "unmatched"

// HTTPMiddleware instruments requests to a plain mux. Only paths listed in
// routes keep their own label.
func HTTPMiddleware(next http.Handler, routes ...string) http.Handler {
	known := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		known[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if _, ok := known[path]; !ok {
			path = unmatchedPath
		}
		RecordAPIRequest(r.Method, path, strconv.Itoa(rw.statusCode), float64(time.Since(start).Milliseconds()))
	})
}

// GinMiddleware instruments gin routes, labelling by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		RecordAPIRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
			float64(time.Since(start).Milliseconds()))
	}
}
