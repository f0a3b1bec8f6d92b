package middleware

import (
	"net/http"
	"time"

	"github.com/connectly/internal/logger"
)

// RequestLog логирует method, path, статус и время выполнения. Медленные запросы
// дополнительно попадают в лог длительностей.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		next.ServeHTTP(rw, r)
		if rw.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s -> %d (%s)", r.Method, r.URL.Path, rw.status, time.Since(start))
			return
		}
		logger.Debugf("http %s %s -> %d (%s)", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}
