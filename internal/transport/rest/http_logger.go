package rest

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/slotbook/slotbook/internal/pkg/logger"
)

// responseTrace captures what the handler wrote so the access log can
// report status and payload size.
type responseTrace struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (t *responseTrace) WriteHeader(code int) {
	if t.status == 0 {
		t.status = code
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTrace) Write(p []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	n, err := t.ResponseWriter.Write(p)
	t.bytes += n
	return n, err
}

// AccessLogger emits one structured line per request, tagged with the
// request id that RequestID put in context. Server errors log at
// error level so they stand out from routine traffic.
func AccessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		trace := &responseTrace{ResponseWriter: w}

		next.ServeHTTP(trace, r)

		remote := r.RemoteAddr
		if host, _, err := net.SplitHostPort(remote); err == nil {
			remote = host
		}

		log := logger.WithCtx(r.Context())
		lvl := zerolog.InfoLevel
		if trace.status >= http.StatusInternalServerError {
			lvl = zerolog.ErrorLevel
		}
		log.WithLevel(lvl).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", remote).
			Int("status", trace.status).
			Int("bytes", trace.bytes).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}
