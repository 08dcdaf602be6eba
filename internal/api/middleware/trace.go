package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/medstock-api/internal/api/shared"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
)

// Headers consulted for an incoming trace ID, in order.
const (
	HeaderTraceID   = "X-Trace-ID"
	HeaderRequestID = "X-Request-ID"
)

// NewTraceMiddleware returns middleware that adds a trace ID to the request
// context, attaches a logger carrying it and echoes it in the response.
// It should be applied early in the middleware chain.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			incoming := r.Header.Get(HeaderTraceID)
			if incoming == "" {
				incoming = r.Header.Get(HeaderRequestID)
			}

			ctx := shared.SetTraceID(r.Context(), incoming)
			traceID := shared.GetTraceID(ctx)

			log := base.With(slog.String(logger.TraceIDKey, traceID))
			ctx = logger.WithContext(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			w.Header().Set(HeaderTraceID, traceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
