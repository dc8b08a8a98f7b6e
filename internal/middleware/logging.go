package middleware

import (
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request once the handler returns.
// Streaming responses are logged when the stream ends.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
				}
				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request", fields...)
				case status >= http.StatusBadRequest:
					logger.Warn("request", fields...)
				default:
					logger.Info("request", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
