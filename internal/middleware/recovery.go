package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"conversa/internal/httputil"
)

// Recovery turns a handler panic into a 500 problem. The log line and the
// problem carry the same request id. A panic after an SSE stream started
// only ends that stream; its status line is already sent.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("handler panic",
					"panic", v,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", httputil.GetRequestID(r),
					"response_started", rec.status != 0,
					"stack", string(debug.Stack()),
				)
				if rec.status == 0 {
					httputil.RespondError(w, r, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
