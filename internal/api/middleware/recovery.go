package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/maskview/internal/api/response"
)

// Recovery converts a handler panic into a 500 envelope. When the response
// has already started, as with a streamed archive, the connection is aborted
// instead so the client sees a truncated transfer rather than a corrupt one.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorderFor(w)

		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(v)
			}

			id, _ := GetRequestID(r)
			slog.Error("panic recovered",
				"error", v,
				"stack", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", id,
			)

			if rec.wroteHeader {
				panic(http.ErrAbortHandler)
			}
			response.Error(rec, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()

		next.ServeHTTP(rec, r)
	})
}
