package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRecoveryMiddleware はハンドラのpanicを回収して500を返すミドルウェアを返す。
// レスポンスを書き始めた後のpanicはログのみ残し、ボディには追記しない。
// loggerがnilの場合はslog.Default()を使う。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := wrapStatus(w, r)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "handler panic",
					slog.Any("panic", rec),
					slog.String("route", r.Method+" "+r.URL.Path),
					slog.String("request_id", chimw.GetReqID(r.Context())),
					slog.Bool("headers_sent", ww.Status() != 0),
					slog.String("stack", string(debug.Stack())),
				)
				if ww.Status() == 0 {
					WriteInternalServerError(ww)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
