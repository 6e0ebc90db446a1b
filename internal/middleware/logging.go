package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// accessEntry は下流のミドルウェアがアクセスログに書き足す項目。
// セッションミドルウェアは子コンテキストでユーザーIDを注入するため、
// 外側のログミドルウェアからはポインタ経由でしか見えない。
type accessEntry struct {
	userID string
}

type accessEntryKey struct{}

// annotateUser はアクセスログ用にユーザーIDを記録する。ログミドルウェアの外では何もしない。
func annotateUser(ctx context.Context, userID string) {
	if e, ok := ctx.Value(accessEntryKey{}).(*accessEntry); ok {
		e.userID = userID
	}
}

// wrapStatus はステータスとサイズを取得できるResponseWriterを返す。
func wrapStatus(w http.ResponseWriter, r *http.Request) chimw.WrapResponseWriter {
	if ww, ok := w.(chimw.WrapResponseWriter); ok {
		return ww
	}
	return chimw.NewWrapResponseWriter(w, r.ProtoMajor)
}

// statusOf はハンドラが何も書かなかった場合に200とみなす。
func statusOf(ww chimw.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware はリクエストごとに "http_request" ログを1行出力するミドルウェアを返す。
// パスのみを記録し、トークンを含むクエリ文字列は出力しない。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := &accessEntry{}
			if id, err := UserIDFromContext(r.Context()); err == nil {
				entry.userID = id
			}
			ww := wrapStatus(w, r)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), accessEntryKey{}, entry)))

			status := statusOf(ww)
			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
				slog.String("remote_ip", r.RemoteAddr),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					args = append(args, slog.String("route", pattern))
				}
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				args = append(args, slog.String("request_id", reqID))
			}
			if entry.userID != "" {
				args = append(args, slog.String("user_id", entry.userID))
			}
			logger.Log(r.Context(), levelForStatus(status), "http_request", args...)
		})
	}
}

// HTTPStatusRecorder はレスポンスのステータスコードを記録する。
type HTTPStatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// NewMetricsMiddleware はレスポンスのステータスコードをrecorderへ渡すミドルウェアを返す。
func NewMetricsMiddleware(recorder HTTPStatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := wrapStatus(w, r)
			next.ServeHTTP(ww, r)
			recorder.RecordHTTPStatus(statusOf(ww))
		})
	}
}
