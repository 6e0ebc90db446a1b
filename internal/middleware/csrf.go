package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/ssolink/internal/model"
)

// NewSameOriginMiddleware は状態を変更するリクエストの送信元を検証するミドルウェアを返す。
// Origin ヘッダー、無ければ Referer の origin が baseURL と一致しない場合は403を返す。
// どちらのヘッダーも無いリクエストは拒否する。
func NewSameOriginMiddleware(baseURL string) func(next http.Handler) http.Handler {
	want := originOf(baseURL)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get("Origin")
			source := "origin"
			if got == "" || got == "null" {
				got = originOf(r.Header.Get("Referer"))
				source = "referer"
			}
			if want == "" || !strings.EqualFold(got, want) {
				slog.Warn("cross-origin request rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("source", source),
					slog.String("origin", got),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewInvalidRequestAPIError("origin"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// originOf は scheme://host[:port] を返す。解析できない場合は空文字列。
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
