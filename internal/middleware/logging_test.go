package middleware

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/ssolink/internal/model"
)

// accessLogRouter はログミドルウェアを先頭に置いたchiルーターと、出力先バッファを返す。
func accessLogRouter(t *testing.T, mount func(r chi.Router)) (http.Handler, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(NewLoggingMiddleware(logger))
	mount(r)
	return r, &buf
}

// accessLines はバッファ内のJSONログを1行ずつ読み出す。
func accessLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "raw: %s", sc.Text())
		lines = append(lines, m)
	}
	return lines
}

func TestLoggingMiddleware_RouteAndRequestID(t *testing.T) {
	h, buf := accessLogRouter(t, func(r chi.Router) {
		r.Get("/sso/redirect/{partnerIdentifier}", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("redirecting"))
		})
	})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sso/redirect/acme", nil))

	lines := accessLines(t, buf)
	require.Len(t, lines, 1)
	e := lines[0]
	assert.Equal(t, "http_request", e["msg"])
	assert.Equal(t, "INFO", e["level"])
	assert.Equal(t, "GET", e["method"])
	assert.Equal(t, "/sso/redirect/acme", e["path"])
	assert.Equal(t, "/sso/redirect/{partnerIdentifier}", e["route"])
	assert.EqualValues(t, 200, e["status"])
	assert.EqualValues(t, len("redirecting"), e["bytes"])
	assert.NotEmpty(t, e["request_id"])
	assert.GreaterOrEqual(t, e["duration_ms"].(float64), 0.0)
	assert.NotContains(t, e, "user_id")
}

func TestLoggingMiddleware_LevelFollowsStatus(t *testing.T) {
	cases := map[int]string{
		http.StatusFound:               "INFO",
		http.StatusUnauthorized:        "WARN",
		http.StatusTooManyRequests:     "WARN",
		http.StatusServiceUnavailable:  "ERROR",
		http.StatusInternalServerError: "ERROR",
	}
	for status, level := range cases {
		t.Run(http.StatusText(status), func(t *testing.T) {
			h, buf := accessLogRouter(t, func(r chi.Router) {
				r.Get("/x", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(status) })
			})
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

			lines := accessLines(t, buf)
			require.Len(t, lines, 1)
			assert.EqualValues(t, status, lines[0]["status"])
			assert.Equal(t, level, lines[0]["level"])
		})
	}
}

// セッションミドルウェアは内側で動くが、認証済みユーザーは外側のアクセスログに載る。
func TestLoggingMiddleware_UserFromInnerSession(t *testing.T) {
	sessions := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "user-77", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	h, buf := accessLogRouter(t, func(r chi.Router) {
		r.With(NewSessionMiddleware(sessions)).Get("/sso/redirect/{p}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusFound)
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/sso/redirect/acme", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s1"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := accessLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "user-77", lines[0]["user_id"])
}

func TestLoggingMiddleware_NeverLogsQuery(t *testing.T) {
	const token = "deadbeefcafebabe0123456789abcdef"
	h, buf := accessLogRouter(t, func(r chi.Router) {
		r.Get("/sso/callback", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/dashboard", http.StatusFound)
		})
	})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sso/callback?token="+token+"&app=app1", nil))

	assert.NotContains(t, buf.String(), token)
	assert.NotContains(t, buf.String(), "app1")
}

type statusCounter struct {
	codes []int
}

func (s *statusCounter) RecordHTTPStatus(code int) {
	s.codes = append(s.codes, code)
}

func TestMetricsMiddleware_SharesWrapperWithLogging(t *testing.T) {
	counter := &statusCounter{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(logger))
	r.Use(NewMetricsMiddleware(counter))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, []int{200, 404}, counter.codes)
	lines := accessLines(t, &buf)
	require.Len(t, lines, 2)
	assert.EqualValues(t, 404, lines[1]["status"])
}
