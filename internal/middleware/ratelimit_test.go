package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/ssolink/internal/model"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func callbackRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/sso/callback", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func redirectRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/sso/redirect/acme", nil)
	return req.WithContext(context.WithValue(req.Context(), userIDContextKey, userID))
}

// --- コールバック（IPごと）のテスト ---

func TestCallbackRateLimit_AllowsRequestsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{CallbackRate: 1, CallbackBurst: 5, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := rl.CallbackMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, callbackRequest("10.0.0.1:1234"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}
}

func TestCallbackRateLimit_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{CallbackRate: PerMinute(30), CallbackBurst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := rl.CallbackMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), callbackRequest("10.0.0.1:1234"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, callbackRequest("10.0.0.1:5678"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter != 2 {
		t.Errorf("Retry-After = %q, want 2", resp.Header.Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
}

func TestCallbackRateLimit_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{CallbackRate: 1, CallbackBurst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := rl.CallbackMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), callbackRequest("10.0.0.1:1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, callbackRequest("10.0.0.2:1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("other client status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if got := rl.CallbackLimiterCount(); got != 2 {
		t.Errorf("CallbackLimiterCount = %d, want 2", got)
	}
}

// --- リダイレクト（ユーザーごと）のテスト ---

func TestRedirectRateLimit_Returns429PerUser(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RedirectRate: 1, RedirectBurst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := rl.RedirectMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, redirectRequest("user-1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, redirectRequest("user-1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, redirectRequest("user-2"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("user-2 status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRedirectRateLimit_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	handler := rl.RedirectMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sso/redirect/acme", nil))
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRedirectRateLimit_InChainWithSession(t *testing.T) {
	repo := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "rate-limit-session" {
				return &model.Session{ID: id, UserID: "user-rate-chain", ExpiresAt: time.Now().Add(time.Hour)}, nil
			}
			return nil, nil
		},
	}

	rl := NewRateLimiter(RateLimiterConfig{RedirectRate: 1, RedirectBurst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	// Session -> RateLimit -> Handler
	handler := NewSessionMiddleware(repo)(rl.RedirectMiddleware()(okHandler()))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/sso/redirect/acme", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "rate-limit-session"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		want := http.StatusOK
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if w.Result().StatusCode != want {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, want)
		}
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		CallbackRate:    1,
		CallbackBurst:   5,
		RedirectRate:    1,
		RedirectBurst:   5,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	rl.CallbackMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), callbackRequest("10.0.0.9:1"))
	rl.RedirectMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), redirectRequest("user-cleanup"))

	if rl.CallbackLimiterCount() != 1 || rl.RedirectLimiterCount() != 1 {
		t.Fatal("expected one limiter entry per set")
	}

	// TTL（CleanupIntervalの2倍）を超えた時刻で掃除する
	rl.callback.evict(time.Now().Add(3*time.Minute), 2*time.Minute)
	rl.redirect.evict(time.Now().Add(3*time.Minute), 2*time.Minute)

	if rl.CallbackLimiterCount() != 0 || rl.RedirectLimiterCount() != 0 {
		t.Errorf("expected entries to be evicted, got %d/%d", rl.CallbackLimiterCount(), rl.RedirectLimiterCount())
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:54321"
	if got := ClientIP(req); got != "192.0.2.10" {
		t.Errorf("ClientIP = %q, want 192.0.2.10", got)
	}

	req.RemoteAddr = "192.0.2.11"
	if got := ClientIP(req); got != "192.0.2.11" {
		t.Errorf("ClientIP = %q, want 192.0.2.11", got)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.CallbackRate != 0.5 { // 30/60
		t.Errorf("CallbackRate = %f, want 0.5", cfg.CallbackRate)
	}
	if cfg.RedirectRate != 1.0 { // 60/60
		t.Errorf("RedirectRate = %f, want 1.0", cfg.RedirectRate)
	}
	if cfg.CallbackBurst != 30 || cfg.RedirectBurst != 60 {
		t.Errorf("bursts = %d/%d, want 30/60", cfg.CallbackBurst, cfg.RedirectBurst)
	}
}
