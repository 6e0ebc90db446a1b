package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/ssolink/internal/middleware"
	"github.com/hitoshi/ssolink/internal/model"
	"github.com/hitoshi/ssolink/internal/sso"
)

type mockSessionFinder struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return m.sessions[id], nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	h := newTestSSOHandler(t, SSOHandlerDeps{
		Partners: &mockPartnerLister{
			listEnabledFn: func(ctx context.Context) ([]*model.Partner, error) {
				return []*model.Partner{{Identifier: "acme", Name: "Acme", Enabled: true}}, nil
			},
		},
		Builder: &mockLoginURLBuilder{
			buildFn: func(ctx context.Context, partnerIdentifier, userID string, extra map[string]any) (*sso.LoginURL, error) {
				return &sso.LoginURL{URL: "https://p.example.com/cb?app=main&token=" + validToken, Token: validToken}, nil
			},
		},
	})

	return NewRouter(&RouterDeps{
		SessionFinder: &mockSessionFinder{sessions: map[string]*model.Session{
			"valid": {ID: "valid", UserID: "42", ExpiresAt: time.Now().Add(time.Hour)},
		}},
		RateLimiter:    rl,
		SSOHandler:     h,
		SessionService: &mockSessionService{},
		AuthConfig:     AuthHandlerConfig{LoginPath: "/login"},
		AllowedOrigin:  "https://sso.example.com",
		HealthChecker:  &mockHealthChecker{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	})
}

func TestNewRouter_Health(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "# metrics" {
		t.Errorf("GET /metrics = %d %q", w.Code, w.Body.String())
	}
}

func TestNewRouter_LoginPage_SecurityHeaders(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/sso/login", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /sso/login status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Referrer-Policy"); got != "no-referrer" {
		t.Errorf("Referrer-Policy = %q, want no-referrer", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestNewRouter_Redirect_Unauthenticated_RedirectsToLogin(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/sso/redirect/acme", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/login?return_url=%2Fsso%2Fredirect%2Facme" {
		t.Errorf("Location = %q", loc)
	}
}

func TestNewRouter_Redirect_Authenticated(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/sso/redirect/acme", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "https://p.example.com/cb") {
		t.Errorf("Location = %q", loc)
	}
}

func TestNewRouter_Callback_InvalidToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/sso/callback?token=nope&app=app1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want /login", loc)
	}
}

func TestNewRouter_AuthMe_RequiresSession(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET /auth/me status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHealthHandler_Unavailable(t *testing.T) {
	handler := HealthHandler(&mockHealthChecker{err: errors.New("down")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthHandler_NilChecker(t *testing.T) {
	handler := HealthHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_LogoutRequiresSameOrigin(t *testing.T) {
	router := newTestRouter(t)

	cross := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	cross.Header.Set("Origin", "https://evil.example.net")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, cross)
	if w.Code != http.StatusForbidden {
		t.Errorf("cross-origin logout status = %d, want %d", w.Code, http.StatusForbidden)
	}

	same := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	same.Header.Set("Origin", "https://sso.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, same)
	if w.Code != http.StatusFound {
		t.Errorf("same-origin logout status = %d, want %d", w.Code, http.StatusFound)
	}
}
