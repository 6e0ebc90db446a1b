package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/ssolink/internal/model"
)

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// sessionsByID は固定のセッション表を引くFindByIDを返す。
func sessionsByID(sessions ...*model.Session) *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			for _, s := range sessions {
				if s.ID == id {
					return s, nil
				}
			}
			return nil, nil
		},
	}
}

func TestSessionMiddleware_PassesUserToHandler(t *testing.T) {
	repo := sessionsByID(&model.Session{ID: "sid-1", UserID: "user-123", ExpiresAt: time.Now().Add(time.Hour)})

	var got string
	h := NewSessionMiddleware(repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := UserIDFromContext(r.Context())
		require.NoError(t, err)
		got = id
	}))

	req := httptest.NewRequest(http.MethodGet, "/sso/redirect/acme", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sid-1"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-123", got)
}

func TestSessionMiddleware_Rejects(t *testing.T) {
	unknown := sessionsByID()
	broken := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, errors.New("connection refused")
		},
	}

	tests := []struct {
		name   string
		repo   SessionFinder
		cookie *http.Cookie
	}{
		{"no cookie", unknown, nil},
		{"empty cookie", unknown, &http.Cookie{Name: SessionCookieName, Value: ""}},
		{"unknown or expired session", unknown, &http.Cookie{Name: SessionCookieName, Value: "gone"}},
		{"store error", broken, &http.Cookie{Name: SessionCookieName, Value: "sid"}},
		{"other cookie name", unknown, &http.Cookie{Name: "session", Value: "sid-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSessionMiddleware(tt.repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/sso/redirect/acme", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), model.ErrCodeAuthFailed)
		})
	}
}

func TestSessionMiddleware_LoginRedirectKeepsRequestURI(t *testing.T) {
	h := NewSessionMiddleware(sessionsByID(), WithLoginRedirect("/login"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sso/redirect/acme?return_url=/orders/7", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?return_url=%2Fsso%2Fredirect%2Facme%3Freturn_url%3D%2Forders%2F7", w.Header().Get("Location"))
}

func TestUserIDFromContext(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	assert.Error(t, err)

	_, err = UserIDFromContext(ContextWithUserID(context.Background(), ""))
	assert.Error(t, err)

	id, err := UserIDFromContext(ContextWithUserID(context.Background(), "user-456"))
	require.NoError(t, err)
	assert.Equal(t, "user-456", id)
}

func TestSessionCookie_SetThenClear(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cfg := CookieConfig{Secure: true, Domain: "example.com"}

	w := httptest.NewRecorder()
	SetSessionCookie(w, cfg, &model.Session{ID: "sid", ExpiresAt: now.Add(90 * time.Minute)}, now)
	ClearSessionCookie(w, cfg)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)

	set, cleared := cookies[0], cookies[1]
	assert.Equal(t, SessionCookieName, set.Name)
	assert.Equal(t, "sid", set.Value)
	assert.Equal(t, 5400, set.MaxAge)
	assert.True(t, set.HttpOnly)
	assert.True(t, set.Secure)
	assert.Equal(t, http.SameSiteLaxMode, set.SameSite)
	assert.Equal(t, "example.com", set.Domain)

	assert.Equal(t, SessionCookieName, cleared.Name)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)
	assert.True(t, cleared.HttpOnly)
}
