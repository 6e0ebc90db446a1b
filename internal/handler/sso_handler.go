// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/ssolink/internal/logger"
	"github.com/hitoshi/ssolink/internal/middleware"
	"github.com/hitoshi/ssolink/internal/model"
	"github.com/hitoshi/ssolink/internal/sso"
)

// コールバックのパラメータ長の上限。
const (
	maxAppLength       = 255
	maxReturnURLLength = 2048
)

//go:embed templates/*.html
var templateFS embed.FS

var loginPageTemplate = template.Must(template.ParseFS(templateFS, "templates/sso_login.html"))

// PartnerLister は有効な連携先の一覧を返す。
type PartnerLister interface {
	ListEnabled(ctx context.Context) ([]*model.Partner, error)
}

// LoginURLBuilder はトークンを発行して連携先のコールバックURLを組み立てる。
type LoginURLBuilder interface {
	BuildLoginURL(ctx context.Context, partnerIdentifier, userID string, extra map[string]any) (*sso.LoginURL, error)
}

// TokenRedeemer はトークンを引き換えてクレームを返す。
type TokenRedeemer interface {
	Redeem(ctx context.Context, value, sourceApp string) (*model.UserData, error)
}

// UserResolver はクレームに対応するローカルユーザーを返す。
type UserResolver interface {
	Resolve(ctx context.Context, claims *model.UserData) (*model.User, error)
}

// SessionCreator はローカルセッションを作成する。
type SessionCreator interface {
	Login(ctx context.Context, userID string) (*model.Session, error)
}

// ReturnURLResolver はリダイレクト先として安全なURLを返す。
type ReturnURLResolver interface {
	Allowed(raw string) bool
	Resolve(raw, fallback string) string
}

// SSOHandlerConfig はSSOハンドラーの設定。
type SSOHandlerConfig struct {
	RedirectAfterLogin string        // ログイン成功後の既定のリダイレクト先
	LoginPath          string        // 失敗時のリダイレクト先
	StoreTimeout       time.Duration // リクエストごとのストア操作の期限
	Cookie             middleware.CookieConfig
}

// SSOHandler はSSOのログインページ、リダイレクト、コールバックを処理する。
type SSOHandler struct {
	partners   PartnerLister
	builder    LoginURLBuilder
	redeemer   TokenRedeemer
	users      UserResolver
	sessions   SessionCreator
	returnURLs ReturnURLResolver
	config     SSOHandlerConfig
	clock      clockwork.Clock
	logger     *slog.Logger
}

// SSOHandlerDeps はSSOHandlerの依存関係。
type SSOHandlerDeps struct {
	Partners   PartnerLister
	Builder    LoginURLBuilder
	Redeemer   TokenRedeemer
	Users      UserResolver
	Sessions   SessionCreator
	ReturnURLs ReturnURLResolver
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// NewSSOHandler はSSOHandlerを生成する。
func NewSSOHandler(deps SSOHandlerDeps, config SSOHandlerConfig) *SSOHandler {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if config.RedirectAfterLogin == "" {
		config.RedirectAfterLogin = "/"
	}
	return &SSOHandler{
		partners:   deps.Partners,
		builder:    deps.Builder,
		redeemer:   deps.Redeemer,
		users:      deps.Users,
		sessions:   deps.Sessions,
		returnURLs: deps.ReturnURLs,
		config:     config,
		clock:      deps.Clock,
		logger:     deps.Logger,
	}
}

type partnerLink struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	RedirectURL string `json:"redirect_url"`
}

type loginPageData struct {
	Partners []partnerLink `json:"partners"`
	Flash    string        `json:"flash,omitempty"`
}

// LoginPage は有効な連携先の一覧を表示する。
// GET /sso/login?return_url=
func (h *SSOHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	data := loginPageData{Flash: popFlash(w, r, h.config.Cookie.Secure)}

	ctx, cancel := h.storeContext(r.Context())
	defer cancel()

	partners, err := h.partners.ListEnabled(ctx)
	if err != nil {
		err = model.WrapStoreError(err)
		h.logger.Error("連携先一覧の取得に失敗しました", slog.String("error", err.Error()))
		if wantsJSON(r) {
			middleware.WriteSSOError(w, err)
			return
		}
		status, apiErr := middleware.SSOErrorResponse(err)
		data.Flash = apiErr.Message
		h.renderLoginPage(w, status, data)
		return
	}

	returnURL := r.URL.Query().Get("return_url")
	if returnURL != "" && !h.returnURLs.Allowed(returnURL) {
		returnURL = ""
	}

	data.Partners = make([]partnerLink, 0, len(partners))
	for _, p := range partners {
		data.Partners = append(data.Partners, partnerLink{
			Identifier:  p.Identifier,
			Name:        p.Name,
			RedirectURL: redirectPath(p.Identifier, returnURL),
		})
	}

	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error("ログインページのJSON出力に失敗しました", slog.String("error", err.Error()))
		}
		return
	}
	h.renderLoginPage(w, http.StatusOK, data)
}

func (h *SSOHandler) renderLoginPage(w http.ResponseWriter, status int, data loginPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginPageTemplate.Execute(w, data); err != nil {
		h.logger.Error("ログインページの描画に失敗しました", slog.String("error", err.Error()))
	}
}

// Redirect はトークンを発行し、連携先のコールバックURLへリダイレクトする。
// GET /sso/redirect/{partnerIdentifier}?return_url=
func (h *SSOHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthFailedAPIError())
		return
	}
	partnerID := chi.URLParam(r, "partnerIdentifier")

	ctx, cancel := h.storeContext(withClientInfo(r))
	defer cancel()

	login, err := h.builder.BuildLoginURL(ctx, partnerID, userID, nil)
	if err != nil {
		h.logFailure("連携先へのリダイレクトに失敗しました", err,
			slog.String("partner", partnerID),
			slog.String("user_id", userID),
		)
		if wantsJSON(r) {
			middleware.WriteSSOError(w, err)
			return
		}
		h.redirectWithFlash(w, r, "/sso/login", err)
		return
	}

	target := login.URL
	if returnURL := r.URL.Query().Get("return_url"); returnURL != "" && len(returnURL) <= maxReturnURLLength {
		if target, err = login.WithParams(map[string]string{"return_url": returnURL}); err != nil {
			h.logFailure("リダイレクトURLの組み立てに失敗しました", err, slog.String("partner", partnerID))
			middleware.WriteInternalServerError(w)
			return
		}
	}

	h.logger.Info("連携先へリダイレクトします",
		slog.String("partner", login.PartnerIdentifier),
		slog.String("user_id", userID),
		logger.TokenAttr(login.Token),
	)
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback は連携元から受け取ったトークンを引き換え、ローカルセッションを作成する。
// GET /sso/callback?token=&app=&return_url=
func (h *SSOHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("token")
	app := q.Get("app")
	returnURL := q.Get("return_url")

	if reason := validateCallbackParams(token, app, returnURL); reason != "" {
		h.logger.Warn("SSOコールバックのパラメータが不正です", slog.String("reason", reason))
		h.redirectWithMessage(w, r, h.config.LoginPath, model.NewInvalidRequestAPIError(reason).Message)
		return
	}

	ctx, cancel := h.storeContext(r.Context())
	defer cancel()

	// 形式が不正なトークンはストアに問い合わせずに拒否される
	claims, err := h.redeemer.Redeem(ctx, token, app)
	if err != nil {
		h.logFailure("SSOログインに失敗しました", err, logger.TokenAttr(token), slog.String("app", app))
		h.redirectWithFlash(w, r, h.config.LoginPath, err)
		return
	}

	user, err := h.users.Resolve(ctx, claims)
	if err != nil {
		h.logFailure("SSOユーザーの解決に失敗しました", err, slog.String("claims_id", claims.ID))
		h.redirectWithFlash(w, r, h.config.LoginPath, err)
		return
	}
	if user == nil {
		h.redirectWithMessage(w, r, h.config.LoginPath, model.NewAuthFailedAPIError().Message)
		return
	}

	session, err := h.sessions.Login(ctx, user.ID)
	if err != nil {
		h.logFailure("セッションの作成に失敗しました", err, slog.String("user_id", user.ID))
		h.redirectWithFlash(w, r, h.config.LoginPath, err)
		return
	}

	middleware.SetSessionCookie(w, h.config.Cookie, session, h.clock.Now())

	h.logger.Info("SSOログインに成功しました",
		slog.String("user_id", user.ID),
		slog.String("app", app),
	)
	http.Redirect(w, r, h.returnURLs.Resolve(returnURL, h.config.RedirectAfterLogin), http.StatusFound)
}

// validateCallbackParams はコールバックのパラメータを検証し、不正な場合は理由を返す。
// トークンの形式はValidatorで検証する。
func validateCallbackParams(token, app, returnURL string) string {
	switch {
	case token == "":
		return "token is required"
	case app == "":
		return "app is required"
	case len(app) > maxAppLength:
		return "app is too long"
	case len(returnURL) > maxReturnURLLength:
		return "return_url is too long"
	}
	return ""
}

func (h *SSOHandler) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.config.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.config.StoreTimeout)
}

// redirectWithFlash はエラー種別に応じたメッセージを設定してリダイレクトする。
// 想定外のエラーは一般的なメッセージになる。
func (h *SSOHandler) redirectWithFlash(w http.ResponseWriter, r *http.Request, target string, err error) {
	_, apiErr := middleware.SSOErrorResponse(err)
	h.redirectWithMessage(w, r, target, apiErr.Message)
}

func (h *SSOHandler) redirectWithMessage(w http.ResponseWriter, r *http.Request, target, message string) {
	setFlash(w, h.config.Cookie.Secure, message)
	http.Redirect(w, r, target, http.StatusFound)
}

// logFailure はSSO処理の失敗を記録する。想定内の失敗はWarn、それ以外はError。
func (h *SSOHandler) logFailure(msg string, err error, attrs ...any) {
	level := slog.LevelError
	if model.IsKind(err, model.KindInvalidToken) || model.IsKind(err, model.KindPartnerNotFound) || model.IsKind(err, model.KindPartnerDisabled) {
		level = slog.LevelWarn
	}
	args := append([]any{slog.String("error", err.Error())}, attrs...)
	if reason := model.TokenReasonOf(err); reason != "" {
		args = append(args, slog.String("reason", string(reason)))
	}
	h.logger.Log(context.Background(), level, msg, args...)
}

func withClientInfo(r *http.Request) context.Context {
	return sso.WithClientInfo(r.Context(), sso.ClientInfo{
		UserAgent: r.UserAgent(),
		IPAddress: middleware.ClientIP(r),
	})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func redirectPath(partnerID, returnURL string) string {
	p := "/sso/redirect/" + url.PathEscape(partnerID)
	if returnURL != "" {
		p += "?return_url=" + url.QueryEscape(returnURL)
	}
	return p
}
