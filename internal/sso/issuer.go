package sso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/ssolink/internal/logger"
	"github.com/hitoshi/ssolink/internal/model"
	"github.com/hitoshi/ssolink/internal/repository"
)

// maxGenerateAttempts はトークン値衝突時の最大試行回数。
const maxGenerateAttempts = 5

// DefaultTokenLifetime はトークンの既定の有効期間。
const DefaultTokenLifetime = 5 * time.Minute

var (
	// ErrUserNotFound は発行対象のユーザーが存在しない場合に返される。
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenCollision は試行回数内に一意なトークン値を生成できなかった場合に返される。
	ErrTokenCollision = errors.New("could not generate a unique token value")
)

// PartnerValidator はパートナーの存在と有効性を検証する。
type PartnerValidator interface {
	Validate(ctx context.Context, identifier string) (*model.Partner, error)
}

// UserFinder はクレームのスナップショット元となるユーザーを取得する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// IssuerConfig はIssuerの設定。
type IssuerConfig struct {
	// SourceApp はこのアプリケーションの識別子。トークンの発行元として記録される。
	SourceApp string
	// Lifetime はトークンの有効期間。0以下の場合は DefaultTokenLifetime。
	Lifetime time.Duration
}

// Issuer はSSOトークンを発行する。
type Issuer struct {
	partners PartnerValidator
	users    UserFinder
	tokens   repository.TokenRepository
	cfg      IssuerConfig
	clock    clockwork.Clock
	rand     io.Reader
	recorder Recorder
	logger   *slog.Logger
}

// IssuerOption はIssuerの任意設定。
type IssuerOption func(*Issuer)

// WithIssuerClock は時刻の取得元を差し替える。
func WithIssuerClock(c clockwork.Clock) IssuerOption {
	return func(i *Issuer) { i.clock = c }
}

// WithIssuerRecorder はメトリクスの記録先を設定する。
func WithIssuerRecorder(r Recorder) IssuerOption {
	return func(i *Issuer) { i.recorder = r }
}

// WithIssuerLogger はロガーを設定する。
func WithIssuerLogger(l *slog.Logger) IssuerOption {
	return func(i *Issuer) { i.logger = l }
}

// withRand はトークン値の乱数源を差し替える。テスト用。
func withRand(r io.Reader) IssuerOption {
	return func(i *Issuer) { i.rand = r }
}

// NewIssuer はIssuerを生成する。
func NewIssuer(partners PartnerValidator, users UserFinder, tokens repository.TokenRepository, cfg IssuerConfig, opts ...IssuerOption) *Issuer {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultTokenLifetime
	}
	i := &Issuer{
		partners: partners,
		users:    users,
		tokens:   tokens,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		rand:     defaultRand,
		recorder: nopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue はユーザーとパートナーの組に対して新しいトークンを発行する。
// パートナーの検証エラーはそのまま返す。保存に失敗した場合は部分的な状態を残さない。
func (i *Issuer) Issue(ctx context.Context, userID, partnerIdentifier string, extra map[string]any) (*model.SsoToken, error) {
	partner, err := i.partners.Validate(ctx, partnerIdentifier)
	if err != nil {
		return nil, err
	}
	return i.issueFor(ctx, partner, userID, extra)
}

func (i *Issuer) issueFor(ctx context.Context, partner *model.Partner, userID string, extra map[string]any) (*model.SsoToken, error) {
	user, err := i.users.FindByID(ctx, userID)
	if err != nil {
		return nil, model.WrapStoreError(fmt.Errorf("failed to load user: %w", err))
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	now := i.clock.Now()
	token := &model.SsoToken{
		UserID:            user.ID,
		PartnerIdentifier: partner.Identifier,
		SourceApp:         i.cfg.SourceApp,
		ExpiresAt:         now.Add(i.cfg.Lifetime),
		UserData:          model.NewUserData(user, now, extra),
		Metadata:          buildMetadata(ctx, now),
		CreatedAt:         now,
	}

	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		value, err := generateTokenValue(i.rand)
		if err != nil {
			return nil, err
		}

		exists, err := i.tokens.ExistsByValue(ctx, value)
		if err != nil {
			return nil, model.WrapStoreError(err)
		}
		if exists {
			continue
		}

		token.Value = value
		err = i.tokens.Create(ctx, token)
		if errors.Is(err, repository.ErrDuplicateToken) {
			continue
		}
		if err != nil {
			return nil, model.WrapStoreError(err)
		}

		i.recorder.TokenIssued(partner.Identifier)
		i.logger.Info("SSOトークンを発行しました",
			logger.TokenAttr(value),
			slog.String("user_id", user.ID),
			slog.String("partner", partner.Identifier),
			slog.Time("expires_at", token.ExpiresAt),
		)
		return token, nil
	}

	return nil, model.NewStorageError(ErrTokenCollision)
}

func buildMetadata(ctx context.Context, now time.Time) map[string]string {
	m := map[string]string{
		"created_at": now.UTC().Format(time.RFC3339),
	}
	if info, ok := ClientInfoFrom(ctx); ok {
		if info.UserAgent != "" {
			m["user_agent"] = info.UserAgent
		}
		if info.IPAddress != "" {
			m["ip_address"] = info.IPAddress
		}
	}
	return m
}
