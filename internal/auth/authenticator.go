package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/ssolink/internal/model"
	"github.com/hitoshi/ssolink/internal/repository"
)

// placeholderPasswordBytes は自動作成ユーザーに設定するランダムパスワードのバイト数。
const placeholderPasswordBytes = 32

// Authenticator はSSOクレームに対応するローカルユーザーを解決する。
type Authenticator struct {
	users  repository.UserRepository
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(users repository.UserRepository, clock clockwork.Clock, logger *slog.Logger) *Authenticator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{users: users, clock: clock, logger: logger}
}

// Resolve はメールアドレスでユーザーを検索し、存在しなければ作成する。
// 作成に失敗した場合はログに記録し (nil, nil) を返す。検索の失敗はエラーとして返す。
func (a *Authenticator) Resolve(ctx context.Context, claims *model.UserData) (*model.User, error) {
	email := strings.TrimSpace(claims.Email)
	if email == "" {
		a.logger.Warn("SSOクレームにメールアドレスがありません", slog.String("claims_id", claims.ID))
		return nil, nil
	}

	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user, err = a.provision(ctx, claims, email)
	if err != nil {
		a.logger.Error("SSOユーザーの作成に失敗しました",
			slog.String("claims_id", claims.ID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	a.logger.Info("SSOユーザーを作成しました",
		slog.String("user_id", user.ID),
		slog.String("claims_id", claims.ID),
	)
	return user, nil
}

func (a *Authenticator) provision(ctx context.Context, claims *model.UserData, email string) (*model.User, error) {
	hash, err := unusablePasswordHash()
	if err != nil {
		return nil, err
	}

	name := claims.Name
	if name == "" {
		name = email
	}

	now := a.clock.Now()
	user := &model.User{
		ID:              uuid.New().String(),
		Email:           email,
		Name:            name,
		PasswordHash:    hash,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// unusablePasswordHash は誰も知らないランダム値のbcryptハッシュを返す。
// SSOで作成したユーザーはパスワードでログインできない。
func unusablePasswordHash() (string, error) {
	b := make([]byte, placeholderPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate placeholder password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword(b, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash placeholder password: %w", err)
	}
	return string(hash), nil
}
