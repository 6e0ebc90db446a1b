// Package auth はSSOクレームからのローカルユーザー解決とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/ssolink/internal/model"
	"github.com/hitoshi/ssolink/internal/repository"
)

// ErrSessionNotFound はセッションが存在しないか期限切れの場合に返される。
var ErrSessionNotFound = errors.New("session not found or expired")

// SessionConfig はセッションサービスの設定。
type SessionConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// SessionService はローカルセッションの発行と破棄を行う。
type SessionService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      SessionConfig
	clock       clockwork.Clock
}

// NewSessionService はSessionServiceを生成する。
func NewSessionService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config SessionConfig,
	clock clockwork.Clock,
) *SessionService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
		clock:       clock,
	}
}

// Login はユーザーのセッションを作成し永続化する。
func (s *SessionService) Login(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.clock.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("session created", slog.String("user_id", userID))
	return session, nil
}

// Logout はセッションを破棄する。
func (s *SessionService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *SessionService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrSessionNotFound
	}

	return user, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
