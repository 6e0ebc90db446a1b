package sso

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/ssolink/internal/logger"
	"github.com/hitoshi/ssolink/internal/model"
	"github.com/hitoshi/ssolink/internal/repository"
)

// Validator はSSOトークンを引き換える。
type Validator struct {
	tokens       repository.TokenRepository
	clock        clockwork.Clock
	claimsMaxAge time.Duration
	recorder     Recorder
	logger       *slog.Logger
}

// ValidatorOption はValidatorの任意設定。
type ValidatorOption func(*Validator)

// WithValidatorClock は時刻の取得元を差し替える。
func WithValidatorClock(c clockwork.Clock) ValidatorOption {
	return func(v *Validator) { v.clock = c }
}

// WithValidatorRecorder はメトリクスの記録先を設定する。
func WithValidatorRecorder(r Recorder) ValidatorOption {
	return func(v *Validator) { v.recorder = r }
}

// WithValidatorLogger はロガーを設定する。
func WithValidatorLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = l }
}

// WithClaimsMaxAge はクレームの鮮度チェックの上限を設定する。0以下の場合はチェックしない。
func WithClaimsMaxAge(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.claimsMaxAge = d }
}

// NewValidator はValidatorを生成する。
func NewValidator(tokens repository.TokenRepository, opts ...ValidatorOption) *Validator {
	v := &Validator{
		tokens:   tokens,
		clock:    clockwork.NewRealClock(),
		recorder: nopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Redeem はトークンを使用済みにしてクレームを返す。
// sourceApp が空でない場合はトークンの発行元アプリと一致しなければならない。
// 同一トークンに対して成功するのは高々1回である。
func (v *Validator) Redeem(ctx context.Context, value, sourceApp string) (*model.UserData, error) {
	if !IsTokenFormat(value) {
		return nil, v.fail(value, model.ReasonNotFound)
	}

	now := v.clock.Now()
	if v.claimsMaxAge > 0 {
		stale, err := v.isStale(ctx, value, now)
		if err != nil {
			return nil, err
		}
		if stale {
			return nil, v.fail(value, model.ReasonExpired)
		}
	}

	token, err := v.tokens.ConsumeByValue(ctx, value, sourceApp, now)
	if err != nil {
		return nil, model.WrapStoreError(err)
	}
	if token == nil {
		reason, err := v.classify(ctx, value, now)
		if err != nil {
			return nil, err
		}
		return nil, v.fail(value, reason)
	}

	v.recorder.TokenRedeemed()
	v.logger.Info("SSOトークンを引き換えました",
		logger.TokenAttr(value),
		slog.String("user_id", token.UserID),
		slog.String("partner", token.PartnerIdentifier),
		slog.String("source_app", token.SourceApp),
	)
	data := token.UserData
	return &data, nil
}

// isStale は未使用のトークンのクレームが claimsMaxAge を超えているかを返す。
// 引き換え前に判定するため、拒否したトークンは使用済みにならない。
// 存在しないか使用済みのトークンは false を返し、判定を ConsumeByValue に任せる。
func (v *Validator) isStale(ctx context.Context, value string, now time.Time) (bool, error) {
	token, err := v.tokens.FindByValue(ctx, value)
	if err != nil {
		return false, model.WrapStoreError(err)
	}
	if token == nil || token.Status(now) != model.TokenStatusUnused {
		return false, nil
	}
	if token.UserData.IsFresh(now, v.claimsMaxAge) {
		return false, nil
	}
	v.logger.Warn("SSOトークンのクレームが古いため拒否しました",
		logger.TokenAttr(value),
		slog.Time("issued_at", token.UserData.IssuedAt()),
	)
	return true, nil
}

// Inspect はトークンを消費せずに現在の状態を返す。存在しない場合は not_found の InvalidToken エラー。
func (v *Validator) Inspect(ctx context.Context, value string) (model.TokenStatus, error) {
	if !IsTokenFormat(value) {
		return "", model.NewInvalidTokenError(model.ReasonNotFound)
	}
	token, err := v.tokens.FindByValue(ctx, value)
	if err != nil {
		return "", model.WrapStoreError(err)
	}
	if token == nil {
		return "", model.NewInvalidTokenError(model.ReasonNotFound)
	}
	return token.Status(v.clock.Now()), nil
}

// classify は引き換えに失敗したトークンの理由を判定する。使用済みは期限切れより優先する。
func (v *Validator) classify(ctx context.Context, value string, now time.Time) (model.TokenReason, error) {
	token, err := v.tokens.FindByValue(ctx, value)
	if err != nil {
		return "", model.WrapStoreError(err)
	}
	if token == nil {
		return model.ReasonNotFound, nil
	}
	switch token.Status(now) {
	case model.TokenStatusUsed:
		return model.ReasonAlreadyUsed, nil
	case model.TokenStatusExpired:
		return model.ReasonExpired, nil
	default:
		return model.ReasonAppMismatch, nil
	}
}

func (v *Validator) fail(value string, reason model.TokenReason) error {
	v.recorder.RedeemFailed(string(reason))
	v.logger.Warn("SSOトークンの引き換えに失敗しました",
		logger.TokenAttr(value),
		slog.String("reason", string(reason)),
	)
	return model.NewInvalidTokenError(reason)
}
