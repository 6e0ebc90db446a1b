package model

import (
	"context"
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。内部の詳細は含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, partner, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodePartnerNotFound    = "PARTNER_NOT_FOUND"
	ErrCodePartnerDisabled    = "PARTNER_DISABLED"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeAuthFailed         = "AUTHENTICATION_FAILED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrorKind はSSO処理の失敗種別を表す。
type ErrorKind string

const (
	KindPartnerNotFound ErrorKind = "partner_not_found"
	KindPartnerDisabled ErrorKind = "partner_disabled"
	KindInvalidToken    ErrorKind = "invalid_token"
	KindStorage         ErrorKind = "storage"
	KindCancelled       ErrorKind = "cancelled"
)

// TokenReason はトークン引き換え失敗の診断用理由。
// 利用者に見える挙動は理由によって変えない。
type TokenReason string

const (
	ReasonNotFound    TokenReason = "not_found"
	ReasonAlreadyUsed TokenReason = "already_used"
	ReasonExpired     TokenReason = "expired"
	ReasonAppMismatch TokenReason = "app_mismatch"
)

// SSOError はSSOプロトコルの失敗を表す。
type SSOError struct {
	Kind    ErrorKind
	Reason  TokenReason // KindInvalidToken の場合のみ設定される
	Partner string      // パートナー関連の失敗の場合のみ設定される
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *SSOError) Error() string {
	switch e.Kind {
	case KindPartnerNotFound:
		return fmt.Sprintf("partner %q not found", e.Partner)
	case KindPartnerDisabled:
		return fmt.Sprintf("partner %q is disabled", e.Partner)
	case KindInvalidToken:
		return fmt.Sprintf("sso token validation failed: %s", e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("sso %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("sso %s error", e.Kind)
}

// Unwrap は原因エラーを返す。
func (e *SSOError) Unwrap() error {
	return e.Err
}

// NewPartnerNotFoundError はパートナー未登録エラーを生成する。
func NewPartnerNotFoundError(identifier string) *SSOError {
	return &SSOError{Kind: KindPartnerNotFound, Partner: identifier}
}

// NewPartnerDisabledError はパートナー無効エラーを生成する。
func NewPartnerDisabledError(identifier string) *SSOError {
	return &SSOError{Kind: KindPartnerDisabled, Partner: identifier}
}

// NewInvalidTokenError はトークン無効エラーを生成する。
func NewInvalidTokenError(reason TokenReason) *SSOError {
	return &SSOError{Kind: KindInvalidToken, Reason: reason}
}

// NewStorageError は永続化層の失敗を表すエラーを生成する。
func NewStorageError(err error) *SSOError {
	return &SSOError{Kind: KindStorage, Err: err}
}

// NewCancelledError はキャンセルまたはタイムアウトを表すエラーを生成する。
func NewCancelledError(err error) *SSOError {
	return &SSOError{Kind: KindCancelled, Err: err}
}

// WrapStoreError は永続化層のエラーを分類する。
// キャンセルまたはタイムアウトは KindCancelled、それ以外は KindStorage となる。
func WrapStoreError(err error) *SSOError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewCancelledError(err)
	}
	return NewStorageError(err)
}

// IsKind はエラーチェーンに指定種別のSSOErrorが含まれるかを返す。
func IsKind(err error, kind ErrorKind) bool {
	var ssoErr *SSOError
	if errors.As(err, &ssoErr) {
		return ssoErr.Kind == kind
	}
	return false
}

// TokenReasonOf はトークン無効エラーの理由を返す。該当しない場合は空文字列。
func TokenReasonOf(err error) TokenReason {
	var ssoErr *SSOError
	if errors.As(err, &ssoErr) && ssoErr.Kind == KindInvalidToken {
		return ssoErr.Reason
	}
	return ""
}

// NewPartnerNotFoundAPIError はパートナー未登録の利用者向けエラーを生成する。
func NewPartnerNotFoundAPIError() *APIError {
	return &APIError{
		Code:     ErrCodePartnerNotFound,
		Message:  "指定された連携先アプリケーションは登録されていません。",
		Category: "partner",
		Action:   "連携先の一覧から選択し直してください。",
	}
}

// NewPartnerDisabledAPIError はパートナー無効の利用者向けエラーを生成する。
func NewPartnerDisabledAPIError() *APIError {
	return &APIError{
		Code:     ErrCodePartnerDisabled,
		Message:  "指定された連携先アプリケーションは現在利用できません。",
		Category: "partner",
		Action:   "しばらく待ってから再度お試しいただくか、管理者にお問い合わせください。",
	}
}

// NewAuthFailedAPIError はSSO認証失敗の利用者向けエラーを生成する。
// トークンの失敗理由は利用者には区別して見せない。
func NewAuthFailedAPIError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "SSO認証に失敗しました。",
		Category: "auth",
		Action:   "連携元のアプリケーションからもう一度ログインしてください。",
	}
}

// NewInvalidRequestAPIError はリクエストパラメータ不正の利用者向けエラーを生成する。
func NewInvalidRequestAPIError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リンクを確認してください。",
	}
}

// NewServiceUnavailableAPIError は一時的な障害の利用者向けエラーを生成する。
func NewServiceUnavailableAPIError() *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  "現在サービスを利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalAPIError は予期しない失敗の利用者向けエラーを生成する。
func NewInternalAPIError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "予期しないエラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
