// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/ssolink/internal/model"
)

// ErrDuplicateToken はトークン値が既存のトークンと衝突した場合に返される。
var ErrDuplicateToken = errors.New("duplicate sso token value")

// ErrDuplicateEmail はメールアドレスが既存のユーザーと衝突した場合に返される。
var ErrDuplicateEmail = errors.New("duplicate user email")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合は ErrDuplicateEmail を返す。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は before 以前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PartnerRepository は連携先パートナーの永続化インターフェース。
type PartnerRepository interface {
	// FindByIdentifier は識別子でパートナーを取得する。見つからない場合はnilを返す。
	// 無効化されたパートナーも返す。
	FindByIdentifier(ctx context.Context, identifier string) (*model.Partner, error)

	// ListEnabled は有効なパートナーを名前、識別子の順で返す。
	ListEnabled(ctx context.Context) ([]*model.Partner, error)

	// ListAll は無効なものも含めた全パートナーを識別子順で返す。
	ListAll(ctx context.Context) ([]*model.Partner, error)

	// Upsert は識別子をキーにパートナーを作成または更新する。
	Upsert(ctx context.Context, partner *model.Partner) error
}

// TokenRepository はSSOトークンの永続化インターフェース。
type TokenRepository interface {
	// Create はトークンを保存する。値が重複する場合は ErrDuplicateToken を返す。
	Create(ctx context.Context, token *model.SsoToken) error

	// ExistsByValue は指定値のトークンが存在するかを返す。
	ExistsByValue(ctx context.Context, value string) (bool, error)

	// FindByValue は値でトークンを取得する。見つからない場合はnilを返す。
	FindByValue(ctx context.Context, value string) (*model.SsoToken, error)

	// ConsumeByValue は未使用かつ now 時点で有効期限内のトークンを使用済みにし、
	// 更新後のトークンを返す。sourceApp が空でない場合は発行元アプリも一致条件に含める。
	// 条件を満たすトークンがない場合はnilを返す。判定と更新は単一の操作として行われ、
	// 同一トークンに対して成功するのは高々1回である。
	ConsumeByValue(ctx context.Context, value, sourceApp string, now time.Time) (*model.SsoToken, error)

	// CountExpired は before より前に期限切れとなったトークン数を返す。
	CountExpired(ctx context.Context, before time.Time) (int64, error)

	// ListExpired は before より前に期限切れとなったトークンを期限の古い順に最大 limit 件返す。
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.SsoToken, error)

	// DeleteExpired は before より前に期限切れとなったトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PayloadSealer は保存前のクレームを封緘し、読み出し時に開封する。
type PayloadSealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// plainSealer は封緘を行わない PayloadSealer。
type plainSealer struct{}

func (plainSealer) Seal(b []byte) ([]byte, error) { return b, nil }
func (plainSealer) Open(b []byte) ([]byte, error) { return b, nil }
