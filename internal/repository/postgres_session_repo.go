package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/ssolink/internal/model"
)

const sessionColumns = `id, user_id::text, expires_at, created_at`

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// 有効期限の判定にはDBのnow()ではなくアプリケーションの時計を使う。
type PostgresSessionRepo struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。clockがnilの場合は実時計を使う。
func NewPostgresSessionRepo(db *sql.DB, clock clockwork.Clock) *PostgresSessionRepo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PostgresSessionRepo{db: db, clock: clock}
}

// Create はセッションを作成する。CreatedAtが未設定の場合は現在時刻を入れる。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = r.clock.Now()
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ($1, $2::uuid, $3, $4)`,
		session.ID, session.UserID, session.ExpiresAt, session.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}
	return nil
}

// FindByID は有効期限内のセッションを返す。存在しないか期限切れの場合は (nil, nil)。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND expires_at > $2`,
		id, r.clock.Now(),
	).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &s, nil
}

// DeleteByID はセッションを削除する。存在しない場合もエラーにしない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は before 以前に期限切れとなったセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return res.RowsAffected()
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
