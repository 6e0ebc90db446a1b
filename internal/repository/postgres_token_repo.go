package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/ssolink/internal/database"
	"github.com/hitoshi/ssolink/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したSSOトークンリポジトリ。
// user_data は PayloadSealer で封緘してから保存する。
type PostgresTokenRepo struct {
	db     *sql.DB
	sealer PayloadSealer
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
// sealerがnilの場合、user_dataは平文JSONのまま保存される。
func NewPostgresTokenRepo(db *sql.DB, sealer PayloadSealer) *PostgresTokenRepo {
	if sealer == nil {
		sealer = plainSealer{}
	}
	return &PostgresTokenRepo{db: db, sealer: sealer}
}

const tokenColumns = `id, token, user_id, partner_identifier, source_app, expires_at, used, used_at, user_data, metadata, created_at, updated_at`

// Create はトークンを保存する。
func (r *PostgresTokenRepo) Create(ctx context.Context, token *model.SsoToken) error {
	userData, err := json.Marshal(token.UserData)
	if err != nil {
		return fmt.Errorf("failed to encode user data: %w", err)
	}
	sealed, err := r.sealer.Seal(userData)
	if err != nil {
		return fmt.Errorf("failed to seal user data: %w", err)
	}
	metadata, err := marshalMetadata(token.Metadata)
	if err != nil {
		return err
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO sso_tokens (token, user_id, partner_identifier, source_app, expires_at, used, user_data, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6, $7, $8, $8)
		 RETURNING id`,
		token.Value, token.UserID, token.PartnerIdentifier, token.SourceApp, token.ExpiresAt, sealed, string(metadata), token.CreatedAt,
	).Scan(&token.ID)
	if database.IsUniqueViolation(err) {
		return ErrDuplicateToken
	}
	if err != nil {
		return fmt.Errorf("failed to insert sso token: %w", err)
	}
	token.UpdatedAt = token.CreatedAt
	return nil
}

// ExistsByValue は指定値のトークンが存在するかを返す。
func (r *PostgresTokenRepo) ExistsByValue(ctx context.Context, value string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sso_tokens WHERE token = $1)`,
		value,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check sso token existence: %w", err)
	}
	return exists, nil
}

// FindByValue は値でトークンを取得する。見つからない場合はnilを返す。
func (r *PostgresTokenRepo) FindByValue(ctx context.Context, value string) (*model.SsoToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM sso_tokens WHERE token = $1`,
		value,
	)
	token, err := r.scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sso token: %w", err)
	}
	return token, nil
}

// ConsumeByValue は条件付きUPDATEでトークンを使用済みにする。
// used=false かつ expires_at > now（かつ source_app 一致）の行のみが更新対象となるため、
// 同時に引き換えを試みても成功するのは1件だけである。
func (r *PostgresTokenRepo) ConsumeByValue(ctx context.Context, value, sourceApp string, now time.Time) (*model.SsoToken, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE sso_tokens
		 SET used = true, used_at = $2, updated_at = $2
		 WHERE token = $1
		   AND used = false
		   AND expires_at > $2
		   AND ($3::text = '' OR source_app = $3::text)
		 RETURNING `+tokenColumns,
		value, now, sourceApp,
	)
	token, err := r.scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume sso token: %w", err)
	}
	return token, nil
}

// CountExpired は before 以前に期限切れとなったトークン数を返す。
func (r *PostgresTokenRepo) CountExpired(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sso_tokens WHERE expires_at <= $1`,
		before,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired sso tokens: %w", err)
	}
	return count, nil
}

// ListExpired は期限切れトークンを期限の古い順に返す。
// user_data は読み出さない。
func (r *PostgresTokenRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.SsoToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, token, user_id, partner_identifier, source_app, expires_at, used
		 FROM sso_tokens
		 WHERE expires_at <= $1
		 ORDER BY expires_at, id
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sso tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*model.SsoToken
	for rows.Next() {
		t := &model.SsoToken{}
		if err := rows.Scan(&t.ID, &t.Value, &t.UserID, &t.PartnerIdentifier, &t.SourceApp, &t.ExpiresAt, &t.Used); err != nil {
			return nil, fmt.Errorf("failed to scan sso token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sso tokens: %w", err)
	}
	return tokens, nil
}

// DeleteExpired は before 以前に期限切れとなったトークンを削除する。
func (r *PostgresTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sso_tokens WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sso tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *PostgresTokenRepo) scanToken(s rowScanner) (*model.SsoToken, error) {
	t := &model.SsoToken{}
	var usedAt sql.NullTime
	var sealed, metadata []byte
	err := s.Scan(&t.ID, &t.Value, &t.UserID, &t.PartnerIdentifier, &t.SourceApp, &t.ExpiresAt,
		&t.Used, &usedAt, &sealed, &metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		u := usedAt.Time
		t.UsedAt = &u
	}

	plain, err := r.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open user data: %w", err)
	}
	if err := json.Unmarshal(plain, &t.UserData); err != nil {
		return nil, fmt.Errorf("failed to decode user data: %w", err)
	}
	if t.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return t, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
