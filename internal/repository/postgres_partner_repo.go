package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/ssolink/internal/model"
)

// PostgresPartnerRepo はPostgreSQLを使用したパートナーリポジトリ。
type PostgresPartnerRepo struct {
	db *sql.DB
}

// NewPostgresPartnerRepo はPostgresPartnerRepoを生成する。
func NewPostgresPartnerRepo(db *sql.DB) *PostgresPartnerRepo {
	return &PostgresPartnerRepo{db: db}
}

const partnerColumns = `identifier, name, url, shared_key, enabled, metadata, created_at, updated_at`

// FindByIdentifier は識別子でパートナーを取得する。見つからない場合はnilを返す。
func (r *PostgresPartnerRepo) FindByIdentifier(ctx context.Context, identifier string) (*model.Partner, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM sso_partners WHERE identifier = $1`,
		identifier,
	)
	p, err := scanPartner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find partner: %w", err)
	}
	return p, nil
}

// ListEnabled は有効なパートナーを名前、識別子の順で返す。
func (r *PostgresPartnerRepo) ListEnabled(ctx context.Context) ([]*model.Partner, error) {
	return r.list(ctx, `SELECT `+partnerColumns+` FROM sso_partners WHERE enabled = true ORDER BY name, identifier`)
}

// ListAll は全パートナーを識別子順で返す。
func (r *PostgresPartnerRepo) ListAll(ctx context.Context) ([]*model.Partner, error) {
	return r.list(ctx, `SELECT `+partnerColumns+` FROM sso_partners ORDER BY identifier`)
}

func (r *PostgresPartnerRepo) list(ctx context.Context, query string) ([]*model.Partner, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}
	defer rows.Close()

	var partners []*model.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan partner: %w", err)
		}
		partners = append(partners, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate partners: %w", err)
	}
	return partners, nil
}

// Upsert は識別子をキーにパートナーを作成または更新する。
func (r *PostgresPartnerRepo) Upsert(ctx context.Context, partner *model.Partner) error {
	metadata, err := marshalMetadata(partner.Metadata)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO sso_partners (identifier, name, url, shared_key, enabled, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 ON CONFLICT (identifier) DO UPDATE SET
		   name = EXCLUDED.name,
		   url = EXCLUDED.url,
		   shared_key = EXCLUDED.shared_key,
		   enabled = EXCLUDED.enabled,
		   metadata = EXCLUDED.metadata,
		   updated_at = now()
		 RETURNING created_at, updated_at`,
		partner.Identifier, partner.Name, partner.BaseURL, partner.SharedKey, partner.Enabled, string(metadata),
	).Scan(&partner.CreatedAt, &partner.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert partner: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPartner(s rowScanner) (*model.Partner, error) {
	p := &model.Partner{}
	var metadata []byte
	if err := s.Scan(&p.Identifier, &p.Name, &p.BaseURL, &p.SharedKey, &p.Enabled, &metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	m, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	p.Metadata = m
	return p, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b, nil
}

func unmarshalMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// compile-time interface check
var _ PartnerRepository = (*PostgresPartnerRepo)(nil)
