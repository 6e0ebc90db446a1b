// Package partner はSSO連携先パートナーのレジストリを提供する。
package partner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/ssolink/internal/cache"
	"github.com/hitoshi/ssolink/internal/config"
	"github.com/hitoshi/ssolink/internal/model"
	"github.com/hitoshi/ssolink/internal/repository"
)

const (
	cacheKeyPrefix  = "partner:"
	cacheKeyEnabled = "partners:enabled"
)

// Sanitizer は表示名のサニタイズ処理。
type Sanitizer interface {
	Sanitize(name string) string
}

// Registry はパートナー情報の参照と検証を提供する。
// 参照はキャッシュ経由で行い、キャッシュの失敗時はリポジトリへフォールバックする。
type Registry struct {
	repo      repository.PartnerRepository
	cache     cache.Client
	ttl       time.Duration
	sanitizer Sanitizer
	logger    *slog.Logger
}

// NewRegistry はRegistryを生成する。cacheがnilの場合はキャッシュを使わない。
func NewRegistry(repo repository.PartnerRepository, c cache.Client, ttl time.Duration, sanitizer Sanitizer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, cache: c, ttl: ttl, sanitizer: sanitizer, logger: logger}
}

// cachedPartner はキャッシュ保存用の表現。共有シークレットはキャッシュに載せない。
type cachedPartner struct {
	Identifier string            `json:"identifier"`
	Name       string            `json:"name"`
	BaseURL    string            `json:"url"`
	Enabled    bool              `json:"enabled"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func toCached(p *model.Partner) cachedPartner {
	return cachedPartner{
		Identifier: p.Identifier,
		Name:       p.Name,
		BaseURL:    p.BaseURL,
		Enabled:    p.Enabled,
		Metadata:   p.Metadata,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func (c cachedPartner) toModel() *model.Partner {
	return &model.Partner{
		Identifier: c.Identifier,
		Name:       c.Name,
		BaseURL:    c.BaseURL,
		Enabled:    c.Enabled,
		Metadata:   c.Metadata,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

// ListEnabled は有効なパートナーを名前、識別子の順で返す。
func (r *Registry) ListEnabled(ctx context.Context) ([]*model.Partner, error) {
	var cached []cachedPartner
	if r.cacheGet(ctx, cacheKeyEnabled, &cached) {
		out := make([]*model.Partner, 0, len(cached))
		for _, c := range cached {
			out = append(out, c.toModel())
		}
		return out, nil
	}

	partners, err := r.repo.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled partners: %w", err)
	}
	toStore := make([]cachedPartner, 0, len(partners))
	for _, p := range partners {
		r.sanitize(p)
		toStore = append(toStore, toCached(p))
	}
	r.cacheSet(ctx, cacheKeyEnabled, toStore)
	return partners, nil
}

// FindByIdentifier は識別子でパートナーを取得する。見つからない場合はnilを返す。
// キャッシュからの結果には共有シークレットが含まれない。
func (r *Registry) FindByIdentifier(ctx context.Context, identifier string) (*model.Partner, error) {
	var cached cachedPartner
	if r.cacheGet(ctx, cacheKeyPrefix+identifier, &cached) {
		return cached.toModel(), nil
	}

	p, err := r.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find partner: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	r.sanitize(p)
	r.cacheSet(ctx, cacheKeyPrefix+identifier, toCached(p))
	return p, nil
}

// Validate はパートナーが存在し有効であることを検証する。
// 未登録の場合は KindPartnerNotFound、無効の場合は KindPartnerDisabled の *model.SSOError を返す。
func (r *Registry) Validate(ctx context.Context, identifier string) (*model.Partner, error) {
	p, err := r.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, model.WrapStoreError(err)
	}
	if p == nil {
		return nil, model.NewPartnerNotFoundError(identifier)
	}
	if !p.Enabled {
		return nil, model.NewPartnerDisabledError(identifier)
	}
	return p, nil
}

// ListAll は無効なものも含めた全パートナーを返す。キャッシュは使わない。
func (r *Registry) ListAll(ctx context.Context) ([]*model.Partner, error) {
	partners, err := r.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}
	for _, p := range partners {
		r.sanitize(p)
	}
	return partners, nil
}

// SyncResult はSyncの結果。
type SyncResult struct {
	Upserted int
}

// Sync は設定ファイルのパートナーをリポジトリへ反映し、関連するキャッシュを無効化する。
// 設定ファイルに存在しないパートナーは削除しない。
func (r *Registry) Sync(ctx context.Context, configs []config.PartnerConfig) (SyncResult, error) {
	var res SyncResult
	for _, c := range configs {
		p := &model.Partner{
			Identifier: c.Identifier,
			Name:       c.Name,
			BaseURL:    c.URL,
			SharedKey:  c.Key,
			Enabled:    c.IsEnabled(),
			Metadata:   c.Metadata,
		}
		r.sanitize(p)
		if err := r.repo.Upsert(ctx, p); err != nil {
			return res, fmt.Errorf("failed to sync partner %q: %w", c.Identifier, err)
		}
		r.invalidate(ctx, cacheKeyPrefix+c.Identifier)
		res.Upserted++
		r.logger.Info("パートナー設定を同期しました",
			slog.String("partner", p.Identifier),
			slog.Bool("enabled", p.Enabled),
		)
	}
	r.invalidate(ctx, cacheKeyEnabled)
	return res, nil
}

func (r *Registry) sanitize(p *model.Partner) {
	if r.sanitizer == nil {
		return
	}
	if name := r.sanitizer.Sanitize(p.Name); name != "" {
		p.Name = name
	} else {
		p.Name = p.Identifier
	}
}

func (r *Registry) cacheGet(ctx context.Context, key string, dst any) bool {
	if r.cache == nil {
		return false
	}
	b, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("パートナーキャッシュの読み込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		r.logger.Warn("パートナーキャッシュの内容が不正です",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (r *Registry) cacheSet(ctx context.Context, key string, v any) {
	if r.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, b, r.ttl); err != nil {
		r.logger.Warn("パートナーキャッシュの書き込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Registry) invalidate(ctx context.Context, key string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, key); err != nil {
		r.logger.Warn("パートナーキャッシュの削除に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
