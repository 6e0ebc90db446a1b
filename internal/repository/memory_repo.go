package repository

import (
	"context"
	"errors"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/ssolink/internal/model"
)

// インメモリ実装は開発環境とテスト用。プロセス間で状態は共有されない。

// MemoryUserRepo はメモリ上のユーザーリポジトリ。
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]*model.User
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]*model.User)}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	if user == nil || user.ID == "" {
		return errors.New("user id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

func cloneUser(u *model.User) *model.User {
	c := *u
	if u.EmailVerifiedAt != nil {
		t := *u.EmailVerifiedAt
		c.EmailVerifiedAt = &t
	}
	return &c
}

// MemorySessionRepo はメモリ上のセッションリポジトリ。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	clock    clockwork.Clock
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。clockがnilの場合は実時計を使う。
func NewMemorySessionRepo(clock clockwork.Clock) *MemorySessionRepo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemorySessionRepo{sessions: make(map[string]model.Session), clock: clock}
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok || !s.ExpiresAt.After(r.clock.Now()) {
		return nil, nil
	}
	return &s, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// MemoryPartnerRepo はメモリ上のパートナーリポジトリ。
type MemoryPartnerRepo struct {
	mu       sync.RWMutex
	partners map[string]*model.Partner
	clock    clockwork.Clock
}

// NewMemoryPartnerRepo はMemoryPartnerRepoを生成する。clockがnilの場合は実時計を使う。
func NewMemoryPartnerRepo(clock clockwork.Clock, partners ...*model.Partner) *MemoryPartnerRepo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &MemoryPartnerRepo{partners: make(map[string]*model.Partner), clock: clock}
	for _, p := range partners {
		r.partners[p.Identifier] = clonePartner(p)
	}
	return r
}

// FindByIdentifier は識別子でパートナーを取得する。見つからない場合はnilを返す。
func (r *MemoryPartnerRepo) FindByIdentifier(_ context.Context, identifier string) (*model.Partner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.partners[identifier]; ok {
		return clonePartner(p), nil
	}
	return nil, nil
}

// ListEnabled は有効なパートナーを名前、識別子の順で返す。
func (r *MemoryPartnerRepo) ListEnabled(_ context.Context) ([]*model.Partner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Partner
	for _, p := range r.partners {
		if p.Enabled {
			out = append(out, clonePartner(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out, nil
}

// ListAll は全パートナーを識別子順で返す。
func (r *MemoryPartnerRepo) ListAll(_ context.Context) ([]*model.Partner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Partner, 0, len(r.partners))
	for _, p := range r.partners {
		out = append(out, clonePartner(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// Upsert は識別子をキーにパートナーを作成または更新する。
func (r *MemoryPartnerRepo) Upsert(_ context.Context, partner *model.Partner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	partner.UpdatedAt = now
	if existing, ok := r.partners[partner.Identifier]; ok {
		partner.CreatedAt = existing.CreatedAt
	} else {
		partner.CreatedAt = now
	}
	r.partners[partner.Identifier] = clonePartner(partner)
	return nil
}

func clonePartner(p *model.Partner) *model.Partner {
	c := *p
	c.Metadata = maps.Clone(p.Metadata)
	return &c
}

// MemoryTokenRepo はメモリ上のSSOトークンリポジトリ。
// 引き換えの判定と更新は同一のロック内で行う。
type MemoryTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*model.SsoToken
	nextID int64
}

// NewMemoryTokenRepo はMemoryTokenRepoを生成する。
func NewMemoryTokenRepo() *MemoryTokenRepo {
	return &MemoryTokenRepo{tokens: make(map[string]*model.SsoToken)}
}

// Create はトークンを保存する。
func (r *MemoryTokenRepo) Create(_ context.Context, token *model.SsoToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[token.Value]; exists {
		return ErrDuplicateToken
	}
	r.nextID++
	token.ID = r.nextID
	token.UpdatedAt = token.CreatedAt
	r.tokens[token.Value] = cloneToken(token)
	return nil
}

// ExistsByValue は指定値のトークンが存在するかを返す。
func (r *MemoryTokenRepo) ExistsByValue(_ context.Context, value string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[value]
	return ok, nil
}

// FindByValue は値でトークンを取得する。見つからない場合はnilを返す。
func (r *MemoryTokenRepo) FindByValue(_ context.Context, value string) (*model.SsoToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[value]; ok {
		return cloneToken(t), nil
	}
	return nil, nil
}

// ConsumeByValue は条件を満たすトークンを使用済みにする。
func (r *MemoryTokenRepo) ConsumeByValue(ctx context.Context, value, sourceApp string, now time.Time) (*model.SsoToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[value]
	if !ok || !t.IsValid(now) {
		return nil, nil
	}
	if sourceApp != "" && t.SourceApp != sourceApp {
		return nil, nil
	}
	usedAt := now
	t.Used = true
	t.UsedAt = &usedAt
	t.UpdatedAt = now
	return cloneToken(t), nil
}

// CountExpired は before 以前に期限切れとなったトークン数を返す。
func (r *MemoryTokenRepo) CountExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tokens {
		if !t.ExpiresAt.After(before) {
			n++
		}
	}
	return n, nil
}

// ListExpired は期限切れトークンを期限の古い順に最大 limit 件返す。
func (r *MemoryTokenRepo) ListExpired(_ context.Context, before time.Time, limit int) ([]*model.SsoToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SsoToken
	for _, t := range r.tokens {
		if !t.ExpiresAt.After(before) {
			out = append(out, cloneToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteExpired は before 以前に期限切れとなったトークンを削除する。
func (r *MemoryTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for v, t := range r.tokens {
		if !t.ExpiresAt.After(before) {
			delete(r.tokens, v)
			n++
		}
	}
	return n, nil
}

func cloneToken(t *model.SsoToken) *model.SsoToken {
	c := *t
	if t.UsedAt != nil {
		u := *t.UsedAt
		c.UsedAt = &u
	}
	c.Metadata = maps.Clone(t.Metadata)
	c.UserData.Extra = maps.Clone(t.UserData.Extra)
	return &c
}

// compile-time interface check
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
	_ PartnerRepository = (*MemoryPartnerRepo)(nil)
	_ TokenRepository   = (*MemoryTokenRepo)(nil)
)
