package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory はプロセス内のキャッシュ。
type Memory struct {
	c *gocache.Cache
}

// NewMemory はMemoryキャッシュを生成する。
// 期限切れエントリは1分ごとに掃除される。
func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{c: gocache.New(defaultTTL, time.Minute)}
}

// Get はキーに対応する値を返す。
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

// Set は値を保持する。
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

// Delete はキーを削除する。
func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Close は全エントリを破棄する。
func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}

var _ Client = (*Memory)(nil)
