// Package cache はパートナー情報などの読み取りキャッシュを提供する。
package cache

import (
	"context"
	"time"
)

// Client はバイト列を保持するキー・バリューキャッシュ。
// キャッシュは補助的なものであり、呼び出し側はエラー時に永続化層へフォールバックする。
type Client interface {
	// Get はキーに対応する値を返す。存在しない場合は ok=false。
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set は値を ttl の間保持する。ttl が0以下の場合は既定のTTLを使う。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete はキーを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
	// Close は接続などのリソースを解放する。
	Close() error
}
