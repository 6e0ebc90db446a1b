// Package sso はSSOトークンの発行、引き換え、連携先URLの組み立てを提供する。
package sso

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// TokenBytes はトークン値の元となる乱数のバイト数。値はその16進表現（64文字）。
const TokenBytes = 32

// TokenLength はトークン値の文字数。
const TokenLength = TokenBytes * 2

// generateTokenValue は r から読み出した乱数で新しいトークン値を生成する。
func generateTokenValue(r io.Reader) (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to generate token value: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IsTokenFormat は s が発行済みトークンと同じ形式（小文字16進64文字）かを返す。
func IsTokenFormat(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ClientInfo はトークン発行を要求したクライアントの情報。トークンのメタデータとして保存される。
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

type clientInfoKey struct{}

// WithClientInfo はクライアント情報をコンテキストに格納する。
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFrom はコンテキストからクライアント情報を取得する。
func ClientInfoFrom(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info, ok
}

// defaultRand は暗号論的に安全な乱数源。
var defaultRand io.Reader = rand.Reader
