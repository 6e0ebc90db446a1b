package security

import (
	"net/url"
	"strings"
)

// ReturnURLGuard はログイン後の遷移先URLがオープンリダイレクトにならないかを検証する。
// 許可するのは "/" で始まる相対パス（"//" と "/\" は除く）と、BaseURLと同一オリジンの絶対URLのみ。
type ReturnURLGuard struct {
	scheme string
	host   string
}

// NewReturnURLGuard はBaseURLを基準にReturnURLGuardを生成する。
func NewReturnURLGuard(baseURL string) (*ReturnURLGuard, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &ReturnURLGuard{scheme: strings.ToLower(u.Scheme), host: strings.ToLower(u.Host)}, nil
}

// Allowed は遷移先として安全なURLかを返す。空文字列は安全でないとみなす。
func (g *ReturnURLGuard) Allowed(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, "\r\n\t") {
		return false
	}

	if strings.HasPrefix(raw, "/") {
		if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
			return false
		}
		u, err := url.Parse(raw)
		return err == nil && u.Host == "" && u.Scheme == ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.User != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, g.scheme) && strings.EqualFold(u.Host, g.host) && g.host != ""
}

// Resolve は raw が安全であればそれを、そうでなければ fallback を返す。
func (g *ReturnURLGuard) Resolve(raw, fallback string) string {
	if g.Allowed(raw) {
		return strings.TrimSpace(raw)
	}
	return fallback
}
