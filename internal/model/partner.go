package model

import (
	"net/url"
	"strings"
	"time"
)

// Partner はSSOトークンを受け入れる連携先アプリケーションを表す。
type Partner struct {
	// Identifier はパートナーを一意に識別する短いキー。再利用しない。
	Identifier string
	Name       string
	BaseURL    string
	// SharedKey は将来の署名用に予約された共有シークレット。ログに出力しない。
	SharedKey string
	// Enabled がfalseのパートナーは新規発行とリダイレクトを拒否する。
	// 発行済みトークンは無効化しない。
	Enabled   bool
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallbackURL はパートナー側のSSOコールバックURLを返す。
// ベースURLに含まれるクエリパラメータは保持される。
func (p *Partner) CallbackURL() (*url.URL, error) {
	return p.endpoint("/sso/callback")
}

// LoginURL はパートナー側のSSOログインページURLを返す。
func (p *Partner) LoginURL() (*url.URL, error) {
	return p.endpoint("/sso/login")
}

func (p *Partner) endpoint(suffix string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(p.BaseURL))
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + suffix
	u.RawPath = ""
	u.Fragment = ""
	return u, nil
}
