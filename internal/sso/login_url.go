package sso

import (
	"net/url"
	"time"
)

// LoginURL は連携先のコールバックURLと、それに埋め込まれたトークンの情報。
type LoginURL struct {
	URL               string
	Token             string
	PartnerIdentifier string
	SourceApp         string
	ExpiresAt         time.Time
}

// String はURLを返す。
func (l *LoginURL) String() string {
	return l.URL
}

// WithParams は追加のクエリパラメータをマージしたURLを返す。
// token と app は上書きしない。
func (l *LoginURL) WithParams(params map[string]string) (string, error) {
	if len(params) == 0 {
		return l.URL, nil
	}
	u, err := url.Parse(l.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		if k == "token" || k == "app" {
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildCallbackURL は連携先のコールバックURLに token と app を設定する。
// ベースURLの既存クエリは保持し、既存の token と app は置き換える。
func buildCallbackURL(callback *url.URL, token, app string) string {
	u := *callback
	q := u.Query()
	q.Set("token", token)
	q.Set("app", app)
	u.RawQuery = q.Encode()
	return u.String()
}
