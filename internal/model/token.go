package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// TokenStatus はSSOトークンの状態を表す。
// used と expired は終端状態であり、unused にはもう戻らない。
type TokenStatus string

const (
	TokenStatusUnused  TokenStatus = "unused"
	TokenStatusUsed    TokenStatus = "used"
	TokenStatusExpired TokenStatus = "expired"
)

// SsoToken は連携先アプリケーションへ受け渡すワンタイムトークンを表す。
// Value は発行後に変更されない。Used は false→true に一度だけ遷移する。
type SsoToken struct {
	ID                int64
	Value             string
	UserID            string
	PartnerIdentifier string
	SourceApp         string
	ExpiresAt         time.Time
	Used              bool
	UsedAt            *time.Time
	UserData          UserData
	Metadata          map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsExpired は now 時点で有効期限を過ぎているかを返す。
func (t *SsoToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsValid は now 時点で引き換え可能かを返す。
func (t *SsoToken) IsValid(now time.Time) bool {
	return !t.Used && !t.IsExpired(now)
}

// Status は now 時点のトークン状態を返す。使用済みは期限切れより優先する。
func (t *SsoToken) Status(now time.Time) TokenStatus {
	if t.Used {
		return TokenStatusUsed
	}
	if t.IsExpired(now) {
		return TokenStatusExpired
	}
	return TokenStatusUnused
}

// DefaultClaimsMaxAge はUserDataの鮮度チェックのデフォルト上限。
const DefaultClaimsMaxAge = 300 * time.Second

// UserData は発行時点のユーザー情報のスナップショット（クレーム）。
// JSONでは予約キー（id, email, name, timestamp）と Extra をフラットに展開する。
type UserData struct {
	ID        string
	Email     string
	Name      string
	Timestamp int64
	Extra     map[string]any
}

// NewUserData はユーザー情報からクレームを生成する。
// 名前が空の場合はメールアドレスを表示名として使用する。
func NewUserData(user *User, issuedAt time.Time, extra map[string]any) UserData {
	name := user.Name
	if name == "" {
		name = user.Email
	}
	data := UserData{
		ID:        user.ID,
		Email:     user.Email,
		Name:      name,
		Timestamp: issuedAt.Unix(),
	}
	if len(extra) > 0 {
		data.Extra = make(map[string]any, len(extra))
		for k, v := range extra {
			if isReservedClaim(k) {
				continue
			}
			data.Extra[k] = v
		}
	}
	return data
}

// IssuedAt は発行時刻を返す。
func (d UserData) IssuedAt() time.Time {
	return time.Unix(d.Timestamp, 0)
}

// IsFresh は発行から maxAge 以内かを返す。maxAge が0以下の場合はデフォルト値を使う。
// トークン自体の有効期限とは独立した追加の鮮度チェックに使用する。
func (d UserData) IsFresh(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultClaimsMaxAge
	}
	return now.Sub(d.IssuedAt()) <= maxAge
}

func isReservedClaim(key string) bool {
	switch key {
	case "id", "email", "name", "timestamp":
		return true
	default:
		return false
	}
}

// MarshalJSON はクレームをフラットなJSONオブジェクトに変換する。
func (d UserData) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Extra)+4)
	for k, v := range d.Extra {
		if !isReservedClaim(k) {
			m[k] = v
		}
	}
	m["id"] = d.ID
	m["email"] = d.Email
	m["name"] = d.Name
	m["timestamp"] = d.Timestamp
	return json.Marshal(m)
}

// UnmarshalJSON はフラットなJSONオブジェクトからクレームを復元する。
// 数値のidも文字列として受け付ける。
func (d *UserData) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = UserData{}
	for k, v := range raw {
		switch k {
		case "id":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				var n json.Number
				if numErr := json.Unmarshal(v, &n); numErr != nil {
					return fmt.Errorf("invalid id claim: %w", err)
				}
				s = n.String()
			}
			d.ID = s
		case "email":
			if err := json.Unmarshal(v, &d.Email); err != nil {
				return fmt.Errorf("invalid email claim: %w", err)
			}
		case "name":
			if err := json.Unmarshal(v, &d.Name); err != nil {
				return fmt.Errorf("invalid name claim: %w", err)
			}
		case "timestamp":
			if err := json.Unmarshal(v, &d.Timestamp); err != nil {
				return fmt.Errorf("invalid timestamp claim: %w", err)
			}
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("invalid %s claim: %w", k, err)
			}
			if d.Extra == nil {
				d.Extra = make(map[string]any)
			}
			d.Extra[k] = val
		}
	}
	return nil
}
