package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer はパートナー表示名などの外部入力からHTMLを除去してプレーンテキストにする。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はタグを一切許可しないポリシーでNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
// 出力時のエスケープはテンプレート側で行うため、エンティティは元の文字に戻す。
func (s *NameSanitizer) Sanitize(name string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(name)))
}
