package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameSanitizer_Sanitize(t *testing.T) {
	s := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Acme Corp", "Acme Corp"},
		{"タグを除去する", "<b>Acme</b> Corp", "Acme Corp"},
		{"scriptを除去する", "Acme<script>alert(1)</script>", "Acme"},
		{"アンパサンドを保持する", "Tom & Jerry", "Tom & Jerry"},
		{"前後の空白を除去する", "  Acme  ", "Acme"},
		{"日本語", "<i>連携アプリ</i>", "連携アプリ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Sanitize(tt.input))
		})
	}
}
