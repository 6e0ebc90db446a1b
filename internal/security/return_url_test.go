package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturnURLGuard_Allowed(t *testing.T) {
	g, err := NewReturnURLGuard("https://app.example.com")
	require.NoError(t, err)

	tests := []struct {
		raw  string
		want bool
	}{
		{"/dashboard", true},
		{"/projects/1?tab=members", true},
		{"https://app.example.com/settings", true},
		{"HTTPS://APP.EXAMPLE.COM/x", true},
		{"", false},
		{"//evil.com", false},
		{"/\\evil.com", false},
		{"https://evil.com/", false},
		{"http://app.example.com/", false},
		{"https://app.example.com.evil.com/", false},
		{"https://user@app.example.com/", false},
		{"javascript:alert(1)", false},
		{"dashboard", false},
		{"/ok\r\nSet-Cookie: x=1", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Allowed(tt.raw))
		})
	}
}

func TestReturnURLGuard_Resolve(t *testing.T) {
	g, err := NewReturnURLGuard("http://localhost:8080")
	require.NoError(t, err)

	assert.Equal(t, "/reports", g.Resolve("/reports", "/dashboard"))
	assert.Equal(t, "/dashboard", g.Resolve("//evil.com", "/dashboard"))
	assert.Equal(t, "/dashboard", g.Resolve("", "/dashboard"))
}
