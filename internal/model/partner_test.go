package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartner_CallbackURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://acme.example.com", "https://acme.example.com/sso/callback"},
		{"https://acme.example.com/", "https://acme.example.com/sso/callback"},
		{"https://acme.example.com/app/", "https://acme.example.com/app/sso/callback"},
		{"https://acme.example.com?ref=1", "https://acme.example.com/sso/callback?ref=1"},
		{" https://acme.example.com#frag ", "https://acme.example.com/sso/callback"},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			u, err := (&Partner{BaseURL: tt.base}).CallbackURL()
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestPartner_LoginURL(t *testing.T) {
	u, err := (&Partner{BaseURL: "https://b.example.com/"}).LoginURL()
	require.NoError(t, err)
	assert.Equal(t, "https://b.example.com/sso/login", u.String())
}

func TestPartner_InvalidBaseURL(t *testing.T) {
	_, err := (&Partner{BaseURL: "://bad"}).CallbackURL()
	assert.Error(t, err)
}
