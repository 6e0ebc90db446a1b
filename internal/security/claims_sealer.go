package security

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSealedPayloadTooShort は封緘済みデータがnonceより短い場合に返される。
var ErrSealedPayloadTooShort = errors.New("sealed payload too short")

// ClaimsSealer はXChaCha20-Poly1305でトークンのクレームを暗号化する。
// 出力形式は nonce(24バイト) || ciphertext。
type ClaimsSealer struct {
	aead cipher.AEAD
}

// NewClaimsSealer は32バイトの鍵からClaimsSealerを生成する。
func NewClaimsSealer(key []byte) (*ClaimsSealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create claims cipher: %w", err)
	}
	return &ClaimsSealer{aead: aead}, nil
}

// Seal は平文を暗号化する。
func (s *ClaimsSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open は暗号文を復号する。改ざんされている場合はエラーを返す。
func (s *ClaimsSealer) Open(sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, ErrSealedPayloadTooShort
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed claims: %w", err)
	}
	return plain, nil
}
