package sso

import (
	"context"
	"fmt"
)

// Service はパートナーへのリダイレクトURLを組み立てる。
type Service struct {
	partners PartnerValidator
	issuer   *Issuer
}

// NewService はServiceを生成する。
func NewService(partners PartnerValidator, issuer *Issuer) *Service {
	return &Service{partners: partners, issuer: issuer}
}

// BuildLoginURL はパートナーを検証してトークンを発行し、パートナーのコールバックURLを返す。
func (s *Service) BuildLoginURL(ctx context.Context, partnerIdentifier, userID string, extra map[string]any) (*LoginURL, error) {
	partner, err := s.partners.Validate(ctx, partnerIdentifier)
	if err != nil {
		return nil, err
	}

	callback, err := partner.CallbackURL()
	if err != nil {
		return nil, fmt.Errorf("invalid partner url for %s: %w", partner.Identifier, err)
	}

	token, err := s.issuer.issueFor(ctx, partner, userID, extra)
	if err != nil {
		return nil, err
	}

	return &LoginURL{
		URL:               buildCallbackURL(callback, token.Value, token.SourceApp),
		Token:             token.Value,
		PartnerIdentifier: partner.Identifier,
		SourceApp:         token.SourceApp,
		ExpiresAt:         token.ExpiresAt,
	}, nil
}
