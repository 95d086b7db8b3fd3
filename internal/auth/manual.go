package auth

import (
	"context"
	"errors"
)

// ManualProvider serves explicitly configured credentials.
type ManualProvider struct {
	token      string
	identityID string
}

// NewManualProvider creates a provider from explicit credentials. Both
// values are required; there is nothing to derive them from.
func NewManualProvider(token, identityID string) (*ManualProvider, error) {
	if token == "" || identityID == "" {
		return nil, errors.New("manual authentication requires both an auth token and an identity ID")
	}
	return &ManualProvider{token: token, identityID: identityID}, nil
}

// Credentials returns the configured credentials.
func (p *ManualProvider) Credentials(_ context.Context) (string, string, error) {
	return p.token, p.identityID, nil
}
