package api

import (
	"context"

	"github.com/you/carebook/domain"
)

// SessionValidator checks a device's session against GET /auth/me using
// the bearer token held in its token store. It never retries.
type SessionValidator struct {
	client *Client
	tokens domain.TokenStore
}

// NewSessionValidator binds the validator to one device's token store
func NewSessionValidator(client *Client, tokens domain.TokenStore) *SessionValidator {
	return &SessionValidator{client: client, tokens: tokens}
}

// Validate implements domain.SessionValidator
func (v *SessionValidator) Validate(ctx context.Context) (domain.RawIdentity, error) {
	token, _ := v.tokens.ReadToken(ctx)
	return v.client.Me(ctx, token)
}

var _ domain.SessionValidator = (*SessionValidator)(nil)
