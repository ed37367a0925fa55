package driven

import (
	"context"
	"errors"
)

// ErrCodeExchange is returned when the authorization code could not be exchanged for a token.
var ErrCodeExchange = errors.New("authorization code exchange failed")

// ErrIdentityUnverified is returned when the provider did not yield a verified email.
var ErrIdentityUnverified = errors.New("identity not verified")

// IdentityProvider resolves a verified email address through an external
// OAuth 2.0 / OpenID Connect sign-in.
type IdentityProvider interface {
	// AuthCodeURL returns the provider consent URL carrying state.
	AuthCodeURL(state string) string

	// VerifiedEmail exchanges an authorization code and returns the signed-in
	// user's verified email address.
	VerifiedEmail(ctx context.Context, code string) (string, error)
}
