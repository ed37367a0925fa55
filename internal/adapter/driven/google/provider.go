// Package google implements the IdentityProvider port with Google OAuth 2.0
// sign-in and the OAuth2 v2 userinfo API.
package google

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/ericfisherdev/keyissuer/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IdentityProvider = (*Provider)(nil)

// Scopes requested on the consent screen.
var Scopes = []string{"openid", "email", "profile"}

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Option customises a Provider.
type Option func(*Provider)

// WithEndpoint overrides the OAuth authorization and token endpoints.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(p *Provider) { p.oauth.Endpoint = endpoint }
}

// WithUserinfoBaseURL points the userinfo client at baseURL instead of
// https://www.googleapis.com/.
func WithUserinfoBaseURL(baseURL string) Option {
	return func(p *Provider) { p.userinfoBaseURL = baseURL }
}

// WithHTTPClient sets the HTTP client used for the token exchange and userinfo calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider resolves verified email addresses through Google sign-in.
type Provider struct {
	oauth           *oauth2.Config
	userinfoBaseURL string
	httpClient      *http.Client
}

// NewProvider creates a Provider for the given client registration.
func NewProvider(cfg Config, opts ...Option) *Provider {
	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     googleoauth.Endpoint,
			Scopes:       Scopes,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthCodeURL returns the consent URL. prompt=consent forces the account
// chooser so users can pick which address receives a key.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

// VerifiedEmail exchanges code for a token and returns the account's email.
// The address must be present and not flagged unverified by Google.
func (p *Provider) VerifiedEmail(ctx context.Context, code string) (string, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: %w", driven.ErrCodeExchange, err)
	}

	opts := []option.ClientOption{option.WithTokenSource(p.oauth.TokenSource(ctx, tok))}
	if p.userinfoBaseURL != "" {
		opts = append(opts, option.WithEndpoint(p.userinfoBaseURL))
	}

	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("create userinfo client: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: fetch userinfo: %w", driven.ErrIdentityUnverified, err)
	}

	if info.Email == "" {
		return "", fmt.Errorf("%w: userinfo has no email", driven.ErrIdentityUnverified)
	}
	if info.VerifiedEmail != nil && !*info.VerifiedEmail {
		return "", fmt.Errorf("%w: email %q is not verified", driven.ErrIdentityUnverified, info.Email)
	}

	return info.Email, nil
}
