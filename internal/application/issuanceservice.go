package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/keyissuer/internal/domain/model"
	"github.com/ericfisherdev/keyissuer/internal/domain/port/driven"
)

// IssueOutcome pairs the resolved identity with the store result.
type IssueOutcome struct {
	Email  string
	Result model.IssueResult
}

// IssuanceService resolves a signed-in identity and issues or fetches its API
// key. It depends only on port interfaces.
type IssuanceService struct {
	provider driven.IdentityProvider
	store    driven.APIKeyStore
	metrics  *Metrics
	logger   *slog.Logger
}

// NewIssuanceService creates a new IssuanceService with the required dependencies.
func NewIssuanceService(
	provider driven.IdentityProvider,
	store driven.APIKeyStore,
	metrics *Metrics,
	logger *slog.Logger,
) *IssuanceService {
	return &IssuanceService{
		provider: provider,
		store:    store,
		metrics:  metrics,
		logger:   logger,
	}
}

// LoginURL returns the provider consent URL and the state value it carries.
// The caller must keep state to check it on the callback.
func (s *IssuanceService) LoginURL() (authURL, state string) {
	state = uuid.NewString()
	return s.provider.AuthCodeURL(state), state
}

// Issue exchanges an authorization code for a verified email and issues or
// fetches that identity's key. Errors from the provider wrap
// driven.ErrCodeExchange or driven.ErrIdentityUnverified; store errors are
// returned as IssueOrFetch reports them.
func (s *IssuanceService) Issue(ctx context.Context, code string) (IssueOutcome, error) {
	email, err := s.provider.VerifiedEmail(ctx, code)
	if err != nil {
		s.metrics.VerifyFailures.Inc()
		s.logger.Warn("identity verification failed", "error", err)
		return IssueOutcome{}, fmt.Errorf("verify identity: %w", err)
	}

	res, err := s.IssueForIdentity(ctx, email)
	if err != nil {
		return IssueOutcome{Email: email}, err
	}
	return IssueOutcome{Email: email, Result: res}, nil
}

// IssueForIdentity issues or fetches the key for an already verified email.
func (s *IssuanceService) IssueForIdentity(ctx context.Context, email string) (model.IssueResult, error) {
	start := time.Now()
	res, err := s.store.IssueOrFetch(ctx, email)
	s.metrics.IssueDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.Issuance.WithLabelValues(OutcomeError).Inc()
		s.logger.Error("issue api key failed", "email", email, "error", err)
		return model.IssueResult{}, fmt.Errorf("issue api key: %w", err)
	}

	if res.IsRevoked() {
		s.metrics.Issuance.WithLabelValues(OutcomeRevoked).Inc()
		s.logger.Info("api key request for revoked identity", "email", email)
		return res, nil
	}

	s.metrics.Issuance.WithLabelValues(OutcomeActive).Inc()
	s.logger.Info("api key issued", "email", email)
	return res, nil
}

// Ready reports whether the key store is reachable.
func (s *IssuanceService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
