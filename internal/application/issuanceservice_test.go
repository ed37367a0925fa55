package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keyissuer/internal/domain/model"
	"github.com/ericfisherdev/keyissuer/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockProvider struct {
	email   string
	err     error
	gotCode string
}

func (m *mockProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (m *mockProvider) VerifiedEmail(_ context.Context, code string) (string, error) {
	m.gotCode = code
	return m.email, m.err
}

type mockStore struct {
	res      model.IssueResult
	err      error
	pingErr  error
	gotEmail string
	calls    int
}

func (m *mockStore) IssueOrFetch(_ context.Context, email string) (model.IssueResult, error) {
	m.calls++
	m.gotEmail = email
	return m.res, m.err
}

func (m *mockStore) Ping(_ context.Context) error { return m.pingErr }

func newTestService(p *mockProvider, s *mockStore) (*IssuanceService, *Metrics) {
	metrics := NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewIssuanceService(p, s, metrics, logger), metrics
}

func TestIssuanceService_LoginURL(t *testing.T) {
	svc, _ := newTestService(&mockProvider{}, &mockStore{})

	authURL, state := svc.LoginURL()
	_, err := uuid.Parse(state)
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, state, u.Query().Get("state"))

	_, other := svc.LoginURL()
	assert.NotEqual(t, state, other)
}

func TestIssuanceService_Issue(t *testing.T) {
	tests := []struct {
		name        string
		provider    *mockProvider
		store       *mockStore
		wantErr     error
		wantResult  model.IssueResult
		wantOutcome string
		wantCalls   int
	}{
		{
			name:        "active key",
			provider:    &mockProvider{email: "a@x.com"},
			store:       &mockStore{res: model.Active("0123456789abcdef0123456789abcdef")},
			wantResult:  model.Active("0123456789abcdef0123456789abcdef"),
			wantOutcome: OutcomeActive,
			wantCalls:   1,
		},
		{
			name:        "revoked identity",
			provider:    &mockProvider{email: "a@x.com"},
			store:       &mockStore{res: model.Revoked()},
			wantResult:  model.Revoked(),
			wantOutcome: OutcomeRevoked,
			wantCalls:   1,
		},
		{
			name:        "storage unavailable",
			provider:    &mockProvider{email: "a@x.com"},
			store:       &mockStore{err: driven.ErrStorageUnavailable},
			wantErr:     driven.ErrStorageUnavailable,
			wantOutcome: OutcomeError,
			wantCalls:   1,
		},
		{
			name:      "verification failure never reaches the store",
			provider:  &mockProvider{err: driven.ErrCodeExchange},
			store:     &mockStore{},
			wantErr:   driven.ErrCodeExchange,
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, metrics := newTestService(tt.provider, tt.store)

			out, err := svc.Issue(context.Background(), "auth-code")

			assert.Equal(t, "auth-code", tt.provider.gotCode)
			assert.Equal(t, tt.wantCalls, tt.store.calls)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantResult, out.Result)
				assert.Equal(t, "a@x.com", out.Email)
				assert.Equal(t, "a@x.com", tt.store.gotEmail)
			}

			if tt.wantOutcome != "" {
				assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Issuance.WithLabelValues(tt.wantOutcome)))
			} else {
				assert.Equal(t, 1.0, testutil.ToFloat64(metrics.VerifyFailures))
			}
		})
	}
}

func TestIssuanceService_Ready(t *testing.T) {
	pingErr := errors.New("down")
	svc, _ := newTestService(&mockProvider{}, &mockStore{pingErr: pingErr})

	assert.ErrorIs(t, svc.Ready(context.Background()), pingErr)
}
