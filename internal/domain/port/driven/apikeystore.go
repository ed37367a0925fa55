package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/keyissuer/internal/domain/model"
)

// ErrInvalidIdentity is returned when IssueOrFetch is called with an empty identity.
var ErrInvalidIdentity = errors.New("identity must not be empty")

// ErrStorageUnavailable marks failures where the backing store could not be
// reached or the operation could not complete. Callers may retry.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrSchemaCorruption marks a backing table whose shape does not match what the
// store expects (missing table or column, dirty migration). It is not retryable.
var ErrSchemaCorruption = errors.New("schema corruption")

// APIKeyStore defines the driven port for API key persistence.
type APIKeyStore interface {
	// IssueOrFetch returns the key for identity, creating one on first use.
	// An existing key is returned unchanged. A revoked identity yields
	// model.Revoked() and never the stored key. Uniqueness conflicts are
	// resolved internally; any other storage failure is returned wrapped in
	// ErrStorageUnavailable or ErrSchemaCorruption.
	IssueOrFetch(ctx context.Context, identity string) (model.IssueResult, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
