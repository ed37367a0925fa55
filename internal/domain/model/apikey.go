package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// APIKeyBytes is the number of random bytes behind every issued key.
// Hex encoding doubles it, so keys are always 32 characters long.
const APIKeyBytes = 16

// RevokedSentinel is the string form of a revoked key. It is never a valid key
// because it is not 32 hex characters.
const RevokedSentinel = "deleted"

// APIKeyRecord is the persisted row for a single identity. Email is the
// verified identity string as received from the identity provider and is
// compared case-sensitively.
type APIKeyRecord struct {
	Email   string
	APIKey  string
	Deleted bool
}

// IssueStatus tags the outcome of an issuance request.
type IssueStatus string

// IssueStatus values.
const (
	IssueStatusActive  IssueStatus = "active"
	IssueStatusRevoked IssueStatus = "revoked"
)

// IssueResult is the outcome of an issue-or-fetch request. APIKey is set only
// when Status is IssueStatusActive.
type IssueResult struct {
	Status IssueStatus
	APIKey string
}

// Active returns a result carrying a usable key.
func Active(apiKey string) IssueResult {
	return IssueResult{Status: IssueStatusActive, APIKey: apiKey}
}

// Revoked returns the result for an identity whose key slot was revoked.
func Revoked() IssueResult {
	return IssueResult{Status: IssueStatusRevoked}
}

// IsActive reports whether the result carries a usable key.
func (r IssueResult) IsActive() bool {
	return r.Status == IssueStatusActive
}

// IsRevoked reports whether the identity's key slot is revoked.
func (r IssueResult) IsRevoked() bool {
	return r.Status == IssueStatusRevoked
}

// Value returns the key for active results, RevokedSentinel for revoked ones
// and "" for the zero result returned alongside an error.
func (r IssueResult) Value() string {
	switch r.Status {
	case IssueStatusActive:
		return r.APIKey
	case IssueStatusRevoked:
		return RevokedSentinel
	}
	return ""
}

// GenerateAPIKey returns a new 32-character hex key backed by 128 bits from crypto/rand.
func GenerateAPIKey() (string, error) {
	b := make([]byte, APIKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
