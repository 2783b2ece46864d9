package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"go.vitreo.hu/authgate/domain"
)

var (
	// ErrSessionNotFound is returned when no user record exists for the
	// session ID.
	ErrSessionNotFound = errors.New("user session not found")
)

// Store is the per-browser-session state owned by the gateway: the single-use
// CSRF state nonce for an in-flight authorization request and the logged-in
// user record. Implementations must make ConsumeState atomic so that at most
// one caller can successfully consume a given nonce.
type Store interface {
	// CreateState generates a cryptographically random single-use nonce
	// and stores it against the session, replacing any previous one.
	CreateState(ctx context.Context, sessionID string) (string, error)

	// ConsumeState reports whether the nonce matches the one stored for
	// the session, deleting it on match. An exclusive read-compare-delete.
	ConsumeState(ctx context.Context, sessionID, state string) (bool, error)

	// SetUser stores the authenticated user and delegated tokens for the
	// session.
	SetUser(ctx context.Context, sessionID string, user *domain.UserIdentity, delegated *domain.DelegatedSession) error

	// GetUser returns the session record, or ErrSessionNotFound.
	GetUser(ctx context.Context, sessionID string) (*domain.UserSession, error)

	// Clear removes all state held for the session.
	Clear(ctx context.Context, sessionID string) error
}

const stateNonceBytes = 32

// newStateNonce returns an unguessable URL-safe nonce.
func newStateNonce() (string, error) {
	buf := make([]byte, stateNonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
