package gateway

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	autherr "go.vitreo.hu/authgate/errors"
)

// CredentialVerifier checks a username/password pair for local token
// issuance and returns the role to embed in the token. The gateway does not
// care where credentials live; swapping this for a directory- or
// database-backed implementation requires no gateway changes.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (role string, err error)
}

// StaticVerifier accepts a single configured credential pair. The password
// is bcrypt-hashed at construction so the plaintext never sits in memory
// past startup and comparison cost is uniform.
type StaticVerifier struct {
	username     string
	passwordHash []byte
	role         string
}

// NewStaticVerifier builds a StaticVerifier for the given credential pair.
func NewStaticVerifier(username, password, role string) (*StaticVerifier, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &StaticVerifier{
		username:     username,
		passwordHash: hash,
		role:         role,
	}, nil
}

// Verify implements CredentialVerifier. The bcrypt comparison runs even for
// unknown usernames so both rejection paths cost the same.
func (v *StaticVerifier) Verify(_ context.Context, username, password string) (string, error) {
	err := bcrypt.CompareHashAndPassword(v.passwordHash, []byte(password))
	if err != nil || username != v.username {
		return "", autherr.NewInvalidCredential()
	}
	return v.role, nil
}

var _ CredentialVerifier = (*StaticVerifier)(nil)
