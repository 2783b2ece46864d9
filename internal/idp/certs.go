package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoSigningKeys is returned when the certs endpoint publishes an
	// empty key set.
	ErrNoSigningKeys = errors.New("certs endpoint returned no signing keys")
	// ErrKeyIDNotFound is returned in strict mode when no published key
	// matches the requested kid.
	ErrKeyIDNotFound = errors.New("no signing key matches the requested key ID")
)

// JSONWebKey is a single entry of the realm certs document. Only the fields
// the gateway inspects are decoded; the rest of the JWK is preserved opaque.
type JSONWebKey struct {
	KeyID     string   `json:"kid"`
	KeyType   string   `json:"kty"`
	Algorithm string   `json:"alg"`
	Use       string   `json:"use"`
	Modulus   string   `json:"n"`
	Exponent  string   `json:"e"`
	CertChain []string `json:"x5c,omitempty"`
}

// SigningKeys fetches the realm's published signing keys from the certs
// endpoint.
func (c *Client) SigningKeys(ctx context.Context) ([]JSONWebKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Certs, nil)
	if err != nil {
		return nil, fmt.Errorf("build certs request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch certs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("certs endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []JSONWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode certs response: %w", err)
	}
	return doc.Keys, nil
}

// SigningKey selects a signing key from the realm key set. In the default
// mode the first published key is taken regardless of kid, preserving the
// behavior of the service this gateway replaces. With RequireKeyID set, a
// non-empty kid must match exactly.
//
// Note: delegated bearer tokens are validated through the userinfo endpoint,
// not against these keys. The key set is exposed for operators and future
// offline verification.
func (c *Client) SigningKey(ctx context.Context, kid string) (*JSONWebKey, error) {
	keys, err := c.SigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNoSigningKeys
	}

	if c.requireKeyID && kid != "" {
		for i := range keys {
			if keys[i].KeyID == kid {
				return &keys[i], nil
			}
		}
		return nil, ErrKeyIDNotFound
	}

	if !c.requireKeyID && kid != "" {
		log.Debug().Str("kid", kid).Str("selected", keys[0].KeyID).
			Msg("kid matching disabled, taking first published key")
	}
	return &keys[0], nil
}
