package domain

// AuthMethod identifies which verification path established an identity.
type AuthMethod string

const (
	// AuthMethodDelegated marks identities resolved through the external
	// identity provider (authorization-code or password grant).
	AuthMethodDelegated AuthMethod = "delegated"
	// AuthMethodLocal marks identities resolved from a locally issued
	// HMAC-signed token.
	AuthMethodLocal AuthMethod = "local"
)

// UserIdentity is the resolved identity of an authenticated caller. It is
// derived either from the IdP userinfo response or from local token claims
// and never outlives the owning session or token.
type UserIdentity struct {
	Username   string     `json:"username"`
	Email      string     `json:"email,omitempty"`
	Name       string     `json:"name,omitempty"`
	Role       string     `json:"role,omitempty"`
	AuthMethod AuthMethod `json:"auth_method"`
}
