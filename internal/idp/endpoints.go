package idp

import "fmt"

// Endpoints holds the resolved URLs of a Keycloak-style realm. The
// authorization endpoint uses the public base URL because the browser is
// redirected there; token, userinfo and certs use the internal URL for
// server-to-server calls (the two differ when the gateway and the IdP share
// a container network).
type Endpoints struct {
	Authorization string
	Token         string
	UserInfo      string
	Certs         string
}

// RealmEndpoints derives the OpenID Connect endpoints for a realm from the
// public and internal base URLs. Deterministic string construction, no
// discovery round-trip.
func RealmEndpoints(publicURL, internalURL, realm string) Endpoints {
	proto := func(base, suffix string) string {
		return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/%s", base, realm, suffix)
	}
	return Endpoints{
		Authorization: proto(publicURL, "auth"),
		Token:         proto(internalURL, "token"),
		UserInfo:      proto(internalURL, "userinfo"),
		Certs:         proto(internalURL, "certs"),
	}
}
