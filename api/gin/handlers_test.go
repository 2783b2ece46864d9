package authgin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authgin "go.vitreo.hu/authgate/api/gin"
	autherr "go.vitreo.hu/authgate/errors"
	"go.vitreo.hu/authgate/internal/gateway"
	"go.vitreo.hu/authgate/internal/idp"
	"go.vitreo.hu/authgate/internal/session"
	"go.vitreo.hu/authgate/internal/token"
)

const testRealm = "gateway-demo"

// newFakeIdP imitates the Keycloak realm the gateway is configured against.
func newFakeIdP(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	prefix := "/realms/" + testRealm + "/protocol/openid-connect"

	mux.HandleFunc(prefix+"/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		ok := false
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			ok = r.PostForm.Get("code") == "good-code"
		case "password":
			ok = r.PostForm.Get("username") == "alice" && r.PostForm.Get("password") == "alice-pass"
		}
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "idp-access-token",
			"refresh_token": "idp-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    300,
		})
	})

	mux.HandleFunc(prefix+"/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer idp-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":                "abc-123",
			"preferred_username": "alice",
			"email":              "alice@example.com",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testHarness struct {
	router *gin.Engine
	codec  *token.Codec
	idpURL string
}

func setupAPI(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log.Logger = zerolog.Nop()

	idpSrv := newFakeIdP(t)

	client := idp.NewClient(idp.Config{
		PublicURL:    idpSrv.URL,
		Realm:        testRealm,
		ClientID:     "gateway-app",
		ClientSecret: "gateway-secret",
		RedirectURL:  "http://localhost:5000/login/delegated/callback",
	})

	store := session.NewMemoryStore(5*time.Minute, time.Hour)
	t.Cleanup(store.Close)

	codec := token.NewCodec("handler-test-secret", time.Hour)
	verifier, err := gateway.NewStaticVerifier("admin", "password", "admin")
	require.NoError(t, err)

	gw := gateway.New(client, store, codec, verifier)
	api := authgin.NewGatewayAPI(gw, idpSrv.URL, testRealm)

	return &testHarness{
		router: api.NewRouter(),
		codec:  codec,
		idpURL: idpSrv.URL,
	}
}

func (h *testHarness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLocalLogin_IssuesAdminToken(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(postJSON("/api/local-login", `{"username":"admin","password":"password"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	raw, _ := body["token"].(string)
	require.NotEmpty(t, raw)
	assert.EqualValues(t, 3600, body["expires_in"])
	assert.Equal(t, "local", body["auth_method"])

	claims, err := h.codec.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "admin", claims.Username)
}

func TestLocalLogin_WrongCredentials(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(postJSON("/api/local-login", `{"username":"admin","password":"wrong"}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, autherr.InvalidCredential, decodeBody(t, rec)["error"])
}

func TestLocalLogin_MissingFields(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(postJSON("/api/local-login", `{"username":"admin"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedLocal_RoundTrip(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(postJSON("/api/local-login", `{"username":"admin","password":"password"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	raw := decodeBody(t, rec)["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/protected-local", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = h.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	user := body["user"].(map[string]any)
	assert.Equal(t, "admin", user["username"])
	assert.Equal(t, "local", body["auth_method"])
}

func TestProtectedLocal_MissingHeader(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/protected-local", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, autherr.MissingCredential, decodeBody(t, rec)["error"])
}

func TestProtectedLocal_TamperedToken(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(postJSON("/api/local-login", `{"username":"admin","password":"password"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	raw := decodeBody(t, rec)["token"].(string)

	// Flip one character of the payload.
	tampered := []byte(raw)
	idx := strings.Index(raw, ".") + 1
	if tampered[idx] == 'A' {
		tampered[idx] = 'B'
	} else {
		tampered[idx] = 'A'
	}

	req := httptest.NewRequest(http.MethodGet, "/api/protected-local", nil)
	req.Header.Set("Authorization", "Bearer "+string(tampered))
	rec = h.do(req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, autherr.MalformedCredential, decodeBody(t, rec)["error"])
}

func TestDelegatedAPILogin_Success(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(postJSON("/api/delegated-login", `{"username":"alice","password":"alice-pass"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "idp-access-token", body["access_token"])
	assert.Equal(t, "idp-refresh-token", body["refresh_token"])
	assert.Equal(t, "delegated", body["auth_method"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
}

func TestDelegatedAPILogin_WrongPassword(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(postJSON("/api/delegated-login", `{"username":"alice","password":"wrong"}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, autherr.InvalidCredential, decodeBody(t, rec)["error"])
}

func TestDelegatedAPILogin_IdPDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log.Logger = zerolog.Nop()

	client := idp.NewClient(idp.Config{
		// Nothing listens here.
		PublicURL: "http://127.0.0.1:1",
		Realm:     testRealm,
		ClientID:  "gateway-app",
		Timeout:   time.Second,
	})

	store := session.NewMemoryStore(5*time.Minute, time.Hour)
	t.Cleanup(store.Close)
	verifier, err := gateway.NewStaticVerifier("admin", "password", "admin")
	require.NoError(t, err)

	gw := gateway.New(client, store, token.NewCodec("s", time.Hour), verifier)
	router := authgin.NewGatewayAPI(gw, "http://127.0.0.1:1", testRealm).NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, postJSON("/api/delegated-login", `{"username":"alice","password":"alice-pass"}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, autherr.UpstreamUnavailable, body["error"])
}

func TestProtected_DelegatedToken(t *testing.T) {
	h := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
	req.Header.Set("Authorization", "Bearer idp-access-token")
	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "delegated", body["auth_method"])
}

func TestProtected_RejectsLocalToken(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(postJSON("/api/local-login", `{"username":"admin","password":"password"}`))
	raw := decodeBody(t, rec)["token"].(string)

	// The IdP does not recognize locally issued tokens; the delegated
	// route must not fall back to local verification.
	req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = h.do(req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedLocal_RejectsDelegatedToken(t *testing.T) {
	h := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/protected-local", nil)
	req.Header.Set("Authorization", "Bearer idp-access-token")
	rec := h.do(req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, autherr.MalformedCredential, decodeBody(t, rec)["error"])
}

func TestPublicEndpoint(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/public", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["authenticated"])
	assert.Equal(t, "/api/public", body["endpoint"])
}

func TestHealthEndpoint(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, h.idpURL, body["idp_url"])
	assert.Equal(t, testRealm, body["realm"])
}

// browserFlow drives the delegated login from initiation through callback,
// returning the session cookie and the state the gateway issued.
func browserFlow(t *testing.T, h *testHarness) (*http.Cookie, string) {
	t.Helper()

	rec := h.do(httptest.NewRequest(http.MethodGet, "/login/delegated", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Contains(t, location.Path, "/protocol/openid-connect/auth")
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	var sessionCookie *http.Cookie
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "authgate_session" {
			sessionCookie = cookie
		}
	}
	require.NotNil(t, sessionCookie, "login initiation must set a session cookie")

	return sessionCookie, state
}

func TestDelegatedBrowserFlow_Success(t *testing.T) {
	h := setupAPI(t)
	cookie, state := browserFlow(t, h)

	req := httptest.NewRequest(http.MethodGet,
		"/login/delegated/callback?code=good-code&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	// The session now carries the delegated user.
	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(cookie)
	rec = h.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["authenticated"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "delegated", user["auth_method"])
}

func TestDelegatedCallback_StateMismatch(t *testing.T) {
	h := setupAPI(t)
	cookie, _ := browserFlow(t, h)

	req := httptest.NewRequest(http.MethodGet,
		"/login/delegated/callback?code=good-code&state=forged", nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"), "state mismatch must bounce to home, not dashboard")

	// And no session user was stored.
	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(cookie)
	rec = h.do(req)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["authenticated"])
}

func TestDelegatedCallback_MissingCode(t *testing.T) {
	h := setupAPI(t)
	cookie, state := browserFlow(t, h)

	req := httptest.NewRequest(http.MethodGet,
		"/login/delegated/callback?state="+url.QueryEscape(state), nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestDelegatedCallback_NoSessionCookie(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(httptest.NewRequest(http.MethodGet,
		"/login/delegated/callback?code=good-code&state=whatever", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestLogout_ClearsSession(t *testing.T) {
	h := setupAPI(t)
	cookie, state := browserFlow(t, h)

	req := httptest.NewRequest(http.MethodGet,
		"/login/delegated/callback?code=good-code&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookie)
	require.Equal(t, http.StatusFound, h.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(cookie)
	body := decodeBody(t, h.do(req))
	assert.Equal(t, false, body["authenticated"])
}

func TestSecurityHeaders(t *testing.T) {
	h := setupAPI(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/public", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
