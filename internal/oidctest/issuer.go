// Package oidctest runs an in-process OpenID Connect issuer for tests.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ClientID     = "bff-client"
	ClientSecret = "bff-secret"
	Subject      = "user-1"
	keyID        = "test-key"
)

type grant struct {
	challenge   string
	nonce       string
	redirectURI string
}

// Issuer is a minimal authorization server: discovery, JWKS, authorize and
// token endpoints with PKCE, refresh token rotation and an advertised
// end_session_endpoint.
type Issuer struct {
	Server *httptest.Server

	key           *rsa.PrivateKey
	mu            sync.Mutex
	grants        map[string]grant
	refreshTokens map[string]struct{}

	// AccessTokenTTL is the expires_in returned by the token endpoint.
	AccessTokenTTL time.Duration
	// ExtraClaims are added to every ID token.
	ExtraClaims map[string]interface{}

	refreshCalls atomic.Int32
	failRefresh  atomic.Bool
}

// NewIssuer starts an issuer that is closed when the test ends.
func NewIssuer(t *testing.T) *Issuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	i := &Issuer{
		key:            key,
		grants:         map[string]grant{},
		refreshTokens:  map[string]struct{}{},
		AccessTokenTTL: time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", i.discovery)
	mux.HandleFunc("GET /jwks", i.jwks)
	mux.HandleFunc("GET /authorize", i.authorize)
	mux.HandleFunc("POST /token", i.token)
	i.Server = httptest.NewServer(mux)
	t.Cleanup(i.Server.Close)
	return i
}

// URL is the issuer identifier.
func (i *Issuer) URL() string {
	return i.Server.URL
}

// EndSessionURL is the advertised end_session_endpoint.
func (i *Issuer) EndSessionURL() string {
	return i.Server.URL + "/end-session"
}

// RefreshCalls counts refresh_token grants served.
func (i *Issuer) RefreshCalls() int {
	return int(i.refreshCalls.Load())
}

// FailRefresh makes every refresh_token grant fail with invalid_grant.
func (i *Issuer) FailRefresh(fail bool) {
	i.failRefresh.Store(fail)
}

// Authorize plays the browser's visit to the authorization URL and returns
// the redirect back to the client.
func (i *Issuer) Authorize(t *testing.T, authURL string) *url.URL {
	t.Helper()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(authURL)
	if err != nil {
		t.Fatalf("authorize request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("authorize returned %d", resp.StatusCode)
	}
	loc, err := resp.Location()
	if err != nil {
		t.Fatalf("authorize returned no location: %v", err)
	}
	return loc
}

// IDToken signs an ID token for the client with the given extra claims.
func (i *Issuer) IDToken(t *testing.T, extra map[string]interface{}) string {
	t.Helper()
	token, err := i.signIDToken("", extra)
	if err != nil {
		t.Fatalf("failed to sign id token: %v", err)
	}
	return token
}

func (i *Issuer) signIDToken(nonce string, extra map[string]interface{}) (string, error) {
	now := time.Now()
	mc := jwt.MapClaims{
		"iss":   i.Server.URL,
		"sub":   Subject,
		"aud":   ClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"email": "john.doe@example.com",
		"name":  "John Doe",
	}
	if nonce != "" {
		mc["nonce"] = nonce
	}
	for k, v := range i.ExtraClaims {
		mc[k] = v
	}
	for k, v := range extra {
		mc[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	token.Header["kid"] = keyID
	return token.SignedString(i.key)
}

func (i *Issuer) discovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                i.Server.URL,
		"authorization_endpoint":                i.Server.URL + "/authorize",
		"token_endpoint":                        i.Server.URL + "/token",
		"jwks_uri":                              i.Server.URL + "/jwks",
		"end_session_endpoint":                  i.EndSessionURL(),
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func (i *Issuer) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := i.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": keyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (i *Issuer) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != ClientID || q.Get("response_type") != "code" || q.Get("code_challenge_method") != "S256" {
		http.Error(w, "invalid authorization request", http.StatusBadRequest)
		return
	}
	redirectURI, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || !redirectURI.IsAbs() {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := uuid.NewString()
	i.mu.Lock()
	i.grants[code] = grant{
		challenge:   q.Get("code_challenge"),
		nonce:       q.Get("nonce"),
		redirectURI: redirectURI.String(),
	}
	i.mu.Unlock()

	back := redirectURI.Query()
	back.Set("code", code)
	back.Set("state", q.Get("state"))
	redirectURI.RawQuery = back.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (i *Issuer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request")
		return
	}
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID, clientSecret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if clientID != ClientID || clientSecret != ClientSecret {
		w.Header().Set("WWW-Authenticate", "Basic")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		i.mu.Lock()
		g, ok := i.grants[r.PostForm.Get("code")]
		delete(i.grants, r.PostForm.Get("code"))
		i.mu.Unlock()

		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if !ok || g.challenge != base64.RawURLEncoding.EncodeToString(sum[:]) || g.redirectURI != r.PostForm.Get("redirect_uri") {
			tokenError(w, "invalid_grant")
			return
		}
		i.issueTokens(w, g.nonce)

	case "refresh_token":
		i.refreshCalls.Add(1)
		rt := r.PostForm.Get("refresh_token")
		i.mu.Lock()
		_, ok := i.refreshTokens[rt]
		delete(i.refreshTokens, rt)
		i.mu.Unlock()

		if !ok || i.failRefresh.Load() {
			tokenError(w, "invalid_grant")
			return
		}
		i.issueTokens(w, "")

	default:
		tokenError(w, "unsupported_grant_type")
	}
}

func (i *Issuer) issueTokens(w http.ResponseWriter, nonce string) {
	idToken, err := i.signIDToken(nonce, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	refreshToken := uuid.NewString()
	i.mu.Lock()
	i.refreshTokens[refreshToken] = struct{}{}
	i.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  "at-" + uuid.NewString(),
		"token_type":    "Bearer",
		"expires_in":    int(i.AccessTokenTTL.Seconds()),
		"refresh_token": refreshToken,
		"id_token":      idToken,
	})
}

func tokenError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
