package backend

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"location-hub/internal/general/logger"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	assertionTTL = time.Hour
	// expiryMargin refreshes slightly early so a token never expires
	// between the cache check and the backend call that uses it.
	expiryMargin = 30 * time.Second

	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	databaseScope      = "https://www.googleapis.com/auth/firebase.database https://www.googleapis.com/auth/userinfo.email"
)

// AuthError wraps credential signing and token-exchange failures. It is
// logged and never surfaced to end clients; the triggering persistence
// write fails silently.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Credentials is the signing identity used to mint backend assertions,
// loaded once at startup from a service-account style JSON file.
type Credentials struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// LoadCredentials reads and validates a credentials file.
func LoadCredentials(path string) (*Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	if strings.TrimSpace(creds.ClientEmail) == "" || strings.TrimSpace(creds.PrivateKey) == "" {
		return nil, fmt.Errorf("credentials file missing client_email or private_key")
	}

	return &creds, nil
}

// assertionClaims is the payload of the signed assertion exchanged for a
// bearer token: issuer is the service identity, audience the token
// endpoint, with a short validity window.
type assertionClaims struct {
	Scope string `json:"scope"`
	jwtlib.RegisteredClaims
}

// TokenCache issues and caches the single bearer token that authorizes
// persistence writes. It is process-wide, lazily populated, and refreshed
// whenever the cached token is absent or past its expiry.
type TokenCache struct {
	creds    *Credentials
	key      *rsa.PrivateKey
	tokenURL string
	httpc    *http.Client
	log      *logger.Logger

	// mu is held across the whole refresh so at most one exchange is in
	// flight; concurrent callers wait and reuse its result.
	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenCache parses the signing key up front so a malformed credential
// fails at startup instead of on the first persistence write.
func NewTokenCache(creds *Credentials, tokenURL string, log *logger.Logger) (*TokenCache, error) {
	key, err := jwtlib.ParseRSAPrivateKeyFromPEM([]byte(creds.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	if tokenURL == "" {
		tokenURL = creds.TokenURI
	}
	if tokenURL == "" {
		return nil, fmt.Errorf("no token endpoint configured")
	}

	return &TokenCache{
		creds:    creds,
		key:      key,
		tokenURL: tokenURL,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}, nil
}

// Bearer returns a valid cached token or performs the exchange. Failures
// are not cached; the next call retries from scratch.
func (c *TokenCache) Bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiry.Add(-expiryMargin)) {
		return c.token, nil
	}

	assertion, err := c.signAssertion()
	if err != nil {
		return "", &AuthError{Op: "sign", Err: err}
	}

	token, expiresIn, err := c.exchange(ctx, assertion)
	if err != nil {
		return "", err
	}

	c.token = token
	c.expiry = time.Now().Add(expiresIn)

	c.log.Debug(ctx, "token_refreshed", "Bearer token refreshed", map[string]any{
		"expires_in": expiresIn.String(),
	})

	return c.token, nil
}

func (c *TokenCache) signAssertion() (string, error) {
	now := time.Now().UTC()
	claims := &assertionClaims{
		Scope: databaseScope,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    c.creds.ClientEmail,
			Audience:  jwtlib.ClaimStrings{c.tokenURL},
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(assertionTTL)),
		},
	}

	return jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims).SignedString(c.key)
}

func (c *TokenCache) exchange(ctx context.Context, assertion string) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeJWTBearer)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, &AuthError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", 0, &AuthError{Op: "exchange", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, &AuthError{Op: "exchange", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, &AuthError{Op: "exchange", Err: fmt.Errorf("token endpoint returned %d", resp.StatusCode)}
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, &AuthError{Op: "exchange", Err: fmt.Errorf("decode token response: %w", err)}
	}
	if out.AccessToken == "" {
		return "", 0, &AuthError{Op: "exchange", Err: fmt.Errorf("token endpoint returned empty access_token")}
	}

	return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
}
