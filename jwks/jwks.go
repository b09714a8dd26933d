// Package jwks verifies gateway session tokens.
//
// RS256 tokens are checked against RSA keys fetched from the gateway's JWKS
// endpoint (RFC 7517) and cached locally. Gateways that still sign with a
// shared secret are supported through WithHMACSecret.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	ats "github.com/muasya/ats-go"
)

// DefaultAudience is the audience of tokens issued to signed-in users.
const DefaultAudience = "authenticated"

// Verifier implements ats.TokenVerifier.
type Verifier struct {
	jwksURL         string
	httpClient      *http.Client
	refreshInterval time.Duration
	audience        string
	issuer          string
	secret          []byte
	logger          *slog.Logger

	fetch singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey // kid → public key
	lastFetch time.Time
}

var _ ats.TokenVerifier = (*Verifier)(nil)

// Option configures the Verifier.
type Option func(*Verifier)

// WithHTTPClient sets a custom HTTP client for fetching JWKS.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.httpClient = c }
}

// WithRefreshInterval sets how often cached keys are refreshed.
// Default: 1 hour.
func WithRefreshInterval(d time.Duration) Option {
	return func(v *Verifier) { v.refreshInterval = d }
}

// WithAudience sets the required "aud" claim. An empty audience disables
// the check. Default: "authenticated".
func WithAudience(aud string) Option {
	return func(v *Verifier) { v.audience = aud }
}

// WithIssuer requires the "iss" claim to equal iss.
func WithIssuer(iss string) Option {
	return func(v *Verifier) { v.issuer = iss }
}

// WithHMACSecret also accepts HS256 tokens signed with secret.
func WithHMACSecret(secret []byte) Option {
	return func(v *Verifier) { v.secret = secret }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// NewVerifier creates a verifier for the keys published at jwksURL. jwksURL
// may be empty when only WithHMACSecret is used.
func NewVerifier(jwksURL string, opts ...Option) *Verifier {
	v := &Verifier{
		jwksURL:         jwksURL,
		httpClient:      http.DefaultClient,
		refreshInterval: 1 * time.Hour,
		audience:        DefaultAudience,
		logger:          slog.Default(),
		keys:            make(map[string]*rsa.PublicKey),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify validates a session token and returns its claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*ats.Claims, error) {
	popts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithIssuedAt()}
	if v.audience != "" {
		popts = append(popts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		popts = append(popts, jwt.WithIssuer(v.issuer))
	}
	parser := jwt.NewParser(popts...)

	token, err := parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA:
			kid, _ := token.Header["kid"].(string)
			return v.getKey(ctx, kid)
		case *jwt.SigningMethodHMAC:
			if len(v.secret) == 0 {
				return nil, fmt.Errorf("HMAC tokens are not accepted")
			}
			return v.secret, nil
		}
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	})
	if err != nil {
		return nil, fmt.Errorf("ats/jwks: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ats/jwks: invalid token claims")
	}
	return toClaims(mapClaims), nil
}

// getKey returns the RSA public key for kid, fetching or refreshing as needed.
func (v *Verifier) getKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if v.jwksURL == "" {
		return nil, errors.New("no JWKS endpoint configured")
	}
	v.mu.RLock()
	key, found := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.refreshInterval
	v.mu.RUnlock()

	if found && !stale {
		return key, nil
	}

	_, err, _ := v.fetch.Do("jwks", func() (any, error) {
		return nil, v.refresh(ctx)
	})
	if err != nil {
		if found {
			v.logger.Warn("jwks refresh failed, using cached key", "kid", kid, "err", err)
			return key, nil
		}
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	if kid == "" {
		for _, k := range v.keys {
			return k, nil
		}
	}
	return nil, fmt.Errorf("ats/jwks: key not found for kid %q", kid)
}

// refresh fetches the JWKS and replaces the cache.
func (v *Verifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("ats/jwks: create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ats/jwks: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ats/jwks: fetch returned status %d", resp.StatusCode)
	}

	var set jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("ats/jwks: decode: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub, err := jwk.rsaPublicKey()
		if err != nil {
			v.logger.Debug("skipping malformed jwk", "kid", jwk.Kid, "err", err)
			continue
		}
		keys[jwk.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("ats/jwks: no valid RSA signing keys found")
	}

	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()

	v.logger.Debug("jwks refreshed", "keys", len(keys))
	return nil
}

type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k *jwkKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

var standardClaims = map[string]bool{
	"sub": true, "email": true, "role": true,
	"iss": true, "exp": true, "iat": true,
	"aud": true, "nbf": true, "jti": true,
}

// toClaims maps gateway token claims; user_metadata, app_metadata and
// other custom claims land in Extra.
func toClaims(m jwt.MapClaims) *ats.Claims {
	c := &ats.Claims{Extra: make(map[string]any)}

	c.Subject, _ = m["sub"].(string)
	c.Email, _ = m["email"].(string)
	c.Role, _ = m["role"].(string)
	c.Issuer, _ = m["iss"].(string)
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	for k, v := range m {
		if !standardClaims[k] {
			c.Extra[k] = v
		}
	}
	return c
}
