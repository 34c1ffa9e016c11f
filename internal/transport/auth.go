package transport

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/config"
	"github.com/pitabwire/surety/model"
)

// JWKSClient fetches and caches the identity provider's signing keys.
type JWKSClient struct {
	mu         sync.RWMutex
	url        string
	keys       map[string]crypto.PublicKey
	lastFetch  time.Time
	ttl        time.Duration
	minRefresh time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewJWKSClient returns a client for the key set at url. Keys are cached
// for ttl and refetched at most every five minutes.
func NewJWKSClient(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSClient{
		logger:     logger,
		url:        url,
		keys:       make(map[string]crypto.PublicKey),
		ttl:        ttl,
		minRefresh: 5 * time.Minute,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetKey returns the public key for kid, fetching the key set when kid is
// not cached or the cache is stale. A failed fetch falls back to a cached
// key so portal sessions survive short identity provider outages.
func (c *JWKSClient) GetKey(kid string) (crypto.PublicKey, error) {
	return c.key(context.Background(), kid)
}

func (c *JWKSClient) key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.lastFetch) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := c.refresh(ctx, false); err != nil {
		c.mu.RLock()
		key, ok = c.keys[kid]
		c.mu.RUnlock()
		if ok {
			c.logger.Warn("jwks: refresh failed, using cached key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("jwks: fetch failed: %w", err)
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("jwks: unknown signing key %q", kid)
	}
	return key, nil
}

// HealthCheck reports whether the portal can verify tokens: it succeeds while
// keys are cached and otherwise tries to fetch them.
func (c *JWKSClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	cached := len(c.keys)
	c.mu.RUnlock()
	if cached > 0 {
		return nil
	}
	if err := c.refresh(ctx, true); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.keys) == 0 {
		return errors.New("jwks: key set is empty")
	}
	return nil
}

func (c *JWKSClient) refresh(ctx context.Context, force bool) error {
	c.mu.RLock()
	tooSoon := time.Since(c.lastFetch) < c.minRefresh && len(c.keys) > 0
	c.mu.RUnlock()
	if tooSoon && !force {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var set struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("jwks: parse error: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, raw := range set.Keys {
		var jwk map[string]any
		if err := json.Unmarshal(raw, &jwk); err != nil {
			continue
		}
		kid, _ := jwk["kid"].(string)
		if kid == "" {
			continue
		}
		var key crypto.PublicKey
		switch kty, _ := jwk["kty"].(string); kty {
		case "RSA":
			key, err = parseRSAKey(jwk)
		case "EC":
			key, err = parseECKey(jwk)
		default:
			continue
		}
		if err != nil {
			c.logger.Warn("jwks: failed to parse key", zap.String("kid", kid), zap.Error(err))
			continue
		}
		keys[kid] = key
	}

	c.mu.Lock()
	c.keys = keys
	c.lastFetch = time.Now()
	c.mu.Unlock()

	c.logger.Debug("jwks: key set refreshed", zap.Int("keys", len(keys)))
	return nil
}

func parseRSAKey(jwk map[string]any) (*rsa.PublicKey, error) {
	nStr, _ := jwk["n"].(string)
	eStr, _ := jwk["e"].(string)
	if nStr == "" || eStr == "" {
		return nil, fmt.Errorf("missing n or e")
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func parseECKey(jwk map[string]any) (*ecdsa.PublicKey, error) {
	crv, _ := jwk["crv"].(string)
	xStr, _ := jwk["x"].(string)
	yStr, _ := jwk["y"].(string)
	if crv == "" || xStr == "" || yStr == "" {
		return nil, fmt.Errorf("missing crv, x, or y")
	}
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(xStr)
	if err != nil {
		return nil, fmt.Errorf("decode x: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yStr)
	if err != nil {
		return nil, fmt.Errorf("decode y: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// PortalClaims is what a verified token grants inside the portal.
type PortalClaims struct {
	SubjectID string
	SessionID string
	Email     string
	Roles     []string
}

// IsAdmin reports whether the token may use the admin notification routes.
func (c PortalClaims) IsAdmin() bool {
	return slices.Contains(c.Roles, AdminRole)
}

// ClaimExtractor maps raw token claims onto PortalClaims. The insurance
// backend issues a single "role" claim while most identity providers issue a
// "roles" list; both are read and merged.
type ClaimExtractor struct {
	subject string
	session string
	email   string
	roles   string
	role    string
}

// NewClaimExtractor builds an extractor from the configured claim paths.
// Recognised keys are subject_id, session_id, email, roles and role; dotted
// values address nested claims.
func NewClaimExtractor(paths map[string]string) ClaimExtractor {
	path := func(name, fallback string) string {
		if p := paths[name]; p != "" {
			return p
		}
		return fallback
	}
	return ClaimExtractor{
		subject: path("subject_id", "sub"),
		session: path("session_id", "sid"),
		email:   path("email", "email"),
		roles:   path("roles", "roles"),
		role:    path("role", "role"),
	}
}

// Extract reads the portal identity out of claims.
func (x ClaimExtractor) Extract(claims map[string]any) PortalClaims {
	roles := claimStringSlice(claims, x.roles)
	if single := claimString(claims, x.role); single != "" && !slices.Contains(roles, single) {
		roles = append(slices.Clone(roles), single)
	}
	return PortalClaims{
		SubjectID: claimString(claims, x.subject),
		SessionID: claimString(claims, x.session),
		Email:     claimString(claims, x.email),
		Roles:     roles,
	}
}

// AuthRecorder counts rejected bearer tokens by reason.
type AuthRecorder interface {
	RecordAuthRejection(reason string)
}

type nopAuthRecorder struct{}

func (nopAuthRecorder) RecordAuthRejection(string) {}

// rejection pairs a metric label with the message returned to the portal.
type rejection struct {
	reason  string
	message string
}

var (
	rejectMissingHeader = rejection{"missing_header", "Missing authorization header"}
	rejectBadScheme     = rejection{"bad_scheme", "Invalid authorization header format"}
	rejectInvalid       = rejection{"invalid", "Invalid token"}
)

// JWTAuthenticator returns middleware that verifies the bearer token on
// every portal request and stores its claims in the request context.
// Rejections answer 401 and are counted on rec.
func JWTAuthenticator(cfg config.IdentityConfig, jwks *JWKSClient, rec AuthRecorder) func(http.Handler) http.Handler {
	if rec == nil {
		rec = nopAuthRecorder{}
	}
	reject := func(w http.ResponseWriter, r rejection) {
		rec.RecordAuthRejection(r.reason)
		WriteError(w, model.NewUnauthorizedError(r.message))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				reject(w, rejectMissingHeader)
				return
			}
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				reject(w, rejectBadScheme)
				return
			}

			token, err := jwt.Parse(tokenStr,
				func(token *jwt.Token) (any, error) {
					kid, _ := token.Header["kid"].(string)
					if kid == "" {
						return nil, fmt.Errorf("missing kid in token header")
					}
					return jwks.key(r.Context(), kid)
				},
				jwt.WithValidMethods(cfg.Algorithms),
				jwt.WithIssuer(cfg.Issuer),
				jwt.WithAudience(cfg.Audience),
				jwt.WithLeeway(30*time.Second),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				reject(w, classifyJWTError(err))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				reject(w, rejectInvalid)
				return
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func classifyJWTError(err error) rejection {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return rejection{"malformed", "Malformed token"}
	case errors.Is(err, jwt.ErrTokenExpired):
		return rejection{"expired", "Token expired"}
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return rejection{"not_yet_valid", "Token not yet valid"}
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return rejection{"issuer", "Invalid token issuer"}
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return rejection{"audience", "Invalid token audience"}
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return rejection{"missing_claim", "Token is missing a required claim"}
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return rejection{"unknown_key", "Unknown signing key"}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		// The parser reports a disallowed algorithm as an invalid signature.
		if strings.Contains(err.Error(), "signing method") {
			return rejection{"algorithm", "Disallowed signing algorithm"}
		}
		return rejection{"signature", "Invalid token signature"}
	default:
		return rejectInvalid
	}
}
