package server

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/vendloc/vendloc/internal/platform/errors"
	"github.com/vendloc/vendloc/internal/platform/timeouts"
	"github.com/vendloc/vendloc/internal/registry"
)

// Identity is a validated participant identity.
type Identity struct {
	EntityID string
	Kind     registry.Kind
}

// Authorizer validates an access token into an identity. It is invoked once
// per connection at upgrade time.
type Authorizer interface {
	Validate(ctx context.Context, accessToken string) (Identity, error)
}

// introspectAuthorizer resolves identities through the auth service's token
// introspection endpoint.
type introspectAuthorizer struct {
	authBaseURL    string
	resourceSecret string
	httpClient     *http.Client
}

type introspectResponse struct {
	Active   bool   `json:"active"`
	EntityID string `json:"entity_id"`
	Kind     string `json:"kind"`
}

// NewIntrospectAuthorizer creates a token-introspection authorizer. It
// returns nil when the endpoint or secret is not configured.
func NewIntrospectAuthorizer(authBaseURL, resourceSecret string) Authorizer {
	authBaseURL = strings.TrimSpace(authBaseURL)
	resourceSecret = strings.TrimSpace(resourceSecret)
	if authBaseURL == "" || resourceSecret == "" {
		return nil
	}
	return &introspectAuthorizer{
		authBaseURL:    authBaseURL,
		resourceSecret: resourceSecret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (a *introspectAuthorizer) Validate(ctx context.Context, accessToken string) (Identity, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Identity{}, apperrors.New(apperrors.CodeUnauthorized, "access token is required")
	}

	endpoint := strings.TrimRight(a.authBaseURL, "/") + "/introspect"
	authCtx, cancel := context.WithTimeout(ctx, timeouts.AuthCall)
	defer cancel()

	req, err := http.NewRequestWithContext(authCtx, http.MethodPost, endpoint, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Resource-Secret", a.resourceSecret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("call auth introspection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("auth introspection status %d", resp.StatusCode)
	}

	var payload introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Identity{}, fmt.Errorf("decode introspection response: %w", err)
	}
	if !payload.Active {
		return Identity{}, apperrors.New(apperrors.CodeUnauthorized, "inactive access token")
	}

	entityID := strings.TrimSpace(payload.EntityID)
	if entityID == "" {
		return Identity{}, apperrors.New(apperrors.CodeUnauthorized, "introspection returned empty entity id")
	}
	kind, err := registry.ParseKind(strings.TrimSpace(payload.Kind))
	if err != nil {
		return Identity{}, err
	}
	return Identity{EntityID: entityID, Kind: kind}, nil
}

// jwtAuthorizer verifies Ed25519-signed access tokens locally, without a
// round trip to the auth service.
type jwtAuthorizer struct {
	issuer   string
	audience string
	key      ed25519.PublicKey
}

type accessTokenClaims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

// NewJWTAuthorizer creates a local JWT authorizer from a base64-encoded
// Ed25519 public key.
func NewJWTAuthorizer(issuer, audience, publicKey string) (Authorizer, error) {
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	publicKey = strings.TrimSpace(publicKey)
	if issuer == "" || audience == "" || publicKey == "" {
		return nil, errors.New("jwt issuer, audience, and public key are required")
	}
	keyBytes, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		keyBytes, err = base64.RawStdEncoding.DecodeString(publicKey)
	}
	if err != nil {
		return nil, fmt.Errorf("decode jwt public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("jwt public key must be %d bytes", ed25519.PublicKeySize)
	}
	return &jwtAuthorizer{
		issuer:   issuer,
		audience: audience,
		key:      ed25519.PublicKey(keyBytes),
	}, nil
}

func (a *jwtAuthorizer) Validate(_ context.Context, accessToken string) (Identity, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Identity{}, apperrors.New(apperrors.CodeUnauthorized, "access token is required")
	}

	var claims accessTokenClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
	)
	if err != nil {
		return Identity{}, apperrors.Wrap(apperrors.CodeUnauthorized, "invalid access token", err)
	}

	entityID := strings.TrimSpace(claims.Subject)
	if entityID == "" {
		return Identity{}, apperrors.New(apperrors.CodeUnauthorized, "access token has no subject")
	}
	kind, err := registry.ParseKind(strings.TrimSpace(claims.Kind))
	if err != nil {
		return Identity{}, err
	}
	return Identity{EntityID: entityID, Kind: kind}, nil
}
