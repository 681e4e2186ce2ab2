package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/vendloc/vendloc/internal/platform/errors"
	"github.com/vendloc/vendloc/internal/registry"
)

const (
	testIssuer   = "vendloc-auth"
	testAudience = "vendloc-gateway"
)

func newSigningKey(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv, base64.StdEncoding.EncodeToString(pub)
}

func signToken(t *testing.T, key ed25519.PrivateKey, claims accessTokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validClaims(subject, kind string) accessTokenClaims {
	return accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Kind: kind,
	}
}

func TestJWTAuthorizerValidatesToken(t *testing.T) {
	key, publicKey := newSigningKey(t)
	authorizer, err := NewJWTAuthorizer(testIssuer, testAudience, publicKey)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}

	token := signToken(t, key, validClaims("vendor-1", "vendor"))
	identity, err := authorizer.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if identity.EntityID != "vendor-1" || identity.Kind != registry.KindVendor {
		t.Fatalf("identity = %+v, want vendor-1/vendor", identity)
	}
}

func TestJWTAuthorizerRejectsBadTokens(t *testing.T) {
	key, publicKey := newSigningKey(t)
	otherKey, _ := newSigningKey(t)
	authorizer, err := NewJWTAuthorizer(testIssuer, testAudience, publicKey)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}

	expired := validClaims("user-1", "user")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := validClaims("user-1", "user")
	wrongIssuer.Issuer = "someone-else"
	noSubject := validClaims("", "user")

	cases := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "expired", token: signToken(t, key, expired)},
		{name: "wrong issuer", token: signToken(t, key, wrongIssuer)},
		{name: "wrong key", token: signToken(t, otherKey, validClaims("user-1", "user"))},
		{name: "no subject", token: signToken(t, key, noSubject)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := authorizer.Validate(context.Background(), tc.token)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if got := apperrors.CodeOf(err); got != apperrors.CodeUnauthorized {
				t.Fatalf("code = %q, want %q", got, apperrors.CodeUnauthorized)
			}
		})
	}
}

func TestJWTAuthorizerRejectsUnknownKind(t *testing.T) {
	key, publicKey := newSigningKey(t)
	authorizer, err := NewJWTAuthorizer(testIssuer, testAudience, publicKey)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}

	token := signToken(t, key, validClaims("user-1", "admin"))
	_, err = authorizer.Validate(context.Background(), token)
	if got := apperrors.CodeOf(err); got != apperrors.CodeEntityKindInvalid {
		t.Fatalf("code = %q, want %q", got, apperrors.CodeEntityKindInvalid)
	}
}

func TestNewJWTAuthorizerRejectsBadConfig(t *testing.T) {
	_, publicKey := newSigningKey(t)

	if _, err := NewJWTAuthorizer("", testAudience, publicKey); err == nil {
		t.Fatal("expected error for missing issuer")
	}
	if _, err := NewJWTAuthorizer(testIssuer, testAudience, "!!not-base64!!"); err == nil {
		t.Fatal("expected error for undecodable key")
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := NewJWTAuthorizer(testIssuer, testAudience, short); err == nil {
		t.Fatal("expected error for truncated key")
	}
}

func TestIntrospectAuthorizerValidatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/introspect" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("authorization header = %q", got)
		}
		if got := r.Header.Get("X-Resource-Secret"); got != "secret-1" {
			t.Errorf("resource secret header = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"active":    true,
			"entity_id": "user-1",
			"kind":      "user",
		})
	}))
	t.Cleanup(srv.Close)

	authorizer := NewIntrospectAuthorizer(srv.URL, "secret-1")
	if authorizer == nil {
		t.Fatal("expected configured authorizer")
	}

	identity, err := authorizer.Validate(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if identity.EntityID != "user-1" || identity.Kind != registry.KindUser {
		t.Fatalf("identity = %+v, want user-1/user", identity)
	}
}

func TestIntrospectAuthorizerRejectsInactiveToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"active": false})
	}))
	t.Cleanup(srv.Close)

	authorizer := NewIntrospectAuthorizer(srv.URL, "secret-1")
	_, err := authorizer.Validate(context.Background(), "token-1")
	if !errors.Is(err, apperrors.New(apperrors.CodeUnauthorized, "")) {
		t.Fatalf("err = %v, want unauthorized code", err)
	}
}

func TestNewIntrospectAuthorizerRequiresConfig(t *testing.T) {
	if NewIntrospectAuthorizer("", "secret") != nil {
		t.Fatal("expected nil authorizer without base URL")
	}
	if NewIntrospectAuthorizer("http://auth", "") != nil {
		t.Fatal("expected nil authorizer without secret")
	}
}
