package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestNewVerifier_UnknownMode(t *testing.T) {
	if _, err := NewVerifier("oauth", ""); err == nil {
		t.Fatal("NewVerifier(oauth) error=nil, want error")
	}
}

func TestNewVerifier_JWTRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(ModeJWT, ""); err == nil {
		t.Fatal("NewVerifier(jwt, no secret) error=nil, want error")
	}
}

func TestNoneVerifier(t *testing.T) {
	v, err := NewVerifier(ModeNone, "")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	got, err := v.Verify("alice", "")
	if err != nil || got != "alice" {
		t.Fatalf("Verify(alice)=(%q, %v), want (alice, nil)", got, err)
	}

	if _, err := v.Verify("", ""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("Verify empty identity error=%v, want ErrMissingCredentials", err)
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	v, err := NewVerifier(ModeJWT, "s3cret")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	tok := signHS256(t, "s3cret", jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	got, err := v.Verify("", tok)
	if err != nil || got != "alice" {
		t.Fatalf("Verify=(%q, %v), want (alice, nil)", got, err)
	}
}

func TestJWTVerifier_Rejections(t *testing.T) {
	v, err := NewVerifier(ModeJWT, "s3cret")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name     string
		identity string
		token    string
	}{
		{"missing token", "alice", ""},
		{"wrong secret", "", signHS256(t, "other", jwt.RegisteredClaims{Subject: "alice", ExpiresAt: future})},
		{"expired", "", signHS256(t, "s3cret", jwt.RegisteredClaims{Subject: "alice", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})},
		{"no subject", "", signHS256(t, "s3cret", jwt.RegisteredClaims{ExpiresAt: future})},
		{"subject mismatch", "mallory", signHS256(t, "s3cret", jwt.RegisteredClaims{Subject: "alice", ExpiresAt: future})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(tc.identity, tc.token); err == nil {
				t.Fatalf("Verify(%q, token)=nil error, want rejection", tc.identity)
			}
		})
	}
}
