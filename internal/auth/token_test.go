package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, issuedClaims, err := IssueToken(secret, "user-1", "Avery", "DEVELOPER", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "user-1" || claims.Name != "Avery" || claims.Role != "DEVELOPER" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" || claims.ID != issuedClaims.ID {
		t.Fatalf("token id mismatch: %q vs %q", claims.ID, issuedClaims.ID)
	}
	if until := time.Until(claims.Expiry()); until <= 0 || until > time.Hour {
		t.Fatalf("unexpected expiry %v", claims.Expiry())
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, _, err := IssueToken(secret, "user-1", "Avery", "DEVELOPER", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, _, err := IssueToken(secret, "user-1", "Avery", "DEVELOPER", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ID: "jti"},
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ID: "jti", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	cases := map[string]struct {
		secret []byte
		token  string
	}{
		"wrong secret": {secret: []byte("other"), token: issued},
		"garbage":      {secret: secret, token: "not-a-token"},
		"truncated":    {secret: secret, token: issued[:strings.LastIndex(issued, ".")]},
		"missing exp":  {secret: secret, token: noExpiry},
		"none alg":     {secret: secret, token: noneAlg},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseToken(tc.secret, tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
