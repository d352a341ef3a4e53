package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, c claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestValidateToken(t *testing.T) {
	v := NewJWTValidator("sekrit")
	token := signToken(t, "sekrit", claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "user@example.com",
		Roles: []string{"model:specific", "admin"},
	})

	id, err := v.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id.Subject != "u-123" || id.Email != "user@example.com" {
		t.Errorf("identity = %+v", id)
	}
	if !id.HasRole(RoleSpecificModels) {
		t.Error("expected model:specific role")
	}
	if !id.IsAdmin("admin") {
		t.Error("expected admin")
	}
	if id.IsAdmin("superadmin") {
		t.Error("unexpected superadmin")
	}
}

func TestValidateTokenBadSignature(t *testing.T) {
	v := NewJWTValidator("sekrit")
	token := signToken(t, "other-secret", claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-123"},
	})
	if _, err := v.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	v := NewJWTValidator("sekrit")
	token := signToken(t, "sekrit", claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	if _, err := v.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	v := NewJWTValidator("sekrit")
	if _, err := v.ValidateToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
