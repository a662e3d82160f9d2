package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateValidateRoundTrip(t *testing.T) {
	secret := []byte("s3cr3t")
	token, err := Generate("tenant1", time.Hour, secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := Validate(token, secret)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TenantID != "tenant1" {
		t.Fatalf("expected tenant1, got %q", claims.TenantID)
	}
}

func TestValidate_EdgeCases(t *testing.T) {
	tests := []struct {
		name        string
		setupToken  func() string
		secret      []byte
		expectError bool
		errorType   error
	}{
		{
			name: "valid token with correct secret",
			setupToken: func() string {
				token, _ := Generate("tenant1", time.Hour, []byte("correct-secret"))
				return token
			},
			secret: []byte("correct-secret"),
		},
		{
			name: "valid token with wrong secret",
			setupToken: func() string {
				token, _ := Generate("tenant1", time.Hour, []byte("correct-secret"))
				return token
			},
			secret:      []byte("wrong-secret"),
			expectError: true,
			errorType:   ErrInvalidToken,
		},
		{
			name: "expired token",
			setupToken: func() string {
				claims := &Claims{
					TenantID: "tenant1",
					RegisteredClaims: jwt.RegisteredClaims{
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
						IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
					},
				}
				token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
				tokenString, _ := token.SignedString([]byte("test-secret"))
				return tokenString
			},
			secret:      []byte("test-secret"),
			expectError: true,
			errorType:   ErrExpiredToken,
		},
		{
			name: "malformed token",
			setupToken: func() string {
				return "not.a.valid.token"
			},
			secret:      []byte("test-secret"),
			expectError: true,
			errorType:   ErrInvalidToken,
		},
		{
			name: "empty tenant id rejected",
			setupToken: func() string {
				token, _ := Generate("", time.Hour, []byte("test-secret"))
				return token
			},
			secret:      []byte("test-secret"),
			expectError: true,
			errorType:   ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := tt.setupToken()
			claims, err := Validate(token, tt.secret)

			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error but got none")
				}
				if tt.errorType != nil && !errors.Is(err, tt.errorType) {
					t.Fatalf("expected error %v but got %v", tt.errorType, err)
				}
				if claims != nil {
					t.Fatalf("expected nil claims when error occurs")
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if claims == nil {
					t.Fatalf("expected valid claims")
				}
			}
		})
	}
}

func TestValidate_RejectsAlgorithmConfusion(t *testing.T) {
	secret := []byte("test-secret")

	noneToken := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		TenantID: "tenant1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	noneTokenString, err := noneToken.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to create none token: %v", err)
	}

	claims, err := Validate(noneTokenString, secret)
	if err == nil {
		t.Fatalf("expected rejection of none algorithm token but validation succeeded")
	}
	if claims != nil {
		t.Fatalf("expected nil claims when rejecting none algorithm")
	}
	if !errors.Is(err, ErrInvalidToken) && !strings.Contains(err.Error(), "unexpected signing method") {
		t.Fatalf("expected signing method or invalid token error but got: %v", err)
	}
}
