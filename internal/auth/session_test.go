package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSessionIssuerIssuesThirtyDayCredentials(t *testing.T) {
	now := time.Unix(1700000000, 0)
	issuer, err := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "gatherly-auth",
		Audience:      "gatherly-app",
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	credential, expiresAt, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if got := expiresAt.Sub(now.UTC()); got != 30*24*time.Hour {
		t.Fatalf("expected 30-day expiry, got %s", got)
	}

	parser := jwt.NewParser(jwt.WithTimeFunc(func() time.Time { return now }))
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated credential: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "gatherly-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
}

func TestSessionIssuerVerifiesOwnCredentials(t *testing.T) {
	issuer, err := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("another-secret"),
		Issuer:        "gatherly-auth",
		Audience:      "gatherly-app",
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	credential, _, err := issuer.Issue("user-321")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	userID, err := issuer.Verify(credential)
	if err != nil {
		t.Fatalf("expected verification success: %v", err)
	}
	if userID != "user-321" {
		t.Fatalf("unexpected user id %s", userID)
	}

	if _, err := issuer.Verify("invalid.credential"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestSessionIssuerRejectsExpiredCredentials(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	clock := issuedAt
	issuer, err := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("expiring-secret"),
		Issuer:        "gatherly-auth",
		Audience:      "gatherly-app",
		TTL:           time.Hour,
		Clock:         func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	credential, _, err := issuer.Issue("user-9")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	clock = issuedAt.Add(2 * time.Hour)
	if _, err := issuer.Verify(credential); !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected ErrExpiredCredential, got %v", err)
	}
}

func TestSessionIssuerRequiresConfiguration(t *testing.T) {
	if _, err := NewSessionIssuer(SessionIssuerConfig{Issuer: "a", Audience: "b"}); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected ErrMissingSigningSecret, got %v", err)
	}
	if _, err := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("x"), Audience: "b"}); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
	if _, err := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("x"), Issuer: "a"}); err == nil {
		t.Fatalf("expected error for missing audience")
	}
}

func TestSessionIssuerRejectsEmptySubject(t *testing.T) {
	issuer, err := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "gatherly-auth",
		Audience:      "gatherly-app",
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.Issue(" "); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}
