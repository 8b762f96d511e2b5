package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 30 * 24 * time.Hour

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret must be provided")
	ErrMissingSubject       = errors.New("auth: subject must be provided")
	ErrInvalidCredential    = errors.New("auth: invalid session credential")
	ErrExpiredCredential    = errors.New("auth: session credential expired")
)

// SessionIssuerConfig configures the bearer credential issuer.
type SessionIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TTL           time.Duration
	Clock         func() time.Time
}

// SessionIssuer mints and verifies the application's own bearer credential.
// The credential embeds only the account id; everything else lives in the
// account store.
type SessionIssuer struct {
	config SessionIssuerConfig
	clock  func() time.Time
}

// NewSessionIssuer constructs a SessionIssuer with sane defaults.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("auth: issuer must be provided")
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("auth: audience must be provided")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		config: SessionIssuerConfig{
			SigningSecret: append([]byte(nil), cfg.SigningSecret...),
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TTL:           ttl,
			Clock:         clock,
		},
		clock: clock,
	}, nil
}

// TTL returns the configured credential lifetime.
func (i *SessionIssuer) TTL() time.Duration {
	return i.config.TTL
}

// Issue produces a signed credential for the account id and its expiry.
func (i *SessionIssuer) Issue(userID string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, ErrMissingSubject
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TTL)

	registered := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    i.config.Issuer,
		Audience:  []string{i.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// Verify checks the credential and recovers the account id it was issued for.
func (i *SessionIssuer) Verify(credential string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", ErrInvalidCredential
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		credential,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredCredential
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}
