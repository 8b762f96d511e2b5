package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ProviderGoogle is the identifier stored on linked identities.
const ProviderGoogle = "google"

// Prompt hints forwarded to the provider's consent screen.
const (
	PromptSelectAccount = "select_account"
	PromptConsent       = "consent"
)

var (
	errMissingClientID     = errors.New("oauth: client id required")
	errMissingClientSecret = errors.New("oauth: client secret required")
	errMissingIssuer       = errors.New("oauth: issuer required")
)

// Claims are the verified assertions returned by the provider after a
// successful code exchange.
type Claims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// GoogleClientConfig bundles the registration details for the Google client.
type GoogleClientConfig struct {
	ClientID     string
	ClientSecret string
	Issuer       string
	HTTPClient   *http.Client
}

// GoogleClient talks to Google's OIDC endpoints. Discovery runs lazily on
// first use; concurrent first callers share a single in-flight fetch, and a
// failed fetch is not cached so the next call retries.
type GoogleClient struct {
	config GoogleClientConfig

	group    singleflight.Group
	mu       sync.RWMutex
	resolved *resolvedProvider
}

type resolvedProvider struct {
	endpoint oauth2.Endpoint
	verifier *oidc.IDTokenVerifier
}

// NewGoogleClient validates the registration details and returns a client.
// Discovery is deferred until the first flow needs it.
func NewGoogleClient(cfg GoogleClientConfig) (*GoogleClient, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errMissingClientSecret
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errMissingIssuer
	}
	return &GoogleClient{config: cfg}, nil
}

// Name returns the provider identifier.
func (g *GoogleClient) Name() string {
	return ProviderGoogle
}

// AuthCodeURL builds the provider authorization URL carrying state and the
// PKCE challenge. Discovery runs first if the endpoints are not yet cached.
func (g *GoogleClient) AuthCodeURL(ctx context.Context, redirectURL, state, codeChallenge, prompt string) (string, error) {
	resolved, err := g.discover(ctx)
	if err != nil {
		return "", err
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", prompt))
	}

	return g.oauthConfig(resolved, redirectURL).AuthCodeURL(state, opts...), nil
}

// Exchange trades the authorization code for tokens, verifies the returned ID
// token, and extracts the identity claims.
func (g *GoogleClient) Exchange(ctx context.Context, redirectURL, code, codeVerifier string) (Claims, error) {
	resolved, err := g.discover(ctx)
	if err != nil {
		return Claims{}, err
	}

	ctx = g.clientContext(ctx)
	token, err := g.oauthConfig(resolved, redirectURL).Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Claims{}, fmt.Errorf("%w: no id_token in response", ErrTokenExchangeFailed)
	}

	idToken, err := resolved.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	var payload struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&payload); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrClaimsInvalid, err)
	}
	if payload.Subject == "" {
		return Claims{}, fmt.Errorf("%w: sub", ErrClaimsInvalid)
	}

	return Claims{
		Subject:       payload.Subject,
		Email:         payload.Email,
		EmailVerified: payload.EmailVerified,
		Name:          payload.Name,
		Picture:       payload.Picture,
	}, nil
}

func (g *GoogleClient) discover(ctx context.Context) (*resolvedProvider, error) {
	g.mu.RLock()
	resolved := g.resolved
	g.mu.RUnlock()
	if resolved != nil {
		return resolved, nil
	}

	value, err, _ := g.group.Do("discovery", func() (any, error) {
		g.mu.RLock()
		cached := g.resolved
		g.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		provider, err := oidc.NewProvider(g.clientContext(ctx), g.config.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}

		fresh := &resolvedProvider{
			endpoint: provider.Endpoint(),
			verifier: provider.Verifier(&oidc.Config{ClientID: g.config.ClientID}),
		}

		g.mu.Lock()
		g.resolved = fresh
		g.mu.Unlock()

		return fresh, nil
	})
	if err != nil {
		return nil, err
	}

	return value.(*resolvedProvider), nil
}

func (g *GoogleClient) oauthConfig(resolved *resolvedProvider, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     g.config.ClientID,
		ClientSecret: g.config.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     resolved.endpoint,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
}

func (g *GoogleClient) clientContext(ctx context.Context) context.Context {
	if g.config.HTTPClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, g.config.HTTPClient)
}
