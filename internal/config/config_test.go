package config

import (
	"strings"
	"testing"
)

func validViper() map[string]any {
	return map[string]any{
		"session.signing_secret":    "super-secret",
		"google.client_id":          "client-id",
		"google.client_secret":      "client-secret",
		"google.login_redirect_url": "https://api.example.com/auth/google/callback",
		"google.link_redirect_url":  "https://api.example.com/auth/google/link/callback",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	for key, value := range validViper() {
		configViper.Set(key, value)
	}

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.SessionCookieName != "gatherly_session" {
		t.Fatalf("unexpected cookie name %q", cfg.SessionCookieName)
	}
	if cfg.GoogleIssuer != "https://accounts.google.com" {
		t.Fatalf("unexpected issuer %q", cfg.GoogleIssuer)
	}
	if cfg.IsProduction() {
		t.Fatalf("expected development default environment")
	}
}

func TestLoadTrimsFrontendTrailingSlash(t *testing.T) {
	configViper := NewViper()
	for key, value := range validViper() {
		configViper.Set(key, value)
	}
	configViper.Set("frontend.base_url", "https://app.example.com/")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.FrontendBaseURL != "https://app.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.FrontendBaseURL)
	}
}

func TestLoadRejectsMissingRequiredKeys(t *testing.T) {
	for missing := range validViper() {
		configViper := NewViper()
		for key, value := range validViper() {
			if key == missing {
				continue
			}
			configViper.Set(key, value)
		}

		_, err := Load(configViper)
		if err == nil {
			t.Fatalf("expected load error when %s is missing", missing)
		}
		root := strings.SplitN(missing, ".", 2)[0]
		if !strings.Contains(err.Error(), root) {
			t.Fatalf("expected error to mention %q, got %v", root, err)
		}
	}
}

func TestIsProductionIsCaseInsensitive(t *testing.T) {
	cfg := AppConfig{Environment: " Production "}
	if !cfg.IsProduction() {
		t.Fatalf("expected production environment to be detected")
	}
}
