package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix = "GATHERLY"

	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "gatherly.db"
	defaultLogLevel          = "info"
	defaultEnvironment       = "development"
	defaultFrontendBaseURL   = "http://localhost:5173"
	defaultSessionCookieName = "gatherly_session"
	defaultGoogleIssuer      = "https://accounts.google.com"
)

// EnvironmentProduction marks deployments where cookies must be Secure.
const EnvironmentProduction = "production"

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	Environment  string

	FrontendBaseURL string

	SessionSigningSecret string
	SessionCookieName    string

	GoogleClientID      string
	GoogleClientSecret  string
	GoogleIssuer        string
	GoogleLoginRedirect string
	GoogleLinkRedirect  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("environment", defaultEnvironment)
	configViper.SetDefault("frontend.base_url", defaultFrontendBaseURL)
	configViper.SetDefault("session.cookie_name", defaultSessionCookieName)
	configViper.SetDefault("google.issuer", defaultGoogleIssuer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		Environment:  configViper.GetString("environment"),

		FrontendBaseURL: strings.TrimRight(configViper.GetString("frontend.base_url"), "/"),

		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),

		GoogleClientID:      configViper.GetString("google.client_id"),
		GoogleClientSecret:  configViper.GetString("google.client_secret"),
		GoogleIssuer:        configViper.GetString("google.issuer"),
		GoogleLoginRedirect: configViper.GetString("google.login_redirect_url"),
		GoogleLinkRedirect:  configViper.GetString("google.link_redirect_url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// IsProduction reports whether the deployment should use production hardening.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction)
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.FrontendBaseURL) == "" {
		return fmt.Errorf("frontend.base_url is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if strings.TrimSpace(c.GoogleClientSecret) == "" {
		return fmt.Errorf("google.client_secret is required")
	}
	if strings.TrimSpace(c.GoogleLoginRedirect) == "" {
		return fmt.Errorf("google.login_redirect_url is required")
	}
	if strings.TrimSpace(c.GoogleLinkRedirect) == "" {
		return fmt.Errorf("google.link_redirect_url is required")
	}
	return nil
}
