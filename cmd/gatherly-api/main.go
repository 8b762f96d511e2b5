package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/moonrise-labs/gatherly/internal/auth"
	"github.com/moonrise-labs/gatherly/internal/config"
	"github.com/moonrise-labs/gatherly/internal/database"
	"github.com/moonrise-labs/gatherly/internal/events"
	"github.com/moonrise-labs/gatherly/internal/logging"
	"github.com/moonrise-labs/gatherly/internal/oauth"
	"github.com/moonrise-labs/gatherly/internal/server"
	"github.com/moonrise-labs/gatherly/internal/users"
)

const (
	sessionTokenIssuer   = "gatherly"
	sessionTokenAudience = "gatherly-web"
	shutdownGracePeriod  = 10 * time.Second
)

func main() {
	command := newRootCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	configViper := config.NewViper()

	command := &cobra.Command{
		Use:   "gatherly-api",
		Short: "Gatherly event platform API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configViper)
		},
	}

	flags := command.Flags()
	flags.String("address", "", "listen address for the HTTP server")
	flags.String("database", "", "path to the SQLite database file")
	flags.String("log-level", "", "log verbosity (debug, info, warn, error)")
	_ = configViper.BindPFlag("http.address", flags.Lookup("address"))
	_ = configViper.BindPFlag("database.path", flags.Lookup("database"))
	_ = configViper.BindPFlag("log.level", flags.Lookup("log-level"))

	return command
}

func run(ctx context.Context, configViper *viper.Viper) error {
	cfg, err := config.Load(configViper)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.OpenSQLite(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	userStore, err := users.NewStore(users.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	dispatcher := server.NewNotificationDispatcher()
	eventsService, err := events.NewService(events.ServiceConfig{
		Database:  db,
		Publisher: dispatcher,
		Logger:    logger.Named("events"),
	})
	if err != nil {
		return err
	}

	googleClient, err := oauth.NewGoogleClient(oauth.GoogleClientConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Issuer:       cfg.GoogleIssuer,
	})
	if err != nil {
		return err
	}

	resolver, err := oauth.NewResolver(oauth.ResolverConfig{
		Store:  userStore,
		Logger: logger.Named("oauth"),
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(cfg.SessionSigningSecret),
		Issuer:        sessionTokenIssuer,
		Audience:      sessionTokenAudience,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Provider:   googleClient,
		FlowState:  oauth.NewFlowStateStore(cfg.IsProduction()),
		Resolver:   resolver,
		Sessions:   sessions,
		Users:      userStore,
		Events:     eventsService,
		Dispatcher: dispatcher,
		Config: server.RouterConfig{
			FrontendBaseURL:   cfg.FrontendBaseURL,
			SessionCookieName: cfg.SessionCookieName,
			SecureCookies:     cfg.IsProduction(),
			LoginRedirectURL:  cfg.GoogleLoginRedirect,
			LinkRedirectURL:   cfg.GoogleLinkRedirect,
		},
		Logger: logger.Named("http"),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("address", cfg.HTTPAddress))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-signalCtx.Done():
	}

	logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
