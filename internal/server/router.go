package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/moonrise-labs/gatherly/internal/events"
	"github.com/moonrise-labs/gatherly/internal/oauth"
	"github.com/moonrise-labs/gatherly/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "gatherly_user_id"

var (
	errMissingIdentityProvider = errors.New("identity provider dependency required")
	errMissingFlowStore        = errors.New("flow state store dependency required")
	errMissingResolver         = errors.New("account resolver dependency required")
	errMissingSessionManager   = errors.New("session manager dependency required")
	errMissingUserStore        = errors.New("user store dependency required")
	errMissingEventsService    = errors.New("events service dependency required")
	errBadRedirectURL          = errors.New("redirect url must be absolute with a path")
)

// IdentityProvider is the external OIDC client the orchestrator drives.
type IdentityProvider interface {
	Name() string
	AuthCodeURL(ctx context.Context, redirectURL, state, codeChallenge, prompt string) (string, error)
	Exchange(ctx context.Context, redirectURL, code, codeVerifier string) (oauth.Claims, error)
}

// FlowStore persists the per-flow state and PKCE verifier.
type FlowStore interface {
	Issue(w http.ResponseWriter, scope oauth.FlowScope, callbackPath string) (oauth.FlowStart, error)
	Consume(w http.ResponseWriter, r *http.Request, scope oauth.FlowScope, callbackPath string) (state, verifier string, err error)
	Clear(w http.ResponseWriter, scope oauth.FlowScope, callbackPath string)
}

// AccountResolver maps verified claims onto exactly one account.
type AccountResolver interface {
	ResolveLogin(ctx context.Context, provider string, claims oauth.Claims) (*users.User, oauth.Action, error)
	ResolveLink(ctx context.Context, provider string, claims oauth.Claims, currentUserID string) (*users.User, oauth.Action, error)
	Unlink(ctx context.Context, userID, provider string) (*users.User, error)
}

// SessionManager mints and verifies the application's bearer credential.
type SessionManager interface {
	Issue(userID string) (credential string, expiresAt time.Time, err error)
	Verify(credential string) (userID string, err error)
}

// RouterConfig carries the request-shaping parts of the app configuration.
type RouterConfig struct {
	FrontendBaseURL   string
	SessionCookieName string
	SecureCookies     bool
	LoginRedirectURL  string
	LinkRedirectURL   string
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Provider   IdentityProvider
	FlowState  FlowStore
	Resolver   AccountResolver
	Sessions   SessionManager
	Users      *users.Store
	Events     *events.Service
	Dispatcher *NotificationDispatcher
	Config     RouterConfig
	Logger     *zap.Logger
}

// NewHTTPHandler validates dependencies and assembles the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Provider == nil {
		return nil, errMissingIdentityProvider
	}
	if deps.FlowState == nil {
		return nil, errMissingFlowStore
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Users == nil {
		return nil, errMissingUserStore
	}
	if deps.Events == nil {
		return nil, errMissingEventsService
	}

	loginCallbackPath, err := callbackPath(deps.Config.LoginRedirectURL)
	if err != nil {
		return nil, err
	}
	linkCallbackPath, err := callbackPath(deps.Config.LinkRedirectURL)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewNotificationDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{deps.Config.FrontendBaseURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		provider:          deps.Provider,
		flow:              deps.FlowState,
		resolver:          deps.Resolver,
		sessions:          deps.Sessions,
		users:             deps.Users,
		events:            deps.Events,
		dispatcher:        dispatcher,
		config:            deps.Config,
		loginCallbackPath: loginCallbackPath,
		linkCallbackPath:  linkCallbackPath,
		logger:            logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := router.Group("/auth")
	authGroup.POST("/register", handler.handleRegister)
	authGroup.POST("/login", handler.handleLocalLogin)
	authGroup.POST("/logout", handler.handleLogout)
	authGroup.GET("/google/login", handler.handleGoogleLoginStart)
	authGroup.GET("/google/callback", handler.handleGoogleLoginCallback)

	authedFlows := authGroup.Group("/")
	authedFlows.Use(handler.requireSession)
	authedFlows.GET("/google/link", handler.handleGoogleLinkStart)
	authedFlows.GET("/google/link/callback", handler.handleGoogleLinkCallback)
	authedFlows.DELETE("/google/unlink", handler.handleGoogleUnlink)

	api := router.Group("/api")
	api.GET("/events", handler.handleListEvents)
	api.GET("/events/:id", handler.handleGetEvent)
	api.GET("/events/:id/feedback", handler.handleListFeedback)
	api.GET("/categories", handler.handleListCategories)

	protected := api.Group("/")
	protected.Use(handler.requireSession)
	protected.GET("/me", handler.handleMe)
	protected.POST("/events", handler.handleCreateEvent)
	protected.PUT("/events/:id", handler.handleUpdateEvent)
	protected.DELETE("/events/:id", handler.handleDeleteEvent)
	protected.POST("/categories", handler.handleCreateCategory)
	protected.POST("/events/:id/register", handler.handleRegisterForEvent)
	protected.POST("/events/:id/feedback", handler.handleAddFeedback)
	protected.GET("/registrations", handler.handleListRegistrations)
	protected.DELETE("/registrations/:id", handler.handleCancelRegistration)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/:id/read", handler.handleMarkNotificationRead)
	protected.GET("/notifications/stream", handler.handleNotificationStream)
	protected.GET("/dashboard", handler.handleDashboard)

	return router, nil
}

type httpHandler struct {
	provider          IdentityProvider
	flow              FlowStore
	resolver          AccountResolver
	sessions          SessionManager
	users             *users.Store
	events            *events.Service
	dispatcher        *NotificationDispatcher
	config            RouterConfig
	loginCallbackPath string
	linkCallbackPath  string
	logger            *zap.Logger
}

// requireSession authenticates the request from the session cookie and stores
// the account id on the gin context.
func (h *httpHandler) requireSession(c *gin.Context) {
	cookie, err := c.Request.Cookie(h.config.SessionCookieName)
	if err != nil || cookie.Value == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.sessions.Verify(cookie.Value)
	if err != nil {
		h.logger.Info("session verification failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func callbackPath(redirectURL string) (string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil || parsed.Path == "" {
		return "", errBadRedirectURL
	}
	return parsed.Path, nil
}
