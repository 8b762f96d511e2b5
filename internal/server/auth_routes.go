package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/moonrise-labs/gatherly/internal/auth"
	"github.com/moonrise-labs/gatherly/internal/oauth"
	"github.com/moonrise-labs/gatherly/internal/users"
	"go.uber.org/zap"
)

// handleGoogleLoginStart issues the flow state and redirects the browser to
// the provider's consent screen.
func (h *httpHandler) handleGoogleLoginStart(c *gin.Context) {
	start, err := h.flow.Issue(c.Writer, oauth.ScopeLogin, h.loginCallbackPath)
	if err != nil {
		h.logger.Error("failed to issue login flow state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start sign-in"})
		return
	}

	authURL, err := h.provider.AuthCodeURL(c.Request.Context(), h.config.LoginRedirectURL, start.State, start.CodeChallenge, oauth.PromptSelectAccount)
	if err != nil {
		h.flow.Clear(c.Writer, oauth.ScopeLogin, h.loginCallbackPath)
		h.logger.Error("identity provider unavailable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity provider unavailable"})
		return
	}

	c.Redirect(http.StatusFound, authURL)
}

// handleGoogleLoginCallback finishes the sign-in flow: it validates the state,
// exchanges the code, resolves the claims to an account, and establishes the
// session before sending the browser back to the frontend.
func (h *httpHandler) handleGoogleLoginCallback(c *gin.Context) {
	if providerError := c.Query("error"); providerError != "" {
		h.flow.Clear(c.Writer, oauth.ScopeLogin, h.loginCallbackPath)
		h.logger.Info("sign-in cancelled at provider", zap.String("reason", providerError))
		c.Redirect(http.StatusFound, h.frontendURL("/login?oauth=cancelled"))
		return
	}

	expectedState, verifier, err := h.flow.Consume(c.Writer, c.Request, oauth.ScopeLogin, h.loginCallbackPath)
	if err != nil {
		c.Redirect(http.StatusFound, h.frontendURL("/login?oauth=expired"))
		return
	}

	returnedState := c.Query("state")
	code := c.Query("code")
	if code == "" || subtle.ConstantTimeCompare([]byte(expectedState), []byte(returnedState)) != 1 {
		h.logger.Warn("sign-in callback rejected", zap.Bool("missing_code", code == ""))
		c.Redirect(http.StatusFound, h.frontendURL("/login?oauth=failed"))
		return
	}

	claims, err := h.provider.Exchange(c.Request.Context(), h.config.LoginRedirectURL, code, verifier)
	if err != nil {
		if errors.Is(err, oauth.ErrProviderUnavailable) {
			h.logger.Error("identity provider unavailable during exchange", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "identity provider unavailable"})
			return
		}
		h.logger.Warn("code exchange failed", zap.Error(err))
		c.Redirect(http.StatusFound, h.frontendURL("/login?oauth=failed"))
		return
	}

	account, action, err := h.resolver.ResolveLogin(c.Request.Context(), h.provider.Name(), claims)
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrAccountDeactivated):
			c.JSON(http.StatusForbidden, gin.H{"error": "account is deactivated"})
		case errors.Is(err, oauth.ErrEmailNotVerified), errors.Is(err, oauth.ErrClaimsInvalid):
			h.logger.Warn("sign-in claims rejected", zap.Error(err))
			c.Redirect(http.StatusFound, h.frontendURL("/login?oauth=failed"))
		default:
			h.logger.Error("login resolution failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete sign-in"})
		}
		return
	}

	if err := h.establishSession(c, account.ID); err != nil {
		return
	}

	h.logger.Info("sign-in completed",
		zap.String("user_id", account.ID),
		zap.String("action", string(action)))
	c.Redirect(http.StatusFound, h.frontendURL("/auth/callback"))
}

// handleGoogleLinkStart begins attaching a provider identity to the current
// session's account.
func (h *httpHandler) handleGoogleLinkStart(c *gin.Context) {
	start, err := h.flow.Issue(c.Writer, oauth.ScopeLink, h.linkCallbackPath)
	if err != nil {
		h.logger.Error("failed to issue link flow state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start linking"})
		return
	}

	authURL, err := h.provider.AuthCodeURL(c.Request.Context(), h.config.LinkRedirectURL, start.State, start.CodeChallenge, oauth.PromptConsent)
	if err != nil {
		h.flow.Clear(c.Writer, oauth.ScopeLink, h.linkCallbackPath)
		h.logger.Error("identity provider unavailable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity provider unavailable"})
		return
	}

	c.Redirect(http.StatusFound, authURL)
}

func (h *httpHandler) handleGoogleLinkCallback(c *gin.Context) {
	currentUserID := c.GetString(userIDContextKey)

	if providerError := c.Query("error"); providerError != "" {
		h.flow.Clear(c.Writer, oauth.ScopeLink, h.linkCallbackPath)
		c.Redirect(http.StatusFound, h.frontendURL("/profile?oauth=cancelled"))
		return
	}

	expectedState, verifier, err := h.flow.Consume(c.Writer, c.Request, oauth.ScopeLink, h.linkCallbackPath)
	if err != nil {
		c.Redirect(http.StatusFound, h.frontendURL("/profile?oauth=expired"))
		return
	}

	returnedState := c.Query("state")
	code := c.Query("code")
	if code == "" || subtle.ConstantTimeCompare([]byte(expectedState), []byte(returnedState)) != 1 {
		c.Redirect(http.StatusFound, h.frontendURL("/profile?oauth=failed"))
		return
	}

	claims, err := h.provider.Exchange(c.Request.Context(), h.config.LinkRedirectURL, code, verifier)
	if err != nil {
		if errors.Is(err, oauth.ErrProviderUnavailable) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "identity provider unavailable"})
			return
		}
		h.logger.Warn("link code exchange failed", zap.Error(err))
		c.Redirect(http.StatusFound, h.frontendURL("/profile?oauth=failed"))
		return
	}

	_, action, err := h.resolver.ResolveLink(c.Request.Context(), h.provider.Name(), claims, currentUserID)
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrIdentityLinkedElsewhere):
			c.JSON(http.StatusConflict, gin.H{"error": "identity already linked to another account"})
		case errors.Is(err, oauth.ErrAccountDeactivated):
			c.JSON(http.StatusForbidden, gin.H{"error": "account is deactivated"})
		case errors.Is(err, oauth.ErrEmailNotVerified), errors.Is(err, oauth.ErrClaimsInvalid):
			c.Redirect(http.StatusFound, h.frontendURL("/profile?oauth=failed"))
		default:
			h.logger.Error("link resolution failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete linking"})
		}
		return
	}

	h.logger.Info("provider identity link completed",
		zap.String("user_id", currentUserID),
		zap.String("action", string(action)))
	c.Redirect(http.StatusFound, h.frontendURL("/profile?linked="+h.provider.Name()))
}

func (h *httpHandler) handleGoogleUnlink(c *gin.Context) {
	currentUserID := c.GetString(userIDContextKey)

	account, err := h.resolver.Unlink(c.Request.Context(), currentUserID, h.provider.Name())
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrLastLoginMethod):
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot remove the only sign-in method"})
		case errors.Is(err, users.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(err, oauth.ErrAccountDeactivated):
			c.JSON(http.StatusForbidden, gin.H{"error": "account is deactivated"})
		default:
			h.logger.Error("unlink failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unlink identity"})
		}
		return
	}

	c.JSON(http.StatusOK, profilePayload(account))
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	email := strings.TrimSpace(request.Email)
	account := &users.User{
		Email:    email,
		Username: users.UsernameFromEmail(email),
		FullName: strings.TrimSpace(request.FullName),
		IsActive: true,
		Role:     users.RoleAttendee,
	}
	if err := account.SetPassword(request.Password); err != nil {
		if errors.Is(err, users.ErrPasswordTooShort) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
			return
		}
		h.logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register"})
		return
	}

	if err := h.users.Create(c.Request.Context(), account); err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		h.logger.Error("failed to create account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register"})
		return
	}

	if err := h.establishSession(c, account.ID); err != nil {
		return
	}
	c.JSON(http.StatusCreated, profilePayload(account))
}

type localLoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *httpHandler) handleLocalLogin(c *gin.Context) {
	var request localLoginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	account, err := h.users.FindByEmail(c.Request.Context(), strings.TrimSpace(request.Email))
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.logger.Error("login lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign in"})
		return
	}
	if err := account.CheckPassword(request.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !account.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "account is deactivated"})
		return
	}

	if err := h.establishSession(c, account.ID); err != nil {
		return
	}
	c.JSON(http.StatusOK, profilePayload(account))
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	auth.ClearSessionCookie(c.Writer, h.config.SessionCookieName, h.config.SecureCookies)
	c.JSON(http.StatusOK, gin.H{"status": "signed_out"})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	account, err := h.users.FindByID(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("profile lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, profilePayload(account))
}

// establishSession mints the credential and sets the session cookie. On
// failure it writes the error response itself and reports it to the caller.
func (h *httpHandler) establishSession(c *gin.Context, userID string) error {
	credential, expiresAt, err := h.sessions.Issue(userID)
	if err != nil {
		h.logger.Error("failed to issue session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to establish session"})
		return err
	}
	auth.SetSessionCookie(c.Writer, h.config.SessionCookieName, credential, expiresAt, h.config.SecureCookies)
	return nil
}

func (h *httpHandler) frontendURL(pathAndQuery string) string {
	return strings.TrimRight(h.config.FrontendBaseURL, "/") + pathAndQuery
}

type identityPayload struct {
	Provider string `json:"provider"`
	Email    string `json:"email"`
	LinkedAt string `json:"linkedAt"`
}

type userPayload struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Username    string            `json:"username"`
	FullName    string            `json:"fullName"`
	AvatarURL   string            `json:"avatarUrl"`
	Role        string            `json:"role"`
	HasPassword bool              `json:"hasPassword"`
	Identities  []identityPayload `json:"identities"`
}

func profilePayload(account *users.User) userPayload {
	identities := make([]identityPayload, 0, len(account.Identities))
	for _, identity := range account.Identities {
		identities = append(identities, identityPayload{
			Provider: identity.Provider,
			Email:    identity.Email,
			LinkedAt: identity.LinkedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return userPayload{
		ID:          account.ID,
		Email:       account.Email,
		Username:    account.Username,
		FullName:    account.FullName,
		AvatarURL:   account.AvatarURL,
		Role:        account.Role,
		HasPassword: account.HasPassword(),
		Identities:  identities,
	}
}
