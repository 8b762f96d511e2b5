package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// FlowScope distinguishes concurrent login and link flows for the same
// browser; each scope uses its own cookie pair so they cannot collide.
type FlowScope string

const (
	// ScopeLogin is an unauthenticated sign-in flow.
	ScopeLogin FlowScope = "login"
	// ScopeLink attaches a provider identity to the current session's account.
	ScopeLink FlowScope = "link"
)

const (
	flowStateTTL   = 10 * time.Minute
	flowTokenBytes = 32
)

// FlowStart carries the values the authorization URL needs. The code verifier
// itself stays in the browser cookie and never leaves for the provider.
type FlowStart struct {
	State         string
	CodeChallenge string
}

// FlowStateStore keeps the per-flow state and PKCE verifier in short-lived
// signed-origin cookies, path-scoped to the flow's callback.
type FlowStateStore struct {
	secure bool
}

// NewFlowStateStore returns a store; secure controls the cookies' Secure flag
// and should be true for any deployment reachable over HTTPS.
func NewFlowStateStore(secure bool) *FlowStateStore {
	return &FlowStateStore{secure: secure}
}

// Issue generates a fresh state and PKCE verifier, stores both in cookies
// scoped to callbackPath, and returns the state plus the derived S256
// challenge.
func (s *FlowStateStore) Issue(w http.ResponseWriter, scope FlowScope, callbackPath string) (FlowStart, error) {
	state, err := randomToken()
	if err != nil {
		return FlowStart{}, err
	}
	verifier, err := randomToken()
	if err != nil {
		return FlowStart{}, err
	}

	s.setCookie(w, stateCookieName(scope), state, callbackPath, int(flowStateTTL.Seconds()))
	s.setCookie(w, verifierCookieName(scope), verifier, callbackPath, int(flowStateTTL.Seconds()))

	return FlowStart{State: state, CodeChallenge: deriveChallenge(verifier)}, nil
}

// Consume reads the state and verifier from the request and clears both
// cookies before returning, whatever the outcome, so a callback can never be
// replayed. Returns ErrFlowExpired when either value is absent.
func (s *FlowStateStore) Consume(w http.ResponseWriter, r *http.Request, scope FlowScope, callbackPath string) (state, verifier string, err error) {
	state = cookieValue(r, stateCookieName(scope))
	verifier = cookieValue(r, verifierCookieName(scope))

	s.Clear(w, scope, callbackPath)

	if state == "" || verifier == "" {
		return "", "", ErrFlowExpired
	}
	return state, verifier, nil
}

// Clear expires both flow cookies.
func (s *FlowStateStore) Clear(w http.ResponseWriter, scope FlowScope, callbackPath string) {
	s.setCookie(w, stateCookieName(scope), "", callbackPath, -1)
	s.setCookie(w, verifierCookieName(scope), "", callbackPath, -1)
}

func (s *FlowStateStore) setCookie(w http.ResponseWriter, name, value, path string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func stateCookieName(scope FlowScope) string {
	return fmt.Sprintf("gatherly_oauth_%s_state", scope)
}

func verifierCookieName(scope FlowScope) string {
	return fmt.Sprintf("gatherly_oauth_%s_verifier", scope)
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func randomToken() (string, error) {
	buf := make([]byte, flowTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauth: failed to generate flow token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// deriveChallenge implements the RFC 7636 S256 transformation.
func deriveChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
