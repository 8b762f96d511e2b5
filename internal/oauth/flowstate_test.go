package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func issueAndCapture(t *testing.T, store *FlowStateStore, scope FlowScope, path string) (FlowStart, []*http.Cookie) {
	t.Helper()
	recorder := httptest.NewRecorder()
	start, err := store.Issue(recorder, scope, path)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	return start, recorder.Result().Cookies()
}

func TestIssueSetsScopedShortLivedCookies(t *testing.T) {
	store := NewFlowStateStore(true)
	start, cookies := issueAndCapture(t, store, ScopeLogin, "/auth/google/callback")

	if start.State == "" || start.CodeChallenge == "" {
		t.Fatalf("expected state and challenge, got %#v", start)
	}
	if len(cookies) != 2 {
		t.Fatalf("expected two flow cookies, got %d", len(cookies))
	}
	for _, cookie := range cookies {
		if cookie.Path != "/auth/google/callback" {
			t.Fatalf("expected cookie scoped to callback path, got %q", cookie.Path)
		}
		if cookie.MaxAge != 600 {
			t.Fatalf("expected 10-minute max-age, got %d", cookie.MaxAge)
		}
		if !cookie.HttpOnly || !cookie.Secure {
			t.Fatalf("expected httpOnly secure cookie, got %#v", cookie)
		}
		if cookie.SameSite != http.SameSiteLaxMode {
			t.Fatalf("expected SameSite=Lax, got %v", cookie.SameSite)
		}
	}
}

func TestChallengeIsS256OfVerifier(t *testing.T) {
	store := NewFlowStateStore(false)
	start, cookies := issueAndCapture(t, store, ScopeLogin, "/auth/google/callback")

	var verifier string
	for _, cookie := range cookies {
		if cookie.Name == verifierCookieName(ScopeLogin) {
			verifier = cookie.Value
		}
	}
	if verifier == "" {
		t.Fatalf("verifier cookie not set")
	}

	sum := sha256.Sum256([]byte(verifier))
	expected := base64.RawURLEncoding.EncodeToString(sum[:])
	if start.CodeChallenge != expected {
		t.Fatalf("challenge is not S256(verifier): got %q want %q", start.CodeChallenge, expected)
	}
}

func TestConsumeReturnsValuesAndClearsCookies(t *testing.T) {
	store := NewFlowStateStore(false)
	start, cookies := issueAndCapture(t, store, ScopeLogin, "/auth/google/callback")

	request := httptest.NewRequest(http.MethodGet, "/auth/google/callback", http.NoBody)
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()

	state, verifier, err := store.Consume(recorder, request, ScopeLogin, "/auth/google/callback")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if state != start.State {
		t.Fatalf("unexpected state %q", state)
	}
	if verifier == "" {
		t.Fatalf("expected verifier value")
	}

	cleared := recorder.Result().Cookies()
	if len(cleared) != 2 {
		t.Fatalf("expected both cookies cleared, got %d", len(cleared))
	}
	for _, cookie := range cleared {
		if cookie.MaxAge >= 0 {
			t.Fatalf("expected expired cookie, got max-age %d", cookie.MaxAge)
		}
	}
}

func TestConsumeFailsClosedOnMissingCookies(t *testing.T) {
	store := NewFlowStateStore(false)

	request := httptest.NewRequest(http.MethodGet, "/auth/google/callback", http.NoBody)
	recorder := httptest.NewRecorder()

	_, _, err := store.Consume(recorder, request, ScopeLogin, "/auth/google/callback")
	if !errors.Is(err, ErrFlowExpired) {
		t.Fatalf("expected ErrFlowExpired, got %v", err)
	}

	// Cookies are still cleared on the error path so a poisoned retry cannot replay.
	if got := len(recorder.Result().Cookies()); got != 2 {
		t.Fatalf("expected clearing cookies even on failure, got %d", got)
	}
}

func TestLoginAndLinkScopesDoNotCollide(t *testing.T) {
	store := NewFlowStateStore(false)

	loginStart, loginCookies := issueAndCapture(t, store, ScopeLogin, "/auth/google/callback")
	linkStart, linkCookies := issueAndCapture(t, store, ScopeLink, "/auth/google/link/callback")

	if loginStart.State == linkStart.State {
		t.Fatalf("expected independent states per scope")
	}

	names := map[string]bool{}
	for _, cookie := range append(loginCookies, linkCookies...) {
		if names[cookie.Name] {
			t.Fatalf("cookie name collision between scopes: %s", cookie.Name)
		}
		names[cookie.Name] = true
	}

	// Consuming the link scope must not see login cookies.
	request := httptest.NewRequest(http.MethodGet, "/auth/google/link/callback", http.NoBody)
	for _, cookie := range loginCookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	_, _, err := store.Consume(recorder, request, ScopeLink, "/auth/google/link/callback")
	if !errors.Is(err, ErrFlowExpired) {
		t.Fatalf("expected link consume to ignore login cookies, got %v", err)
	}
}
