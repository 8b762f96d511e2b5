package auth

import (
	"net/http"
	"time"
)

// SetSessionCookie delivers the bearer credential as a durable httpOnly
// cookie. SameSite stays Lax because the login flow returns through top-level
// cross-site redirects.
func SetSessionCookie(w http.ResponseWriter, name, credential string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    credential,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
