package auth

import (
	"net/http"

	"github.com/patrickcsouzadev/todo-app/token"
)

// CookieName carries the session token. The __Host- prefix forces Secure,
// Path=/ and no Domain attribute, so the cookie cannot be set by a
// subdomain.
const CookieName = "__Host-auth-token"

// SetSessionCookie writes the session cookie. It is called on login and on
// every privilege change, such as after MFA verification.
func SetSessionCookie(w http.ResponseWriter, sessionToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionToken,
		Path:     "/",
		MaxAge:   int(token.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie overwrites the cookie with an empty value and zero
// max-age rather than relying on deletion semantics alone.
func ClearSessionCookie(w http.ResponseWriter) {
	// MaxAge -1 serializes as Max-Age=0 on the wire.
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// SessionFromRequest extracts the raw session token from the request
// cookie.
func SessionFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
