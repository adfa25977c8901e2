package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/patrickcsouzadev/todo-app/audit"
	"github.com/patrickcsouzadev/todo-app/auth"
	"github.com/patrickcsouzadev/todo-app/storage"
)

type contextKey int

const userKey contextKey = iota

// RequireSession authenticates the session cookie and stores the user on
// the request context. Invalid or missing sessions get a 401 and an
// INVALID_TOKEN security event.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := auth.SessionFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		user, err := a.auth.CurrentUser(r.Context(), raw)
		if err != nil {
			a.audit.InvalidToken(r.Context(), "session", a.requestInfo(r), "", nil)
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) *storage.User {
	user, _ := ctx.Value(userKey).(*storage.User)
	return user
}

// RateTracking records each request against its (client IP, endpoint)
// pair and emits a security event when the one-minute volume crosses the
// threshold. It observes and reports; the actual request gate lives
// upstream.
func (a *API) RateTracking(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		endpoint := r.URL.Path
		if err := a.repo.CreateRateLimitEntry(r.Context(), &storage.RateLimitEntry{
			Key:      ip,
			Endpoint: endpoint,
		}); err != nil {
			a.log.Error("failed to record rate entry", "endpoint", endpoint, "error", err)
		}

		results, err := a.detector.RunRate(r.Context(), ip, endpoint)
		if err != nil {
			a.log.Error("rate anomaly detection failed", "endpoint", endpoint, "error", err)
		}
		for _, res := range results {
			a.audit.RateLimitViolation(r.Context(), endpoint, a.requestInfo(r), "", res.Metadata)
		}

		next.ServeHTTP(w, r)
	})
}

// RequireCronSecret guards the operational endpoints with a bearer secret.
func (a *API) RequireCronSecret(next http.Handler) http.Handler {
	return a.requireBearer(next, a.cronSecret)
}

// RequireDeploySecret guards the deploy endpoint with its own secret.
func (a *API) RequireDeploySecret(next http.Handler) http.Handler {
	return a.requireBearer(next, a.deploySecret)
}

func (a *API) requireBearer(next http.Handler, enclave *memguard.Enclave) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if enclave == nil {
			writeError(w, http.StatusUnauthorized, "endpoint is not enabled")
			return
		}
		presented, ok := bearerToken(r)
		if !ok {
			a.audit.UnauthorizedAccess(r.Context(), "SECURITY", r.URL.Path, a.requestInfo(r), "", nil)
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		buf, err := enclave.Open()
		if err != nil {
			a.writeInternalError(w, "failed to open secret enclave", err)
			return
		}
		match := subtle.ConstantTimeCompare(buf.Bytes(), []byte(presented)) == 1
		buf.Destroy()
		if !match {
			a.audit.UnauthorizedAccess(r.Context(), "SECURITY", r.URL.Path, a.requestInfo(r), "", nil)
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return h[len(prefix):], true
}

// clientIP returns the best-effort client address: the first entry of
// X-Forwarded-For, then X-Real-IP, then the connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

func (a *API) requestInfo(r *http.Request) audit.RequestInfo {
	return audit.RequestInfo{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}
