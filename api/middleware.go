package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/mgmtd/auth"
)

type contextKey int

const (
	errorMediaKey contextKey = iota
	payloadKey
	identityKey
)

const (
	sessionCookieName       = "_Host-Authentication-Token"
	trustedOriginCookieName = "_Host-Trusted-Origin-Token"
	trustedOriginHeaderName = "X-Trusted-Origin-Token"
)

// require authenticates the request and checks that the caller holds one
// of privileges. The system key is tried first and, when it matches, the
// trusted-origin check is skipped: headless callers cannot hold a cookie
// pair. Otherwise the session cookie must be valid and the trusted-origin
// pair is enforced at the given strictness.
func (a *API) require(strictness TrustedOriginStrictness, privileges ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.auth.AuthenticateBearer(r.Header.Get("Authorization"))
			if err != nil {
				id, err = a.auth.AuthenticateSession(r.Context(), cookieValue(r, sessionCookieName))
				if err != nil {
					a.audit.logFailure(AuditAuthFailure, r, failureReason(err))
					a.renderError(w, r, err)
					return
				}
				if !a.enforceTrustedOrigin(w, r, strictness) {
					return
				}
			}

			if !id.HasAny(privileges...) {
				a.audit.logEvent(AuditAccessDenied, r, id.User,
					slog.String("required", strings.Join(privileges, ",")))
				a.renderError(w, r, auth.ErrAccessDenied)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the caller established by the privilege
// middleware.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// failureReason returns the stable code of an auth failure for logs.
func failureReason(err error) string {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return "unexpected"
}

func writeSessionCookie(w http.ResponseWriter, path, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
