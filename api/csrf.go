package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/mgmtd/auth"
)

// TrustedOriginStrictness selects which trusted-origin failures reject a
// request. A header that disagrees with the cookie is always rejected.
type TrustedOriginStrictness int

const (
	// TrustedOriginLenient rejects only a header/cookie mismatch.
	TrustedOriginLenient TrustedOriginStrictness = iota
	// TrustedOriginStandard also rejects a missing or unknown cookie.
	TrustedOriginStandard
	// TrustedOriginStrict also rejects a missing header.
	TrustedOriginStrict
)

func (s TrustedOriginStrictness) blocks(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, auth.ErrTrustedOriginHeaderMismatch):
		return true
	case errors.Is(err, auth.ErrTrustedOriginTokenInvalid):
		return s >= TrustedOriginStandard
	case errors.Is(err, auth.ErrTrustedOriginHeaderMissing):
		return s >= TrustedOriginStrict
	default:
		return true
	}
}

// trustedOrigin enforces the double-submit pair on routes that do not
// authenticate, such as login.
func (a *API) trustedOrigin(strictness TrustedOriginStrictness) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.enforceTrustedOrigin(w, r, strictness) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// enforceTrustedOrigin checks the trusted-origin cookie against the echo
// header. The cookie is rotated on every outcome except a missing header,
// so a client that never echoes keeps its token. It returns false after
// writing the rejection.
func (a *API) enforceTrustedOrigin(w http.ResponseWriter, r *http.Request, strictness TrustedOriginStrictness) bool {
	cookie := cookieValue(r, trustedOriginCookieName)
	err := a.auth.CheckTrustedOrigin(cookie, r.Header.Get(trustedOriginHeaderName))

	if !errors.Is(err, auth.ErrTrustedOriginHeaderMissing) {
		a.rotateTrustedOrigin(w, r, cookie)
	}
	if !strictness.blocks(err) {
		return true
	}

	a.audit.logFailure(AuditCSRFRejected, r, failureReason(err),
		slog.Int("strictness", int(strictness)))
	a.renderError(w, r, err)
	return false
}

func (a *API) rotateTrustedOrigin(w http.ResponseWriter, r *http.Request, old string) {
	token, err := a.auth.IssueTrustedOriginToken(old)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "issuing trusted-origin token", slog.String("error", err.Error()))
		return
	}
	// Readable by script so the client can echo it in the header.
	http.SetCookie(w, &http.Cookie{
		Name:     trustedOriginCookieName,
		Value:    token,
		Path:     a.adminPath,
		MaxAge:   int(a.auth.TrustedOriginTTL().Seconds()),
		HttpOnly: false,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
