package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/mgmtd/auth"
	"github.com/jmcleod/mgmtd/internal/util"
)

// Login runs one step of the login flow. The first step carries username
// and password; if the account has MFA the response holds a confirmation
// token that must be sent back with a TOTP code.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	p := payloadFromContext(r.Context())
	req := auth.LoginRequest{
		Username:          util.NormalizeAccount(p.String("username")),
		Password:          p.String("password"),
		LongLived:         p.Bool("long_lived"),
		ConfirmationToken: p.String("confirmation_token"),
		TOTPCode:          p.String("totp_token"),
	}
	ip := a.extractClientIP(r)

	// The MFA step may omit the username; throttle the account the
	// confirmation token belongs to.
	account := req.Username
	if req.ConfirmationToken != "" {
		if user, ok := a.auth.ConfirmationUser(req.ConfirmationToken); ok {
			account = user
		}
	}

	if blocked, retry := a.limiter.check(account, ip); blocked {
		a.audit.log(AuditLoginRateLimited, r, account, errRateLimited.Code)
		w.Header().Set("Retry-After", retryAfterString(retry))
		a.renderError(w, r, errRateLimited)
		return
	}

	res, err := a.auth.Login(r.Context(), req)
	if err != nil {
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			a.limiter.recordFailure(account, ip)
			a.audit.log(AuditLoginFailure, r, account, authErr.Code)
		}
		a.renderError(w, r, err)
		return
	}

	if res.Status == auth.LoginMFARequired {
		a.audit.logEvent(AuditMFARequired, r, res.User)
		writeJSON(w, http.StatusOK, LoginResponse{NeedsMFA: true, ConfirmationToken: res.ConfirmationToken})
		return
	}

	a.limiter.recordSuccess(res.User, ip)
	a.audit.logEvent(AuditLoginSuccess, r, res.User, slog.Bool("long_lived", res.LongLived))
	writeSessionCookie(w, a.adminPath, res.SessionToken, int(a.auth.SessionTTL(res.LongLived).Seconds()))
	writeJSON(w, http.StatusOK, LoginResponse{Token: res.SessionToken, LongLived: res.LongLived})
}

// Logout revokes the caller's session cookie.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	if id.Method == auth.MethodSession {
		a.auth.InvalidateSession(cookieValue(r, sessionCookieName))
		clearSessionCookie(w, a.adminPath)
	}
	a.audit.logEvent(AuditLogout, r, id.User)
	w.WriteHeader(http.StatusNoContent)
}

// Me describes the authenticated caller.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	resp := MeResponse{Privileges: id.Privileges, Method: string(id.Method)}
	if id.User != "" {
		resp.User = &id.User
	}
	if resp.Privileges == nil {
		resp.Privileges = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}
