package api

import (
	"log/slog"
	"net/http"

	"github.com/jmcleod/mgmtd/auth"
)

// callerEmail returns the account behind the request. The system key has
// no account and cannot manage MFA for itself.
func (a *API) callerEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, _ := IdentityFromContext(r.Context())
	if id.User == "" {
		a.renderError(w, r, auth.ErrAccessDenied)
		return "", false
	}
	return id.User, true
}

// MFAStatus lists the caller's enrolled second factors.
func (a *API) MFAStatus(w http.ResponseWriter, r *http.Request) {
	email, ok := a.callerEmail(w, r)
	if !ok {
		return
	}
	u, err := a.users.Get(r.Context(), email)
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MFAStatusResponse{Enabled: len(u.MFA) > 0, Methods: u.MFA})
}

// SetupTOTP starts TOTP enrollment and returns the secret and otpauth URL.
func (a *API) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	email, ok := a.callerEmail(w, r)
	if !ok {
		return
	}
	setup, err := a.users.SetupTOTP(r.Context(), email, payloadFromContext(r.Context()).String("label"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditMFASetup, r, email)
	writeJSON(w, http.StatusOK, setup)
}

// EnableTOTP confirms enrollment with a current code. The MFA change
// revokes every session of the caller, including this one.
func (a *API) EnableTOTP(w http.ResponseWriter, r *http.Request) {
	email, ok := a.callerEmail(w, r)
	if !ok {
		return
	}
	id, err := a.users.EnableTOTP(r.Context(), email, payloadFromContext(r.Context()).String("code"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditMFAEnabled, r, email, slog.String("mfa_id", id))
	clearSessionCookie(w, a.adminPath)
	writeJSON(w, http.StatusOK, EnableTOTPResponse{ID: id, Reauthenticate: true})
}

// DisableMFA removes one of the caller's methods, or all of them when
// mfa_id is omitted.
func (a *API) DisableMFA(w http.ResponseWriter, r *http.Request) {
	email, ok := a.callerEmail(w, r)
	if !ok {
		return
	}
	mfaID := payloadFromContext(r.Context()).String("mfa_id")
	if err := a.users.DisableMFA(r.Context(), email, mfaID); err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditMFADisabled, r, email, slog.String("mfa_id", mfaID))
	clearSessionCookie(w, a.adminPath)
	w.WriteHeader(http.StatusNoContent)
}
