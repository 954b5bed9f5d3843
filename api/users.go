package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

// ListUsers returns a page of accounts.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.users.List(r.Context())
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	limit, offset := parsePagination(r)
	page, meta := paginate(users, limit, offset)
	writeJSON(w, http.StatusOK, ListUsersResponse{Users: page, PaginationMeta: meta})
}

// GetUser returns one account.
func (a *API) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.users.Get(r.Context(), emailParam(r))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CreateUser adds an account from email, password and privileges.
func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	p := payloadFromContext(r.Context())
	email := p.String("email")
	privs, ok := p.Strings("privileges")
	if !ok && p["privileges"] != nil {
		a.renderError(w, r, errContentMalformed)
		return
	}
	if err := a.users.Add(r.Context(), email, p.String("password"), privs); err != nil {
		a.renderError(w, r, err)
		return
	}
	u, err := a.users.Get(r.Context(), email)
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditUserCreated, r, u.Email, a.actor(r))
	writeJSON(w, http.StatusCreated, u)
}

// DeleteUser removes an account. Its sessions stop validating on next use.
func (a *API) DeleteUser(w http.ResponseWriter, r *http.Request) {
	email := emailParam(r)
	if err := a.users.Delete(r.Context(), email); err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditUserDeleted, r, email, a.actor(r))
	w.WriteHeader(http.StatusNoContent)
}

// SetUserPassword replaces an account's password, revoking its sessions.
func (a *API) SetUserPassword(w http.ResponseWriter, r *http.Request) {
	email := emailParam(r)
	if err := a.users.SetPassword(r.Context(), email, payloadFromContext(r.Context()).String("password")); err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditPasswordChanged, r, email, a.actor(r))
	w.WriteHeader(http.StatusNoContent)
}

// SetUserPrivileges replaces an account's privileges.
func (a *API) SetUserPrivileges(w http.ResponseWriter, r *http.Request) {
	email := emailParam(r)
	privs, ok := payloadFromContext(r.Context()).Strings("privileges")
	if !ok {
		a.renderError(w, r, errContentMalformed)
		return
	}
	if err := a.users.SetPrivileges(r.Context(), email, privs); err != nil {
		a.renderError(w, r, err)
		return
	}
	u, err := a.users.Get(r.Context(), email)
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditPrivilegesChanged, r, u.Email, a.actor(r),
		slog.String("privileges", strings.Join(u.Privileges, ",")))
	writeJSON(w, http.StatusOK, u)
}

// DisableUserMFA removes every second factor of an account, for users who
// lost their authenticator.
func (a *API) DisableUserMFA(w http.ResponseWriter, r *http.Request) {
	email := emailParam(r)
	if err := a.users.DisableMFA(r.Context(), email, ""); err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditMFADisabled, r, email, a.actor(r))
	w.WriteHeader(http.StatusNoContent)
}

// ListAuditEvents returns persisted audit entries, newest first.
func (a *API) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if a.audit.store == nil {
		writeJSON(w, http.StatusOK, ListAuditResponse{Entries: []AuditEntry{}})
		return
	}
	entries, err := ListAuditEntries(a.audit.store.repo, AuditEvent(r.URL.Query().Get("event")))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	limit, offset := parsePagination(r)
	page, meta := paginate(entries, limit, offset)
	writeJSON(w, http.StatusOK, ListAuditResponse{Entries: page, PaginationMeta: meta})
}

// actor identifies who performed an admin action.
func (a *API) actor(r *http.Request) slog.Attr {
	id, _ := IdentityFromContext(r.Context())
	if id.User == "" {
		return slog.String("actor", "system")
	}
	return slog.String("actor", id.User)
}
