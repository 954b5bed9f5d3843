package api

import "github.com/jmcleod/mgmtd/userdir"

// LoginResponse is returned by POST /login. Exactly one of Token and
// ConfirmationToken is set, depending on NeedsMFA.
type LoginResponse struct {
	NeedsMFA          bool   `json:"needs_mfa"`
	Token             string `json:"token,omitempty"`
	LongLived         bool   `json:"long_lived,omitempty"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
}

// MeResponse describes the authenticated caller. User is null for the
// system key.
type MeResponse struct {
	User       *string  `json:"user"`
	Privileges []string `json:"privileges"`
	Method     string   `json:"method"`
}

// MFAStatusResponse lists the caller's second factors.
type MFAStatusResponse struct {
	Enabled bool              `json:"enabled"`
	Methods []userdir.MFAInfo `json:"methods"`
}

// EnableTOTPResponse is returned once a TOTP method is enrolled. The
// caller's session is revoked by the MFA change and must log in again.
type EnableTOTPResponse struct {
	ID             string `json:"id"`
	Reauthenticate bool   `json:"reauthenticate"`
}

// ListUsersResponse is a page of accounts.
type ListUsersResponse struct {
	Users []userdir.User `json:"users"`
	PaginationMeta
}

// ListAuditResponse is a page of persisted audit entries.
type ListAuditResponse struct {
	Entries []AuditEntry `json:"entries"`
	PaginationMeta
}
