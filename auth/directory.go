package auth

import "context"

// Capabilities understood by the privilege check.
const (
	// PrivilegeAdmin satisfies every privilege requirement.
	PrivilegeAdmin = "admin"
	// PrivilegeUser is held by every account in the directory.
	PrivilegeUser = "user"
)

// MFAState describes a user's second factors. It is opaque to this package
// apart from two properties: an empty state means MFA is disabled, and its
// JSON encoding changes whenever the configuration changes.
type MFAState []map[string]string

// Enabled reports whether any second factor is configured.
func (s MFAState) Enabled() bool {
	return len(s) > 0
}

// PasswordVerifier checks a username/password pair. It returns a non-nil
// error for unknown users and wrong passwords alike.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, user, password string) error
}

// CredentialState exposes the inputs of the validation-state token.
type CredentialState interface {
	PasswordHash(ctx context.Context, user string) (string, error)
	MFAState(ctx context.Context, user string) (MFAState, error)
}

// TOTPValidator checks a one-time code against the user's enrolled secret.
type TOTPValidator interface {
	ValidateTOTP(ctx context.Context, user, code string) error
}

// PrivilegeLookup resolves the current capability set of a user. A deleted
// user yields an error.
type PrivilegeLookup interface {
	Privileges(ctx context.Context, user string) ([]string, error)
}

// Directory is the full set of collaborators the Service consumes.
type Directory interface {
	PasswordVerifier
	CredentialState
	TOTPValidator
	PrivilegeLookup
}
