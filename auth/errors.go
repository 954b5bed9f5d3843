package auth

// Error is a client-caused authentication failure with a stable
// machine-readable code. Compare with errors.Is against the sentinels below.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// ErrTrustedOriginTokenInvalid: the CSRF cookie is missing, unknown or expired.
	ErrTrustedOriginTokenInvalid = &Error{
		Code:    "TRUSTED_ORIGIN_TOKEN_INVALID",
		Message: "The Trusted-Origin token is either missing or invalid.",
	}
	// ErrTrustedOriginHeaderMissing: the CSRF cookie is valid but the echo header was not sent.
	ErrTrustedOriginHeaderMissing = &Error{
		Code:    "TRUSTED_ORIGIN_HEADER_MISSING",
		Message: "The X-Trusted-Origin-Token HTTP header is missing.",
	}
	// ErrTrustedOriginHeaderMismatch: the echo header differs from the cookie.
	ErrTrustedOriginHeaderMismatch = &Error{
		Code:    "TRUSTED_ORIGIN_HEADER_MISMATCH",
		Message: "The Trusted-Origin-Token cookie and X-Trusted-Origin-Token header do not match.",
	}

	// ErrTokenInvalid: a bearer key or session token is missing, invalid or revoked.
	ErrTokenInvalid = &Error{
		Code:    "AUTH_STATUS_TOKEN_INVALID",
		Message: "Authentication token is missing, invalid or has been revoked.",
	}

	// ErrUserPasswordInvalid covers both unknown users and wrong passwords.
	ErrUserPasswordInvalid = &Error{
		Code:    "LOGIN_STATUS_USER_PASSWORD_INVALID",
		Message: "Incorrect user or password.",
	}
	ErrMFAAuthInvalid = &Error{
		Code:    "LOGIN_STATUS_MFA_AUTH_INVALID",
		Message: "The TOTP token is incorrect.",
	}
	ErrConfirmationTokenInvalid = &Error{
		Code:    "LOGIN_STATUS_CONFIRMATION_TOKEN_INVALID",
		Message: "The 2FA login window has expired and is now invalid. Please log in again.",
	}

	ErrAccessDenied = &Error{
		Code:    "USER_PRIVILEGES_ACCESS_DENIED",
		Message: "You don't have enough privileges to access this resource.",
	}
)
