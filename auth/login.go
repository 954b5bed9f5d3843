package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// LoginRequest carries one step of the login flow. The first step sends
// Username and Password; the MFA step sends ConfirmationToken and TOTPCode.
type LoginRequest struct {
	Username          string
	Password          string
	LongLived         bool
	ConfirmationToken string
	TOTPCode          string
}

// LoginStatus discriminates the outcome of a successful login step.
type LoginStatus int

const (
	// LoginAuthenticated means SessionToken is set.
	LoginAuthenticated LoginStatus = iota
	// LoginMFARequired means ConfirmationToken is set and a TOTP code must
	// be submitted with it.
	LoginMFARequired
)

func (s LoginStatus) String() string {
	switch s {
	case LoginAuthenticated:
		return "authenticated"
	case LoginMFARequired:
		return "mfa_required"
	default:
		return fmt.Sprintf("LoginStatus(%d)", int(s))
	}
}

// LoginResult is the outcome of a login step that did not fail.
type LoginResult struct {
	Status            LoginStatus
	User              string
	SessionToken      string
	LongLived         bool
	ConfirmationToken string
}

// Login advances the login flow by one step. Failures are *Error values:
// ErrUserPasswordInvalid, ErrConfirmationTokenInvalid or ErrMFAAuthInvalid.
//
// A wrong TOTP code leaves the confirmation token usable until it expires.
// A correct one consumes it.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if req.ConfirmationToken != "" {
		return s.confirmLogin(ctx, req)
	}

	if req.Username == "" || req.Password == "" {
		return LoginResult{}, ErrUserPasswordInvalid
	}
	if err := s.verifyPassword(ctx, req.Username, req.Password); err != nil {
		return LoginResult{}, fmt.Errorf("%w: %w", ErrUserPasswordInvalid, err)
	}

	mfa, err := s.dir.MFAState(ctx, req.Username)
	if err != nil {
		return LoginResult{}, fmt.Errorf("loading MFA state: %w", err)
	}
	if mfa.Enabled() {
		token, err := s.issueConfirmation(req.Username)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{Status: LoginMFARequired, User: req.Username, ConfirmationToken: token}, nil
	}
	return s.completeLogin(ctx, req.Username, req.LongLived)
}

// ConfirmationUser returns the user a live confirmation token is bound to.
// The token is not consumed.
func (s *Service) ConfirmationUser(token string) (string, bool) {
	hashed, ok := hashEncoded(token)
	if !ok {
		return "", false
	}
	return s.confirmations.Get(hashed)
}

func (s *Service) confirmLogin(ctx context.Context, req LoginRequest) (LoginResult, error) {
	hashed, ok := hashEncoded(req.ConfirmationToken)
	if !ok {
		return LoginResult{}, ErrConfirmationTokenInvalid
	}
	user, ok := s.confirmations.Get(hashed)
	if !ok {
		return LoginResult{}, ErrConfirmationTokenInvalid
	}
	if req.Username != "" && subtle.ConstantTimeCompare([]byte(req.Username), []byte(user)) != 1 {
		return LoginResult{}, ErrConfirmationTokenInvalid
	}

	if req.TOTPCode == "" {
		return LoginResult{}, ErrMFAAuthInvalid
	}
	if err := s.dir.ValidateTOTP(ctx, user, req.TOTPCode); err != nil {
		return LoginResult{}, fmt.Errorf("%w: %w", ErrMFAAuthInvalid, err)
	}

	s.confirmations.Tombstone(hashed)
	return s.completeLogin(ctx, user, req.LongLived)
}

func (s *Service) completeLogin(ctx context.Context, user string, long bool) (LoginResult, error) {
	token, err := s.issueSession(ctx, user, long)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Status: LoginAuthenticated, User: user, SessionToken: token, LongLived: long}, nil
}

// verifyPassword runs the verifier under the configured timeout. The
// verifier may ignore ctx, so the result is raced against the deadline.
func (s *Service) verifyPassword(ctx context.Context, user, password string) error {
	if s.verifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.verifyTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- s.dir.VerifyPassword(ctx, user, password)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("password verification: %w", ctx.Err())
	}
}
