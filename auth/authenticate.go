package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"strings"
)

// Method records how an Identity was established.
type Method string

const (
	MethodBearer  Method = "bearer"
	MethodSession Method = "session"
)

// Identity is an authenticated principal. User is empty for the system key.
type Identity struct {
	User       string
	Privileges []string
	Method     Method
}

// HasAny reports whether the identity holds at least one of required.
// The admin capability satisfies any requirement.
func (id Identity) HasAny(required ...string) bool {
	if slices.Contains(id.Privileges, PrivilegeAdmin) {
		return true
	}
	for _, p := range required {
		if slices.Contains(id.Privileges, p) {
			return true
		}
	}
	return false
}

// CheckTrustedOrigin validates a double-submit CSRF pair. cookie is the
// trusted-origin cookie value and header the X-Trusted-Origin-Token header,
// empty when absent. The cookie is checked against the store before the
// header is looked at.
func (s *Service) CheckTrustedOrigin(cookie, header string) error {
	hashed, ok := hashEncoded(cookie)
	if !ok {
		return ErrTrustedOriginTokenInvalid
	}
	if _, ok := s.trustedOrigins.Get(hashed); !ok {
		return ErrTrustedOriginTokenInvalid
	}
	if header == "" {
		return ErrTrustedOriginHeaderMissing
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) != 1 {
		return ErrTrustedOriginHeaderMismatch
	}
	return nil
}

// AuthenticateBearer checks an Authorization header value against the
// system key. A match yields an administrator identity with no user.
func (s *Service) AuthenticateBearer(authorization string) (Identity, error) {
	token, ok := parseBearer(authorization)
	if !ok {
		return Identity{}, ErrTokenInvalid
	}
	hashed, ok := hashEncoded(token)
	if !ok || !s.key.Matches(hashed) {
		return Identity{}, ErrTokenInvalid
	}
	return Identity{Privileges: []string{PrivilegeAdmin}, Method: MethodBearer}, nil
}

func parseBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || scheme != "Bearer" {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthenticateSession resolves a session cookie to its user. A session whose
// validation state no longer matches the user's credentials is revoked.
func (s *Service) AuthenticateSession(ctx context.Context, cookie string) (Identity, error) {
	hashed, ok := hashEncoded(cookie)
	if !ok {
		return Identity{}, ErrTokenInvalid
	}
	sess, ok := s.shortSessions.Get(hashed)
	if !ok {
		sess, ok = s.longSessions.Get(hashed)
	}
	if !ok {
		return Identity{}, ErrTokenInvalid
	}

	current, err := s.validationState(ctx, sess.user)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if subtle.ConstantTimeCompare([]byte(current), []byte(sess.validation)) != 1 {
		s.invalidateHashedSession(hashed)
		return Identity{}, ErrTokenInvalid
	}

	privs, err := s.dir.Privileges(ctx, sess.user)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: looking up privileges: %w", ErrTokenInvalid, err)
	}
	return Identity{User: sess.user, Privileges: privs, Method: MethodSession}, nil
}
