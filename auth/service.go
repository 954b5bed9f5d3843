// Package auth authenticates requests to the management API. It issues and
// validates bearer, session, login-confirmation and trusted-origin (CSRF)
// tokens and drives the password/TOTP login flow.
//
// Raw tokens never reach a store. Every token is hashed with HashToken and
// the hash is the lookup key, so a leaked store does not leak credentials.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmcleod/mgmtd/internal/tokenstore"
	"github.com/jmcleod/mgmtd/internal/util"
)

// DefaultVerifyTimeout bounds a single password verification.
const DefaultVerifyTimeout = 5 * time.Second

// TTLs holds the lifetime of each token kind.
type TTLs struct {
	TrustedOrigin time.Duration
	Confirmation  time.Duration
	ShortSession  time.Duration
	LongSession   time.Duration
}

// DefaultTTLs returns the production token lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{
		TrustedOrigin: 60 * time.Hour,
		Confirmation:  10 * time.Minute,
		ShortSession:  6 * time.Hour,
		LongSession:   48 * time.Hour,
	}
}

// session is the value held in both session stores.
type session struct {
	user       string
	validation string
}

type options struct {
	keyPath       string
	key           *SystemKey
	now           func() time.Time
	verifyTimeout time.Duration
	ttls          TTLs
	sweepInterval time.Duration
}

// Option configures a Service.
type Option func(*options)

// WithKeyPath sets the system key file location. Defaults to DefaultKeyPath.
func WithKeyPath(path string) Option {
	return func(o *options) {
		o.keyPath = path
	}
}

// WithSystemKey supplies an already loaded system key, skipping the key
// file bootstrap.
func WithSystemKey(k *SystemKey) Option {
	return func(o *options) {
		o.key = k
	}
}

// WithClock overrides the clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithVerifyTimeout bounds each password verification. A verification that
// does not finish in time counts as a wrong password.
func WithVerifyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.verifyTimeout = d
	}
}

// WithTTLs overrides the token lifetimes.
func WithTTLs(t TTLs) Option {
	return func(o *options) {
		o.ttls = t
	}
}

// WithSweepInterval enables periodic removal of expired tokens.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = d
	}
}

// Service is the authentication core. It is safe for concurrent use.
type Service struct {
	dir           Directory
	key           *SystemKey
	verifyTimeout time.Duration

	trustedOrigins *tokenstore.Store[struct{}]
	confirmations  *tokenstore.Store[string]
	shortSessions  *tokenstore.Store[session]
	longSessions   *tokenstore.Store[session]
}

// New creates a Service backed by dir. Unless WithSystemKey is given, the
// system key is loaded from the key file or created there; failing to do so
// is returned as an error and the Service must not be used.
func New(dir Directory, opts ...Option) (*Service, error) {
	o := options{
		keyPath:       DefaultKeyPath,
		now:           time.Now,
		verifyTimeout: DefaultVerifyTimeout,
		ttls:          DefaultTTLs(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	key := o.key
	if key == nil {
		var err error
		key, err = LoadOrCreateSystemKey(o.keyPath)
		if err != nil {
			return nil, fmt.Errorf("bootstrapping system key: %w", err)
		}
	}

	storeOpts := []tokenstore.Option{
		tokenstore.WithClock(o.now),
		tokenstore.WithSweepInterval(o.sweepInterval),
	}
	return &Service{
		dir:            dir,
		key:            key,
		verifyTimeout:  o.verifyTimeout,
		trustedOrigins: tokenstore.New[struct{}](o.ttls.TrustedOrigin, storeOpts...),
		confirmations:  tokenstore.New[string](o.ttls.Confirmation, storeOpts...),
		shortSessions:  tokenstore.New[session](o.ttls.ShortSession, storeOpts...),
		longSessions:   tokenstore.New[session](o.ttls.LongSession, storeOpts...),
	}, nil
}

// Close stops background sweepers.
func (s *Service) Close() {
	s.trustedOrigins.Close()
	s.confirmations.Close()
	s.shortSessions.Close()
	s.longSessions.Close()
}

// SystemKey returns the process-wide key.
func (s *Service) SystemKey() *SystemKey {
	return s.key
}

// TrustedOriginTTL is the lifetime of a CSRF token, used for cookie Max-Age.
func (s *Service) TrustedOriginTTL() time.Duration {
	return s.trustedOrigins.TTL()
}

// SessionTTL is the lifetime of a short or long session token.
func (s *Service) SessionTTL(long bool) time.Duration {
	if long {
		return s.longSessions.TTL()
	}
	return s.shortSessions.TTL()
}

// IssueTrustedOriginToken creates a CSRF token. A non-empty old token is
// invalidated first.
func (s *Service) IssueTrustedOriginToken(old string) (string, error) {
	if hashed, ok := hashEncoded(old); ok {
		s.trustedOrigins.Tombstone(hashed)
	}
	return issueToken(s.trustedOrigins, struct{}{})
}

// InvalidateSession revokes a session token in both session stores.
// Unknown or malformed tokens are ignored.
func (s *Service) InvalidateSession(token string) {
	hashed, ok := hashEncoded(token)
	if !ok {
		return
	}
	s.invalidateHashedSession(hashed)
}

func (s *Service) invalidateHashedSession(hashed []byte) {
	s.shortSessions.Tombstone(hashed)
	s.longSessions.Tombstone(hashed)
}

func (s *Service) issueSession(ctx context.Context, user string, long bool) (string, error) {
	validation, err := s.validationState(ctx, user)
	if err != nil {
		return "", err
	}
	store := s.shortSessions
	if long {
		store = s.longSessions
	}
	return issueToken(store, session{user: user, validation: validation})
}

func (s *Service) issueConfirmation(user string) (string, error) {
	return issueToken(s.confirmations, user)
}

// validationState binds a session to the user's current password hash and
// MFA configuration. Map keys are sorted by encoding/json, so the result is
// stable while the credentials are unchanged.
func (s *Service) validationState(ctx context.Context, user string) (string, error) {
	pwHash, err := s.dir.PasswordHash(ctx, user)
	if err != nil {
		return "", fmt.Errorf("loading password hash: %w", err)
	}
	mfa, err := s.dir.MFAState(ctx, user)
	if err != nil {
		return "", fmt.Errorf("loading MFA state: %w", err)
	}
	if mfa == nil {
		mfa = MFAState{}
	}
	state, err := json.Marshal(mfa)
	if err != nil {
		return "", fmt.Errorf("encoding MFA state: %w", err)
	}
	msg := make([]byte, 0, len(pwHash)+1+len(state))
	msg = append(msg, pwHash...)
	msg = append(msg, ' ')
	msg = append(msg, state...)
	return s.key.MAC(msg)
}

func issueToken[V any](store *tokenstore.Store[V], value V) (string, error) {
	raw, err := newRawToken()
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	defer util.WipeBytes(raw)
	store.Set(HashToken(raw), value)
	return EncodeToken(raw), nil
}
