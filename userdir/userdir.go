// Package userdir stores administrative user accounts and implements the
// credential collaborators consumed by the auth package: password
// verification, password-hash and MFA-state lookup, TOTP validation and
// privilege lookup.
//
// Each account is one sealed record in a storage.Repository. Records are
// updated with compare-and-swap on their version so concurrent admin
// operations never silently overwrite each other.
package userdir

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/mgmtd/auth"
	"github.com/jmcleod/mgmtd/internal/util"
	"github.com/jmcleod/mgmtd/storage"
)

const (
	namespace     = "__users"
	recordType    = "USER"
	aadPrefix     = "user:"
	casAttempts   = 3
	minPassLength = 8

	// SealKeyInfo is the HKDF info string for the record-sealing key
	// derived from the system key.
	SealKeyInfo = "mgmtd:userdir:v1"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrWeakPassword     = errors.New("password must be at least 8 characters and contain no spaces")
	ErrInvalidPrivilege = errors.New("invalid privilege")
	ErrWrongPassword    = errors.New("wrong password")
	ErrInvalidTOTPCode  = errors.New("invalid TOTP code")
	ErrNoPendingTOTP    = errors.New("no TOTP setup in progress")
	ErrMFANotFound      = errors.New("MFA method not found")
	ErrConflict         = errors.New("concurrent update, try again")
)

// User is the public view of an account.
type User struct {
	Email      string    `json:"email"`
	Privileges []string  `json:"privileges"`
	MFA        []MFAInfo `json:"mfa"`
	CreatedAt  time.Time `json:"created_at"`
}

// MFAInfo describes an enrolled second factor without its secret.
type MFAInfo struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label"`
}

type userRecord struct {
	Email        string       `json:"email"`
	PasswordHash string       `json:"password_hash"`
	Privileges   []string     `json:"privileges,omitempty"`
	MFA          []mfaRecord  `json:"mfa,omitempty"`
	PendingTOTP  *pendingTOTP `json:"pending_totp,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

type mfaRecord struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Label    string `json:"label"`
	Secret   string `json:"secret"`
	LastCode string `json:"last_code,omitempty"`
}

type pendingTOTP struct {
	Secret    string    `json:"secret"`
	Label     string    `json:"label"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Option configures a Directory.
type Option func(*Directory)

// WithArgon2Params overrides the password hashing cost.
func WithArgon2Params(p util.Argon2idParams) Option {
	return func(d *Directory) {
		d.params = p
	}
}

// WithClock overrides the clock used for TOTP and timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		d.now = now
	}
}

// WithIssuer sets the issuer shown in authenticator apps.
func WithIssuer(issuer string) Option {
	return func(d *Directory) {
		d.issuer = issuer
	}
}

// Directory is a repository-backed user store. It satisfies auth.Directory.
type Directory struct {
	repo    storage.Repository
	sealKey []byte
	params  util.Argon2idParams
	now     func() time.Time
	issuer  string

	dummyOnce sync.Once
	dummyHash string
}

var _ auth.Directory = (*Directory)(nil)

// New returns a Directory over repo. sealKey encrypts records at rest and
// must be 32 bytes.
func New(repo storage.Repository, sealKey []byte, opts ...Option) *Directory {
	d := &Directory{
		repo:    repo,
		sealKey: util.CopyBytes(sealKey),
		params:  util.DefaultArgon2idParams(),
		now:     time.Now,
		issuer:  "mgmtd",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Add creates an account. The implicit user privilege is never stored.
func (d *Directory) Add(ctx context.Context, email, password string, privileges []string) error {
	email, err := validateEmail(email)
	if err != nil {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	privs, err := normalizePrivileges(privileges)
	if err != nil {
		return err
	}
	hash, err := util.HashPassword(util.Normalize(password), d.params)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	rec := &userRecord{
		Email:        email,
		PasswordHash: hash,
		Privileges:   privs,
		CreatedAt:    d.now().UTC(),
	}
	if err := d.save(rec, 0); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return ErrUserExists
		}
		return err
	}
	return nil
}

// Get returns the public view of one account.
func (d *Directory) Get(ctx context.Context, email string) (User, error) {
	rec, _, err := d.load(email)
	if err != nil {
		return User{}, err
	}
	return rec.public(), nil
}

// List returns every account sorted by email.
func (d *Directory) List(ctx context.Context) ([]User, error) {
	ids, err := d.repo.List(namespace, recordType)
	if err != nil {
		if errors.Is(err, storage.ErrNamespaceNotFound) {
			return []User{}, nil
		}
		return nil, fmt.Errorf("listing users: %w", err)
	}
	sort.Strings(ids)
	users := make([]User, 0, len(ids))
	for _, id := range ids {
		rec, _, err := d.load(id)
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, rec.public())
	}
	return users, nil
}

// Delete removes an account.
func (d *Directory) Delete(ctx context.Context, email string) error {
	err := d.repo.Delete(namespace, recordType, util.NormalizeAccount(email))
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return ErrUserNotFound
	}
	return err
}

// SetPassword replaces the password. Existing sessions stop validating
// because the password hash changes.
func (d *Directory) SetPassword(ctx context.Context, email, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	hash, err := util.HashPassword(util.Normalize(password), d.params)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return d.update(email, func(rec *userRecord) error {
		rec.PasswordHash = hash
		return nil
	})
}

// SetPrivileges replaces the stored privileges.
func (d *Directory) SetPrivileges(ctx context.Context, email string, privileges []string) error {
	privs, err := normalizePrivileges(privileges)
	if err != nil {
		return err
	}
	return d.update(email, func(rec *userRecord) error {
		rec.Privileges = privs
		return nil
	})
}

// VerifyPassword checks a login attempt. Unknown users cost the same as a
// wrong password.
func (d *Directory) VerifyPassword(ctx context.Context, email, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, _, err := d.load(email)
	if errors.Is(err, ErrUserNotFound) {
		util.ComparePassword(util.Normalize(password), d.dummy())
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	ok, err := util.ComparePassword(util.Normalize(password), rec.PasswordHash)
	if err != nil {
		return fmt.Errorf("comparing password: %w", err)
	}
	if !ok {
		return ErrWrongPassword
	}
	return nil
}

// PasswordHash returns the stored encoded password hash.
func (d *Directory) PasswordHash(ctx context.Context, email string) (string, error) {
	rec, _, err := d.load(email)
	if err != nil {
		return "", err
	}
	return rec.PasswordHash, nil
}

// MFAState describes the enrolled factors. Secrets are represented by a
// digest so the state changes when a secret is replaced.
func (d *Directory) MFAState(ctx context.Context, email string) (auth.MFAState, error) {
	rec, _, err := d.load(email)
	if err != nil {
		return nil, err
	}
	state := make(auth.MFAState, 0, len(rec.MFA))
	for _, m := range rec.MFA {
		sum := sha256.Sum256([]byte(m.Secret))
		state = append(state, map[string]string{
			"id":            m.ID,
			"type":          m.Type,
			"label":         m.Label,
			"secret_digest": hex.EncodeToString(sum[:]),
		})
	}
	return state, nil
}

// Privileges returns the stored privileges plus the implicit user
// privilege.
func (d *Directory) Privileges(ctx context.Context, email string) ([]string, error) {
	rec, _, err := d.load(email)
	if err != nil {
		return nil, err
	}
	return append([]string{auth.PrivilegeUser}, rec.Privileges...), nil
}

func (d *Directory) dummy() string {
	d.dummyOnce.Do(func() {
		d.dummyHash, _ = util.HashPassword("dummy password", d.params)
	})
	return d.dummyHash
}

func (d *Directory) load(email string) (*userRecord, uint64, error) {
	id := util.NormalizeAccount(email)
	if id == "" {
		return nil, 0, ErrUserNotFound
	}
	env, err := d.repo.Get(namespace, recordType, id)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return nil, 0, ErrUserNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("loading user %s: %w", id, err)
	}
	data, err := storage.OpenRecord(d.sealKey, env, []byte(aadPrefix+id))
	if err != nil {
		return nil, 0, fmt.Errorf("opening user %s: %w", id, err)
	}
	defer util.WipeBytes(data)
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, 0, fmt.Errorf("decoding user %s: %w", id, err)
	}
	return &rec, env.Version, nil
}

func (d *Directory) save(rec *userRecord, version uint64) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	defer util.WipeBytes(data)
	env, err := storage.SealRecord(d.sealKey, data, []byte(aadPrefix+rec.Email), version+1)
	if err != nil {
		return fmt.Errorf("sealing user %s: %w", rec.Email, err)
	}
	return d.repo.PutCAS(namespace, recordType, rec.Email, version, env)
}

// update applies fn to the current record and writes it back, retrying
// when another writer got there first.
func (d *Directory) update(email string, fn func(*userRecord) error) error {
	for range casAttempts {
		rec, version, err := d.load(email)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		err = d.save(rec, version)
		if errors.Is(err, storage.ErrCASFailed) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (r *userRecord) public() User {
	u := User{
		Email:      r.Email,
		Privileges: append([]string{auth.PrivilegeUser}, r.Privileges...),
		MFA:        make([]MFAInfo, 0, len(r.MFA)),
		CreatedAt:  r.CreatedAt,
	}
	for _, m := range r.MFA {
		u.MFA = append(u.MFA, MFAInfo{ID: m.ID, Type: m.Type, Label: m.Label})
	}
	return u
}

func validateEmail(email string) (string, error) {
	email = util.NormalizeAccount(email)
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.ContainsAny(email, " \t\r\n/") || strings.Contains(domain, "@") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(strings.TrimSpace(password)) < minPassLength || strings.ContainsAny(password, " \t\r\n") {
		return ErrWeakPassword
	}
	return nil
}

// normalizePrivileges trims, deduplicates and sorts privileges and drops
// the implicit user privilege.
func normalizePrivileges(privileges []string) ([]string, error) {
	out := make([]string, 0, len(privileges))
	for _, p := range privileges {
		p = strings.TrimSpace(p)
		if p == "" || strings.ContainsAny(p, " \t\r\n,") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPrivilege, p)
		}
		if p == auth.PrivilegeUser || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}
