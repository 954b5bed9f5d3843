package userdir

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/mgmtd/auth"
	"github.com/jmcleod/mgmtd/internal/util"
	"github.com/jmcleod/mgmtd/storage"
	bboltstore "github.com/jmcleod/mgmtd/storage/bbolt"
	"github.com/jmcleod/mgmtd/storage/memory"
)

var testParams = util.Argon2idParams{Time: 1, MemoryKiB: 64, Parallelism: 1, KeyLen: 32}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestDirectory(t *testing.T, repo storage.Repository) (*Directory, *testClock) {
	t.Helper()
	key, err := util.RandomBytes(32)
	require.NoError(t, err)
	clock := &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	return New(repo, key, WithArgon2Params(testParams), WithClock(clock.Now)), clock
}

func TestAddAndGet(t *testing.T) {
	d, _ := newTestDirectory(t, memory.NewRepository())
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, " Alice@Example.com ", "correct-horse", []string{"admin"}))

	u, err := d.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, []string{auth.PrivilegeUser, auth.PrivilegeAdmin}, u.Privileges)
	assert.Empty(t, u.MFA)
	assert.False(t, u.CreatedAt.IsZero())

	assert.ErrorIs(t, d.Add(ctx, "alice@example.com", "another-pass", nil), ErrUserExists)
}

func TestAddValidation(t *testing.T) {
	d, _ := newTestDirectory(t, memory.NewRepository())
	ctx := context.Background()

	assert.ErrorIs(t, d.Add(ctx, "not-an-email", "long-enough", nil), ErrInvalidEmail)
	assert.ErrorIs(t, d.Add(ctx, "a@b@c", "long-enough", nil), ErrInvalidEmail)
	assert.ErrorIs(t, d.Add(ctx, "bob@example.com", "short", nil), ErrWeakPassword)
	assert.ErrorIs(t, d.Add(ctx, "bob@example.com", "has a space", nil), ErrWeakPassword)
	assert.ErrorIs(t, d.Add(ctx, "bob@example.com", "long-enough", []string{"bad priv"}), ErrInvalidPrivilege)
}

func TestList(t *testing.T) {
	d, _ := newTestDirectory(t, memory.NewRepository())
	ctx := context.Background()

	users, err := d.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, d.Add(ctx, "zed@example.com", "password1", nil))
	require.NoError(t, d.Add(ctx, "amy@example.com", "password2", nil))

	users, err = d.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "amy@example.com", users[0].Email)
	assert.Equal(t, "zed@example.com", users[1].Email)
}

func TestVerifyPassword(t *testing.T) {
	d, _ := newTestDirectory(t, memory.NewRepository())
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, "alice@example.com", "correct-horse", nil))

	assert.NoError(t, d.VerifyPassword(ctx, "alice@example.com", "correct-horse"))
	assert.NoError(t, d.VerifyPassword(ctx, "ALICE@example.com", "correct-horse"))
	assert.ErrorIs(t, d.VerifyPassword(ctx, "alice@example.com", "wrong-horse"), ErrWrongPassword)
	assert.ErrorIs(t, d.VerifyPassword(ctx, "nobody@example.com", "correct-horse"), ErrUserNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, d.VerifyPassword(cancelled, "alice@example.com", "correct-horse"), context.Canceled)
}

func TestSetPassword(t *testing.T) {
	d, _ := newTestDirectory(t, memory.NewRepository())
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, "alice@example.com", "correct-horse", nil))

	before, err := d.PasswordHash(ctx, "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, d.SetPassword(ctx, "alice@example.com", "battery-staple"))

	after, err := d.PasswordHash(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.ErrorIs(t, d.VerifyPassword(ctx, "alice@example.com", "correct-horse"), ErrWrongPassword)
	assert.NoError(t, d.VerifyPassword(ctx, "alice@example.com", "battery-staple"))

	assert.ErrorIs(t, d.SetPassword(ctx, "nobody@example.com", "battery-staple"), ErrUserNotFound)
	assert.ErrorIs(t, d.SetPassword(ctx, "alice@example.com", "x"), ErrWeakPassword)
}

func TestPrivileges(t *testing.T) {
	d, _ := newTestDirectory(t, memory.NewRepository())
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, "alice@example.com", "correct-horse", nil))

	privs, err := d.Privileges(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{auth.PrivilegeUser}, privs)

	require.NoError(t, d.SetPrivileges(ctx, "alice@example.com", []string{"mail", " admin ", "user", "admin"}))
	privs, err = d.Privileges(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{auth.PrivilegeUser, "admin", "mail"}, privs)

	_, err = d.Privileges(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDelete(t *testing.T) {
	d, _ := newTestDirectory(t, memory.NewRepository())
	ctx := context.Background()

	assert.ErrorIs(t, d.Delete(ctx, "alice@example.com"), ErrUserNotFound)

	require.NoError(t, d.Add(ctx, "alice@example.com", "correct-horse", nil))
	require.NoError(t, d.Delete(ctx, "Alice@example.com"))
	_, err := d.Get(ctx, "alice@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestTOTPLifecycle(t *testing.T) {
	d, clock := newTestDirectory(t, memory.NewRepository())
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, "alice@example.com", "correct-horse", nil))

	state, err := d.MFAState(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, state.Enabled())

	setup, err := d.SetupTOTP(ctx, "alice@example.com", "phone")
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.URL, "otpauth://totp/")

	// Pending enrollment does not enable MFA.
	state, err = d.MFAState(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, state.Enabled())

	_, err = d.EnableTOTP(ctx, "alice@example.com", "000000")
	assert.ErrorIs(t, err, ErrInvalidTOTPCode)

	code, err := totp.GenerateCode(setup.Secret, clock.now)
	require.NoError(t, err)
	id, err := d.EnableTOTP(ctx, "alice@example.com", code)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	state, err = d.MFAState(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Len(t, state, 1)
	assert.Equal(t, id, state[0]["id"])
	assert.Equal(t, "totp", state[0]["type"])
	assert.Equal(t, "phone", state[0]["label"])
	assert.Len(t, state[0]["secret_digest"], 64)
	assert.NotContains(t, state[0], "secret")

	// The enrollment code cannot be replayed for login.
	assert.ErrorIs(t, d.ValidateTOTP(ctx, "alice@example.com", code), ErrInvalidTOTPCode)

	clock.now = clock.now.Add(30 * time.Second)
	next, err := totp.GenerateCode(setup.Secret, clock.now)
	require.NoError(t, err)
	assert.NoError(t, d.ValidateTOTP(ctx, "alice@example.com", next))
	assert.ErrorIs(t, d.ValidateTOTP(ctx, "alice@example.com", next), ErrInvalidTOTPCode)

	// Code validation does not change the MFA state.
	after, err := d.MFAState(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, state, after)

	u, err := d.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Len(t, u.MFA, 1)
	assert.Equal(t, MFAInfo{ID: id, Type: "totp", Label: "phone"}, u.MFA[0])

	assert.ErrorIs(t, d.DisableMFA(ctx, "alice@example.com", "unknown"), ErrMFANotFound)
	require.NoError(t, d.DisableMFA(ctx, "alice@example.com", id))
	state, err = d.MFAState(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, state.Enabled())
}

func TestEnableTOTP_Expired(t *testing.T) {
	d, clock := newTestDirectory(t, memory.NewRepository())
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, "alice@example.com", "correct-horse", nil))

	_, err := d.EnableTOTP(ctx, "alice@example.com", "123456")
	assert.ErrorIs(t, err, ErrNoPendingTOTP)

	setup, err := d.SetupTOTP(ctx, "alice@example.com", "")
	require.NoError(t, err)

	clock.now = clock.now.Add(totpSetupTTL)
	code, err := totp.GenerateCode(setup.Secret, clock.now)
	require.NoError(t, err)
	_, err = d.EnableTOTP(ctx, "alice@example.com", code)
	assert.ErrorIs(t, err, ErrNoPendingTOTP)
}

func TestDisableMFA_All(t *testing.T) {
	d, clock := newTestDirectory(t, memory.NewRepository())
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, "alice@example.com", "correct-horse", nil))

	for _, label := range []string{"phone", "tablet"} {
		setup, err := d.SetupTOTP(ctx, "alice@example.com", label)
		require.NoError(t, err)
		code, err := totp.GenerateCode(setup.Secret, clock.now)
		require.NoError(t, err)
		_, err = d.EnableTOTP(ctx, "alice@example.com", code)
		require.NoError(t, err)
	}
	state, err := d.MFAState(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, state, 2)

	require.NoError(t, d.DisableMFA(ctx, "alice@example.com", ""))
	state, err = d.MFAState(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestRecordsSealedAtRest(t *testing.T) {
	repo := memory.NewRepository()
	d, _ := newTestDirectory(t, repo)
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, "alice@example.com", "correct-horse", nil))

	env, err := repo.Get(namespace, recordType, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, storage.SchemeAESGCM, env.Scheme)
	assert.Equal(t, uint64(1), env.Version)
	assert.NotContains(t, string(env.Ciphertext), "argon2id")

	require.NoError(t, d.SetPassword(ctx, "alice@example.com", "battery-staple"))
	env, err = repo.Get(namespace, recordType, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), env.Version)

	otherKey, err := util.RandomBytes(32)
	require.NoError(t, err)
	other := New(repo, otherKey, WithArgon2Params(testParams))
	_, err = other.Get(ctx, "alice@example.com")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserNotFound)
}

func TestDirectory_BboltBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	store, err := bboltstore.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d, _ := newTestDirectory(t, store)
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, "alice@example.com", "correct-horse", []string{"admin"}))
	assert.NoError(t, d.VerifyPassword(ctx, "alice@example.com", "correct-horse"))

	users, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, []string{"user", "admin"}, users[0].Privileges)

	require.NoError(t, d.Delete(ctx, "alice@example.com"))
	assert.ErrorIs(t, d.Delete(ctx, "alice@example.com"), ErrUserNotFound)
}
