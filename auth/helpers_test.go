package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errNoSuchUser = errors.New("no such user")

type fakeUser struct {
	password   string
	pwHash     string
	mfa        MFAState
	totpCode   string
	privileges []string
}

// fakeDirectory is an in-memory Directory whose credentials tests can
// change mid-flight.
type fakeDirectory struct {
	mu          sync.Mutex
	users       map[string]*fakeUser
	verifyDelay time.Duration
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: make(map[string]*fakeUser)}
}

func (d *fakeDirectory) add(name, password string, privileges ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[name] = &fakeUser{
		password:   password,
		pwHash:     "hash:" + password,
		privileges: append([]string{PrivilegeUser}, privileges...),
	}
}

func (d *fakeDirectory) setPassword(name, password string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := d.users[name]
	u.password = password
	u.pwHash = "hash:" + password
}

func (d *fakeDirectory) enableTOTP(name, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := d.users[name]
	u.totpCode = code
	u.mfa = MFAState{{"id": "1", "type": "totp", "label": "phone"}}
}

func (d *fakeDirectory) remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, name)
}

func (d *fakeDirectory) lookup(name string) (*fakeUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[name]
	if !ok {
		return nil, errNoSuchUser
	}
	cp := *u
	return &cp, nil
}

func (d *fakeDirectory) VerifyPassword(ctx context.Context, user, password string) error {
	if d.verifyDelay > 0 {
		time.Sleep(d.verifyDelay)
	}
	u, err := d.lookup(user)
	if err != nil {
		return err
	}
	if u.password != password {
		return errors.New("wrong password")
	}
	return nil
}

func (d *fakeDirectory) PasswordHash(ctx context.Context, user string) (string, error) {
	u, err := d.lookup(user)
	if err != nil {
		return "", err
	}
	return u.pwHash, nil
}

func (d *fakeDirectory) MFAState(ctx context.Context, user string) (MFAState, error) {
	u, err := d.lookup(user)
	if err != nil {
		return nil, err
	}
	return u.mfa, nil
}

func (d *fakeDirectory) ValidateTOTP(ctx context.Context, user, code string) error {
	u, err := d.lookup(user)
	if err != nil {
		return err
	}
	if u.totpCode == "" || u.totpCode != code {
		return errors.New("bad code")
	}
	return nil
}

func (d *fakeDirectory) Privileges(ctx context.Context, user string) ([]string, error) {
	u, err := d.lookup(user)
	if err != nil {
		return nil, err
	}
	return u.privileges, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestService returns a Service with a fresh key file in a temp dir.
func newTestService(t *testing.T, dir Directory, opts ...Option) (*Service, string) {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "api.key")
	opts = append([]Option{WithKeyPath(keyPath)}, opts...)
	svc, err := New(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, keyPath
}
