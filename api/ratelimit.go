package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// backoffPolicy describes exponential lockout for one key space.
type backoffPolicy struct {
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures int
	baseLockout time.Duration
	maxLockout  time.Duration
}

var (
	userPolicy = backoffPolicy{maxFailures: 5, baseLockout: time.Minute, maxLockout: 15 * time.Minute}
	ipPolicy   = backoffPolicy{maxFailures: 20, baseLockout: time.Minute, maxLockout: 30 * time.Minute}
)

const (
	// attemptExpiry is how long after the last failure before a record is
	// forgotten.
	attemptExpiry = time.Hour

	globalWindow      = time.Minute
	globalMaxFailures = 100
	globalLockout     = 5 * time.Minute
)

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// keyedLimiter tracks consecutive failures per key and locks a key out
// with exponential backoff.
type keyedLimiter struct {
	mu       sync.Mutex
	policy   backoffPolicy
	now      func() time.Time
	attempts map[string]*attemptRecord
}

func newKeyedLimiter(policy backoffPolicy, now func() time.Time) *keyedLimiter {
	return &keyedLimiter{
		policy:   policy,
		now:      now,
		attempts: make(map[string]*attemptRecord),
	}
}

// check reports whether key is locked out and for how long.
func (l *keyedLimiter) check(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[key]
	if !ok {
		return false, 0
	}
	now := l.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(l.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (l *keyedLimiter) recordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		l.attempts[key] = rec
	}
	now := l.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= l.policy.maxFailures {
		lockout := l.policy.baseLockout
		for i := 0; i < rec.failures-l.policy.maxFailures; i++ {
			lockout *= 2
			if lockout >= l.policy.maxLockout {
				lockout = l.policy.maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (l *keyedLimiter) recordSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

// sweep removes records whose last failure is older than attemptExpiry.
func (l *keyedLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, rec := range l.attempts {
		if now.Sub(rec.lastFailure) > attemptExpiry {
			delete(l.attempts, key)
		}
	}
}

// globalLimiter locks out all logins when failures across every account
// exceed a sliding-window threshold.
type globalLimiter struct {
	mu          sync.Mutex
	now         func() time.Time
	failures    []time.Time
	lockedUntil time.Time
}

func (l *globalLimiter) check() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Before(l.lockedUntil) {
		return true, l.lockedUntil.Sub(now)
	}
	return false, 0
}

func (l *globalLimiter) recordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.failures = trimWindow(append(l.failures, now), now, globalWindow)
	if len(l.failures) >= globalMaxFailures {
		l.lockedUntil = now.Add(globalLockout)
	}
}

// loginLimiter combines the per-user, per-IP and global limits applied to
// the login endpoint.
type loginLimiter struct {
	users  *keyedLimiter
	ips    *keyedLimiter
	global *globalLimiter
}

func newLoginLimiter(now func() time.Time) *loginLimiter {
	return &loginLimiter{
		users:  newKeyedLimiter(userPolicy, now),
		ips:    newKeyedLimiter(ipPolicy, now),
		global: &globalLimiter{now: now},
	}
}

// check returns the longest applicable lockout. Empty keys are skipped.
func (l *loginLimiter) check(user, ip string) (bool, time.Duration) {
	var retry time.Duration
	blocked := false
	merge := func(b bool, d time.Duration) {
		if b {
			blocked = true
			retry = max(retry, d)
		}
	}
	merge(l.global.check())
	if user != "" {
		merge(l.users.check(user))
	}
	if ip != "" {
		merge(l.ips.check(ip))
	}
	return blocked, retry
}

func (l *loginLimiter) recordFailure(user, ip string) {
	l.global.recordFailure()
	if user != "" {
		l.users.recordFailure(user)
	}
	if ip != "" {
		l.ips.recordFailure(ip)
	}
}

func (l *loginLimiter) recordSuccess(user, ip string) {
	if user != "" {
		l.users.recordSuccess(user)
	}
	if ip != "" {
		l.ips.recordSuccess(ip)
	}
}

func (l *loginLimiter) sweep() {
	l.users.sweep()
	l.ips.sweep()
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// extractClientIP returns the client IP for rate limiting using the API's
// configured trusted proxies.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored
// when the request's RemoteAddr falls within one of trustedProxies. With no
// trusted proxies RemoteAddr is always used.
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if remoteIP == "" || !peerTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip, ok := parseIPCandidate(part); ok {
				return ip
			}
		}
	}
	if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
		for _, elem := range strings.Split(fwd, ",") {
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if len(param) > 4 && strings.EqualFold(param[:4], "for=") {
					if ip, ok := parseIPCandidate(param[4:]); ok {
						return ip
					}
				}
			}
		}
	}
	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return remoteIP
}

func peerTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
