package api

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/mgmtd/storage"
	bboltstore "github.com/jmcleod/mgmtd/storage/bbolt"
	"github.com/jmcleod/mgmtd/storage/memory"
)

func TestParseCreatedAt_RFC3339Nano(t *testing.T) {
	ts := parseCreatedAt("2024-06-15T12:34:56.789012345Z")
	assert.False(t, ts.IsZero())
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, time.Month(6), ts.Month())
	assert.Equal(t, 789012345, ts.Nanosecond())
}

func TestParseCreatedAt_RFC3339(t *testing.T) {
	ts := parseCreatedAt("2024-06-15T12:34:56Z")
	assert.Equal(t, 56, ts.Second())
}

func TestParseCreatedAt_Invalid(t *testing.T) {
	assert.True(t, parseCreatedAt("not-a-date").IsZero())
	assert.True(t, parseCreatedAt("").IsZero())
}

func appendEntries(t testing.TB, s *auditStore, base time.Time, events ...AuditEvent) {
	t.Helper()
	for i, ev := range events {
		entry := newAuditEntry(ev, fmt.Sprintf("user%d@example.com", i), "192.0.2.1:1000", "", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.append(entry))
	}
}

func testAuditRepos(t *testing.T) map[string]storage.Repository {
	t.Helper()
	db, err := bboltstore.NewRepositoryFromFile(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]storage.Repository{
		"memory": memory.NewRepository(),
		"bbolt":  db,
	}
}

func TestListAuditEntries_Empty(t *testing.T) {
	for name, repo := range testAuditRepos(t) {
		t.Run(name, func(t *testing.T) {
			entries, err := ListAuditEntries(repo, "")
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestListAuditEntries_NewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for name, repo := range testAuditRepos(t) {
		t.Run(name, func(t *testing.T) {
			s := newAuditStore(repo)
			appendEntries(t, s, base, AuditLoginFailure, AuditLoginSuccess, AuditLogout)

			entries, err := ListAuditEntries(repo, "")
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, AuditLogout, entries[0].Event)
			assert.Equal(t, AuditLoginSuccess, entries[1].Event)
			assert.Equal(t, AuditLoginFailure, entries[2].Event)
			assert.Equal(t, "user0@example.com", entries[2].User)
		})
	}
}

func TestListAuditEntries_FilterByEvent(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	repo := memory.NewRepository()
	s := newAuditStore(repo)
	appendEntries(t, s, base, AuditLoginFailure, AuditLoginSuccess, AuditLoginFailure, AuditCSRFRejected)

	entries, err := ListAuditEntries(repo, AuditLoginFailure)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, AuditLoginFailure, e.Event)
	}

	entries, err = ListAuditEntries(repo, AuditMFAEnabled)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListAuditEntries_SkipsCorruptRecords(t *testing.T) {
	repo := memory.NewRepository()
	s := newAuditStore(repo)
	appendEntries(t, s, time.Now(), AuditLogout)
	require.NoError(t, repo.Put(auditNamespace, auditRecordType, "garbage", storage.PlainRecord([]byte("{"), 0)))

	entries, err := ListAuditEntries(repo, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func BenchmarkAuditAppend(b *testing.B) {
	s := newAuditStore(memory.NewRepository())
	entry := newAuditEntry(AuditLoginSuccess, "alice@example.com", "192.0.2.1:1000", "", time.Now())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		entry.ID = fmt.Sprintf("bench-%d", i)
		if err := s.append(entry); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkListAuditEntries_LargeHistory(b *testing.B) {
	repo := memory.NewRepository()
	s := newAuditStore(repo)
	base := time.Now()
	for i := range 1000 {
		entry := newAuditEntry(AuditLoginFailure, "alice@example.com", "192.0.2.1:1000", "", base.Add(time.Duration(i)*time.Millisecond))
		if err := s.append(entry); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ListAuditEntries(repo, ""); err != nil {
			b.Fatal(err)
		}
	}
}
