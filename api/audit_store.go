package api

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/mgmtd/storage"
)

const (
	auditNamespace  = "__audit"
	auditRecordType = "EVENT"
)

// AuditEntry is one persisted audit event.
type AuditEntry struct {
	ID         string     `json:"id"`
	Event      AuditEvent `json:"event"`
	User       string     `json:"user,omitempty"`
	RemoteAddr string     `json:"remote_addr,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  string     `json:"created_at"`
}

func newAuditEntry(event AuditEvent, user, remoteAddr, reason string, at time.Time) AuditEntry {
	return AuditEntry{
		ID:         uuid.NewString(),
		Event:      event,
		User:       user,
		RemoteAddr: remoteAddr,
		Reason:     reason,
		CreatedAt:  at.UTC().Format(time.RFC3339Nano),
	}
}

// auditStore persists audit entries as plain records in a repository.
type auditStore struct {
	repo storage.Repository
}

func newAuditStore(repo storage.Repository) *auditStore {
	return &auditStore{repo: repo}
}

func (s *auditStore) append(entry AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.repo.Put(auditNamespace, auditRecordType, entry.ID, storage.PlainRecord(data, 0))
}

// ListAuditEntries returns persisted audit entries newest first. An event
// filter of "" matches every event.
func ListAuditEntries(repo storage.Repository, event AuditEvent) ([]AuditEntry, error) {
	ids, err := repo.List(auditNamespace, auditRecordType)
	if err != nil {
		if errors.Is(err, storage.ErrNamespaceNotFound) {
			return []AuditEntry{}, nil
		}
		return nil, err
	}
	entries := make([]AuditEntry, 0, len(ids))
	for _, id := range ids {
		env, err := repo.Get(auditNamespace, auditRecordType, id)
		if err != nil {
			continue
		}
		data, err := storage.OpenRecord(nil, env, nil)
		if err != nil {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if event != "" && entry.Event != event {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return parseCreatedAt(entries[i].CreatedAt).After(parseCreatedAt(entries[j].CreatedAt))
	})
	return entries, nil
}

func parseCreatedAt(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
