// Package storage provides the record storage abstraction used for the user
// directory and the persisted audit trail.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when a namespace has never been written.
	ErrNamespaceNotFound = errors.New("namespace not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Repository stores envelopes keyed by (namespace, recordType, recordID).
type Repository interface {
	Put(namespace string, recordType string, recordID string, envelope *Envelope) error
	Get(namespace string, recordType string, recordID string) (*Envelope, error)
	List(namespace string, recordType string) ([]string, error)
	Delete(namespace string, recordType string, recordID string) error
	// PutCAS writes envelope only if the stored record's Version equals
	// expectedVersion. An expectedVersion of 0 means "create only".
	PutCAS(namespace string, recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
}
