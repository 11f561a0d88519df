// Package registry manages index lifecycle records and their stat samples.
//
// An index record carries the public id that namespaces all data-plane rows,
// the four data-plane keys compared on every request, and ownership fields
// for multitenant deployments. Records are soft-deleted only: a record with a
// deletion time is invisible to every read path but its history (and the
// index's entries/chains/stats rows) is retained.
//
// Two backends implement the identical contract: SQLite, where public-id
// uniqueness comes from the store's UNIQUE constraint, and DynamoDB, where it
// comes from a conditional write, since no native unique secondary index is
// assumed.
package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/sealdex/token"
)

var (
	// ErrNotFound is returned when no live record matches; soft-deleted
	// records are logically absent from all read paths.
	ErrNotFound = errors.New("index not found")

	// ErrDuplicateID reports a public-id collision on create. Backends retry
	// it internally; it only escapes after maxCreateAttempts.
	ErrDuplicateID = errors.New("duplicate public id")
)

// maxCreateAttempts bounds public-id regeneration before create gives up.
const maxCreateAttempts = 10

// Keys holds the four per-index data-plane keys. Each key is exactly
// token.KeyLength bytes, set once at creation and never mutated.
type Keys struct {
	FetchEntries  []byte
	FetchChains   []byte
	UpsertEntries []byte
	InsertChains  []byte
}

// Validate checks that every key has the required length.
func (k Keys) Validate() error {
	for _, key := range []struct {
		name  string
		value []byte
	}{
		{"fetch_entries_key", k.FetchEntries},
		{"fetch_chains_key", k.FetchChains},
		{"upsert_entries_key", k.UpsertEntries},
		{"insert_chains_key", k.InsertChains},
	} {
		if len(key.value) != token.KeyLength {
			return fmt.Errorf("%s must be %d bytes, got %d", key.name, token.KeyLength, len(key.value))
		}
	}
	return nil
}

// ForOperation returns the stored key for the operation tagged by kt.
func (k Keys) ForOperation(kt token.KeyType) []byte {
	switch kt {
	case token.FetchEntries:
		return k.FetchEntries
	case token.FetchChains:
		return k.FetchChains
	case token.UpsertEntries:
		return k.UpsertEntries
	case token.InsertChains:
		return k.InsertChains
	default:
		return nil
	}
}

// GenerateKeys returns four fresh random data-plane keys.
func GenerateKeys() (Keys, error) {
	var keys Keys
	for _, dst := range []*[]byte{
		&keys.FetchEntries, &keys.FetchChains, &keys.UpsertEntries, &keys.InsertChains,
	} {
		key := make([]byte, token.KeyLength)
		if _, err := rand.Read(key); err != nil {
			return Keys{}, fmt.Errorf("generate key: %w", err)
		}
		*dst = key
	}
	return keys, nil
}

// Index is one lifecycle record.
type Index struct {
	// ID is the storage-local internal id.
	ID string
	// PublicID is the externally visible id; globally unique, immutable,
	// never reused. It namespaces all data-plane rows.
	PublicID    string
	AuthzID     string
	ProjectUUID string
	Name        string
	Keys        Keys
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// NewIndex is the input to Create.
type NewIndex struct {
	Name        string
	AuthzID     string
	ProjectUUID string
	Keys        Keys
}

// StatSample is one append-only size observation for an index.
type StatSample struct {
	PublicID    string
	EntriesSize int64
	ChainsSize  int64
	CreatedAt   time.Time
}

// Registry is the metadata store for index lifecycle records.
type Registry interface {
	// Create persists a new record under a freshly generated public id,
	// regenerating on collision up to a small bounded count.
	Create(ctx context.Context, newIndex NewIndex) (*Index, error)

	// Get returns the live record for the public id, or ErrNotFound.
	Get(ctx context.Context, publicID string) (*Index, error)

	// List returns live records, newest first. An empty projectUUID matches
	// every project.
	List(ctx context.Context, projectUUID string) ([]*Index, error)

	// SoftDelete marks the record deleted. It returns ErrNotFound when no
	// live record matches the public id and owner; re-invoking on an already
	// deleted record is therefore ErrNotFound as well.
	SoftDelete(ctx context.Context, publicID, authzID string) error

	// AddStat appends one stat sample.
	AddStat(ctx context.Context, sample StatSample) error

	// Stats returns the samples for an index, oldest first.
	Stats(ctx context.Context, publicID string) ([]StatSample, error)

	// Close releases backend resources.
	Close() error
}

// publicIDAlphabet matches the alphanumeric ids clients embed as the
// fixed-width token prefix.
const publicIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// newPublicID generates a random public id of token.PublicIDLength chars.
func newPublicID() (string, error) {
	raw := make([]byte, token.PublicIDLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate public id: %w", err)
	}
	for i, b := range raw {
		raw[i] = publicIDAlphabet[int(b)%len(publicIDAlphabet)]
	}
	return string(raw), nil
}
