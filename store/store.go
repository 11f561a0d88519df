// Package store defines the entries/chains data store abstraction and its
// backend implementations.
//
// A Store holds opaque rows keyed by (index, table, uid). The entries table
// is mutable only through compare-and-swap; the chains table is insert-once.
// Every backend satisfies the identical contract, so backend selection is a
// deployment concern, never a semantic one. The conformance suite in
// conformance_test.go runs the same property set against each backend.
package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
)

// UIDLength is the fixed length of a row uid in bytes.
const UIDLength = 32

// UID identifies a row within one (index, table) namespace.
type UID [UIDLength]byte

// UIDFromBytes converts a raw slice into a UID, validating its length.
func UIDFromBytes(b []byte) (UID, error) {
	var uid UID
	if len(b) != UIDLength {
		return uid, fmt.Errorf("uid must be %d bytes, got %d", UIDLength, len(b))
	}
	copy(uid[:], b)
	return uid, nil
}

// String returns the hex form of the uid.
func (u UID) String() string {
	return hex.EncodeToString(u[:])
}

// Table selects one of the two logical tables of an index.
type Table uint8

const (
	TableEntries Table = iota
	TableChains
)

// String returns the table name.
func (t Table) String() string {
	switch t {
	case TableEntries:
		return "entries"
	case TableChains:
		return "chains"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Record is one stored row.
type Record struct {
	UID   UID
	Value []byte
}

// Upsert is one conditional entries write. A nil OldValue means the caller
// expects no stored value for the uid.
type Upsert struct {
	UID      UID
	OldValue []byte
	NewValue []byte
}

// ErrUnavailable wraps backend I/O failures. Callers see it as a generic
// server error; the underlying cause is only logged server-side.
var ErrUnavailable = errors.New("storage unavailable")

// Store is the per-index, per-table opaque key/value store.
//
// Implementations must never expose partial writes to concurrent readers,
// must never overwrite on a failed CAS, and must never overwrite existing
// chains rows. Each uid's CAS is independently linearizable against all
// writers; a batch is not a transaction.
type Store interface {
	// Fetch performs a batched point lookup. Uids with no stored value are
	// simply absent from the result, never an error.
	Fetch(ctx context.Context, indexID string, table Table, uids []UID) (map[UID][]byte, error)

	// UpsertEntries applies each item atomically: if the stored value for the
	// uid equals OldValue (with "no stored value" equal to nil), it is
	// replaced with NewValue; otherwise the store is left untouched and the
	// item is reported back with its actual current value so the caller can
	// recompute and retry.
	UpsertEntries(ctx context.Context, indexID string, items []Upsert) ([]Record, error)

	// InsertChains inserts rows into the chains table. Rows whose uid already
	// exists are silently skipped, keeping the stored value; this makes chain
	// inserts idempotent under client retry.
	InsertChains(ctx context.Context, indexID string, items []Record) error

	// Sizes reports the total stored value bytes per table for one index.
	// Backends that cannot answer cheaply report zero.
	Sizes(ctx context.Context, indexID string) (entries, chains int64, err error)

	// Close releases backend resources.
	Close() error
}
