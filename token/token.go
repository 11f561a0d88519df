// Package token implements the capability-token format shared between
// sealdex clients and servers.
//
// A token is the public index id followed by a base64 blob:
//
//	public_id (5 chars) || base64(secret (16 bytes) || chunks)
//
// where each chunk is a 1-byte key-type tag followed by the 16-byte key, in
// canonical tag order. Chunks for absent keys are omitted entirely, which is
// what gives Derive its one-way property: a derived token's encoding does not
// contain the dropped key bytes in any form.
//
// The layout is unambiguous only because all four key types share the same
// length; a future key type of a different length would require a breaking
// format change.
package token

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// PublicIDLength is the fixed width of the public index id prefix.
	PublicIDLength = 5

	// SecretLength is the length of the opaque secret carried by every token.
	// The secret is used by client-side cryptography only; the server never
	// checks it against anything stored.
	SecretLength = 16

	// KeyLength is the length of each data-plane key.
	KeyLength = 16
)

// KeyType tags a data-plane key inside the token blob. The numeric values
// are part of the wire format.
type KeyType uint8

const (
	FetchEntries KeyType = iota
	FetchChains
	UpsertEntries
	InsertChains

	numKeyTypes = 4
)

// String returns the operation name the key authorizes.
func (k KeyType) String() string {
	switch k {
	case FetchEntries:
		return "fetch_entries"
	case FetchChains:
		return "fetch_chains"
	case UpsertEntries:
		return "upsert_entries"
	case InsertChains:
		return "insert_chains"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ErrMalformed is returned by Decode when the input does not follow the
// token layout.
var ErrMalformed = errors.New("malformed token")

// blob bytes are encoded with unpadded standard base64.
var blobEncoding = base64.RawStdEncoding

// Capabilities selects which key set a derived token retains.
type Capabilities struct {
	// Search retains fetch_entries and fetch_chains.
	Search bool
	// Index retains fetch_chains, upsert_entries and insert_chains.
	Index bool
}

// Token is a decoded capability token. A nil key slot means the key is
// absent; present keys are always exactly KeyLength bytes.
type Token struct {
	PublicID string
	Secret   [SecretLength]byte

	keys [numKeyTypes][]byte
}

// New creates a token with the given public id and secret and no keys.
func New(publicID string, secret [SecretLength]byte) *Token {
	return &Token{PublicID: publicID, Secret: secret}
}

// SetKey attaches a data-plane key. The key must be exactly KeyLength bytes.
func (t *Token) SetKey(kt KeyType, key []byte) error {
	if kt >= numKeyTypes {
		return fmt.Errorf("invalid key type %d", uint8(kt))
	}
	if len(key) != KeyLength {
		return fmt.Errorf("key for %s must be %d bytes, got %d", kt, KeyLength, len(key))
	}
	t.keys[kt] = bytes.Clone(key)
	return nil
}

// Key returns the key for the given type, or false if absent.
func (t *Token) Key(kt KeyType) ([]byte, bool) {
	if kt >= numKeyTypes || t.keys[kt] == nil {
		return nil, false
	}
	return bytes.Clone(t.keys[kt]), true
}

// HasKey reports whether the key for the given type is present.
func (t *Token) HasKey(kt KeyType) bool {
	return kt < numKeyTypes && t.keys[kt] != nil
}

// KeyCount returns the number of present data-plane keys.
func (t *Token) KeyCount() int {
	n := 0
	for _, k := range t.keys {
		if k != nil {
			n++
		}
	}
	return n
}

// Encode serializes the token to its transport string.
func (t *Token) Encode() string {
	blob := make([]byte, 0, SecretLength+numKeyTypes*(1+KeyLength))
	blob = append(blob, t.Secret[:]...)
	for kt := KeyType(0); kt < numKeyTypes; kt++ {
		if t.keys[kt] == nil {
			continue
		}
		blob = append(blob, byte(kt))
		blob = append(blob, t.keys[kt]...)
	}
	return t.PublicID + blobEncoding.EncodeToString(blob)
}

// Decode parses a transport string back into a Token.
//
// It fails with ErrMalformed if the decoded blob length is not 16+k*17 for
// k in 0..4, if a tag byte falls outside the known range, or if a tag
// repeats.
func Decode(s string) (*Token, error) {
	if len(s) < PublicIDLength {
		return nil, fmt.Errorf("%w: shorter than public id", ErrMalformed)
	}
	blob, err := blobEncoding.DecodeString(s[PublicIDLength:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(blob) < SecretLength {
		return nil, fmt.Errorf("%w: missing secret", ErrMalformed)
	}
	chunks := blob[SecretLength:]
	if len(chunks)%(1+KeyLength) != 0 || len(chunks)/(1+KeyLength) > numKeyTypes {
		return nil, fmt.Errorf("%w: blob length %d", ErrMalformed, len(blob))
	}

	t := &Token{PublicID: s[:PublicIDLength]}
	copy(t.Secret[:], blob[:SecretLength])

	for len(chunks) > 0 {
		tag := chunks[0]
		if tag >= numKeyTypes {
			return nil, fmt.Errorf("%w: unknown key tag %d", ErrMalformed, tag)
		}
		if t.keys[tag] != nil {
			return nil, fmt.Errorf("%w: repeated key tag %d", ErrMalformed, tag)
		}
		t.keys[tag] = bytes.Clone(chunks[1 : 1+KeyLength])
		chunks = chunks[1+KeyLength:]
	}

	return t, nil
}

// Derive builds a restricted token holding only the keys allowed by caps,
// intersected with the keys the source token actually has. The public id and
// opaque secret are always copied through. Deriving can only narrow the key
// set, never widen it, and applying Derive twice with the same capabilities
// is idempotent.
func (t *Token) Derive(caps Capabilities) *Token {
	var retain [numKeyTypes]bool
	if caps.Search {
		retain[FetchEntries] = true
		retain[FetchChains] = true
	}
	if caps.Index {
		retain[FetchChains] = true
		retain[UpsertEntries] = true
		retain[InsertChains] = true
	}

	derived := New(t.PublicID, t.Secret)
	for kt := KeyType(0); kt < numKeyTypes; kt++ {
		if retain[kt] && t.keys[kt] != nil {
			derived.keys[kt] = bytes.Clone(t.keys[kt])
		}
	}
	return derived
}

// Equal reports whether two tokens carry the same public id, secret and key set.
func (t *Token) Equal(other *Token) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.PublicID != other.PublicID || t.Secret != other.Secret {
		return false
	}
	for kt := KeyType(0); kt < numKeyTypes; kt++ {
		if !bytes.Equal(t.keys[kt], other.keys[kt]) {
			return false
		}
	}
	return true
}
