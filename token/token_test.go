package token

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLength)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func fullToken(t *testing.T) *Token {
	t.Helper()
	var secret [SecretLength]byte
	_, err := rand.Read(secret[:])
	require.NoError(t, err)

	tok := New("BHExm", secret)
	for kt := KeyType(0); kt < numKeyTypes; kt++ {
		require.NoError(t, tok.SetKey(kt, randomKey(t)))
	}
	return tok
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// Every subset of the four keys must survive a round trip.
	for mask := 0; mask < 1<<numKeyTypes; mask++ {
		full := fullToken(t)
		tok := New(full.PublicID, full.Secret)
		for kt := KeyType(0); kt < numKeyTypes; kt++ {
			if mask&(1<<kt) != 0 {
				key, ok := full.Key(kt)
				require.True(t, ok)
				require.NoError(t, tok.SetKey(kt, key))
			}
		}

		decoded, err := Decode(tok.Encode())
		require.NoError(t, err)
		assert.True(t, tok.Equal(decoded), "mask %04b", mask)
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid := fullToken(t).Encode()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"only public id", "BHExm"},
		{"bad base64", "BHExm!!!not-base64!!!"},
		{"truncated secret", "BHExm" + blobEncoding.EncodeToString(make([]byte, 8))},
		{"bad blob length", "BHExm" + blobEncoding.EncodeToString(make([]byte, SecretLength+5))},
		{"too many chunks", "BHExm" + blobEncoding.EncodeToString(make([]byte, SecretLength+5*(1+KeyLength)))},
		{"truncated chunk", valid[:len(valid)-4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	blob := make([]byte, SecretLength+1+KeyLength)
	blob[SecretLength] = 7 // outside 0..3

	_, err := Decode("BHExm" + blobEncoding.EncodeToString(blob))
	require.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "unknown key tag")
}

func TestDecodeRepeatedTag(t *testing.T) {
	blob := make([]byte, SecretLength+2*(1+KeyLength))
	blob[SecretLength] = byte(FetchChains)
	blob[SecretLength+1+KeyLength] = byte(FetchChains)

	_, err := Decode("BHExm" + blobEncoding.EncodeToString(blob))
	require.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "repeated key tag")
}

func TestDeriveNothing(t *testing.T) {
	tok := fullToken(t)
	derived := tok.Derive(Capabilities{})

	assert.Equal(t, tok.PublicID, derived.PublicID)
	assert.Equal(t, tok.Secret, derived.Secret)
	assert.Zero(t, derived.KeyCount())
}

func TestDeriveSearch(t *testing.T) {
	tok := fullToken(t)
	derived := tok.Derive(Capabilities{Search: true})

	assert.True(t, derived.HasKey(FetchEntries))
	assert.True(t, derived.HasKey(FetchChains))
	assert.False(t, derived.HasKey(UpsertEntries))
	assert.False(t, derived.HasKey(InsertChains))
}

func TestDeriveIndex(t *testing.T) {
	tok := fullToken(t)
	derived := tok.Derive(Capabilities{Index: true})

	assert.False(t, derived.HasKey(FetchEntries))
	assert.True(t, derived.HasKey(FetchChains))
	assert.True(t, derived.HasKey(UpsertEntries))
	assert.True(t, derived.HasKey(InsertChains))
}

func TestDeriveUnion(t *testing.T) {
	tok := fullToken(t)
	derived := tok.Derive(Capabilities{Search: true, Index: true})

	assert.Equal(t, 4, derived.KeyCount())

	// fetch_chains appears exactly once in the encoding.
	encoded := derived.Encode()
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.True(t, derived.Equal(decoded))
}

func TestDeriveNeverWidens(t *testing.T) {
	// A search-only source cannot regain index keys by deriving index caps.
	searchOnly := fullToken(t).Derive(Capabilities{Search: true})

	derived := searchOnly.Derive(Capabilities{Index: true})
	assert.False(t, derived.HasKey(UpsertEntries))
	assert.False(t, derived.HasKey(InsertChains))
	assert.True(t, derived.HasKey(FetchChains))
	assert.False(t, derived.HasKey(FetchEntries))
}

func TestDeriveIdempotent(t *testing.T) {
	tok := fullToken(t)
	once := tok.Derive(Capabilities{Search: true})
	twice := once.Derive(Capabilities{Search: true})

	assert.True(t, once.Equal(twice))
}

func TestDeriveDropsKeyBytesFromEncoding(t *testing.T) {
	tok := fullToken(t)
	upsertKey, ok := tok.Key(UpsertEntries)
	require.True(t, ok)

	derived := tok.Derive(Capabilities{Search: true})
	encoded := derived.Encode()

	blob, err := blobEncoding.DecodeString(strings.TrimPrefix(encoded, derived.PublicID))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), string(upsertKey))
	assert.Len(t, blob, SecretLength+2*(1+KeyLength))
}

func TestSetKeyValidation(t *testing.T) {
	tok := fullToken(t)
	require.Error(t, tok.SetKey(FetchEntries, make([]byte, 8)))
	require.Error(t, tok.SetKey(KeyType(9), make([]byte, KeyLength)))
}
