package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/sealdex/registry"
	"github.com/hupe1980/sealdex/store"
)

// hexBytes is a byte field exchanged as a hex string on the wire.
type hexBytes []byte

func (b hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

func (b *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	*b = decoded
	return nil
}

type keyMaterial struct {
	FetchEntries  hexBytes `json:"fetch_entries_key"`
	FetchChains   hexBytes `json:"fetch_chains_key"`
	UpsertEntries hexBytes `json:"upsert_entries_key"`
	InsertChains  hexBytes `json:"insert_chains_key"`
}

func (m *keyMaterial) toKeys() registry.Keys {
	return registry.Keys{
		FetchEntries:  m.FetchEntries,
		FetchChains:   m.FetchChains,
		UpsertEntries: m.UpsertEntries,
		InsertChains:  m.InsertChains,
	}
}

func keyMaterialFrom(keys registry.Keys) *keyMaterial {
	return &keyMaterial{
		FetchEntries:  keys.FetchEntries,
		FetchChains:   keys.FetchChains,
		UpsertEntries: keys.UpsertEntries,
		InsertChains:  keys.InsertChains,
	}
}

type createIndexRequest struct {
	Name string `json:"name"`
	// Keys is optional; absent keys are generated server-side.
	Keys *keyMaterial `json:"keys,omitempty"`
}

type createIndexResponse struct {
	PublicID  string       `json:"public_id"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	Keys      *keyMaterial `json:"keys"`
}

// indexSummary is the key-free view returned by list/get, with current
// per-table sizes attached.
type indexSummary struct {
	PublicID    string    `json:"public_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	EntriesSize int64     `json:"entries_size"`
	ChainsSize  int64     `json:"chains_size"`
}

type listIndexesResponse struct {
	Indexes []indexSummary `json:"indexes"`
}

type recordModel struct {
	UID   hexBytes `json:"uid"`
	Value hexBytes `json:"value"`
}

type fetchRequest struct {
	UIDs []hexBytes `json:"uids"`
}

type fetchResponse struct {
	Items []recordModel `json:"items"`
}

type upsertItem struct {
	UID hexBytes `json:"uid"`
	// OldValue null means the caller expects no stored value.
	OldValue *hexBytes `json:"old_value"`
	NewValue hexBytes  `json:"new_value"`
}

type upsertRequest struct {
	Items []upsertItem `json:"items"`
}

type upsertResponse struct {
	Rejected []recordModel `json:"rejected"`
}

type insertRequest struct {
	Items []recordModel `json:"items"`
}

type statSampleModel struct {
	EntriesSize int64     `json:"entries_size"`
	ChainsSize  int64     `json:"chains_size"`
	CreatedAt   time.Time `json:"created_at"`
}

type statsResponse struct {
	Samples []statSampleModel `json:"samples"`
}

func decodeUIDs(raw []hexBytes) ([]store.UID, error) {
	uids := make([]store.UID, len(raw))
	for i, b := range raw {
		uid, err := store.UIDFromBytes(b)
		if err != nil {
			return nil, err
		}
		uids[i] = uid
	}
	return uids, nil
}
