package server

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hupe1980/sealdex/registry"
	"github.com/hupe1980/sealdex/store"
	"github.com/hupe1980/sealdex/token"
)

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := s.identity(r)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	var req createIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(ctx, w, validationf("decode body: %v", err))
		return
	}

	var keys registry.Keys
	if req.Keys != nil {
		keys = req.Keys.toKeys()
		if err := keys.Validate(); err != nil {
			s.writeError(ctx, w, validationf("%v", err))
			return
		}
	} else {
		if keys, err = registry.GenerateKeys(); err != nil {
			s.writeError(ctx, w, err)
			return
		}
	}

	index, err := s.registry.Create(ctx, registry.NewIndex{
		Name:        req.Name,
		AuthzID:     identity.AuthzID,
		ProjectUUID: identity.ProjectUUID,
		Keys:        keys,
	})
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	s.logger.WithIndex(index.PublicID).InfoContext(ctx, "index created", "name", index.Name)
	s.writeJSON(w, http.StatusCreated, createIndexResponse{
		PublicID:  index.PublicID,
		Name:      index.Name,
		CreatedAt: index.CreatedAt,
		Keys:      keyMaterialFrom(index.Keys),
	})
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := s.identity(r)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	// Single-tenant deployments list everything; multitenant ones only the
	// caller's project.
	projectUUID := ""
	if s.authz != nil {
		projectUUID = identity.ProjectUUID
	}

	indexes, err := s.registry.List(ctx, projectUUID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	resp := listIndexesResponse{Indexes: make([]indexSummary, 0, len(indexes))}
	for _, index := range indexes {
		summary, err := s.summarize(ctx, index)
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}
		resp.Indexes = append(resp.Indexes, summary)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	index, err := s.ownedIndex(r)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	summary, err := s.summarize(ctx, index)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := s.identity(r)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	publicID := mux.Vars(r)["public_id"]
	if err := s.registry.SoftDelete(ctx, publicID, identity.AuthzID); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	s.logger.WithIndex(publicID).InfoContext(ctx, "index deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	index, err := s.ownedIndex(r)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	samples, err := s.registry.Stats(ctx, index.PublicID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	resp := statsResponse{Samples: make([]statSampleModel, 0, len(samples))}
	for _, sample := range samples {
		resp.Samples = append(resp.Samples, statSampleModel{
			EntriesSize: sample.EntriesSize,
			ChainsSize:  sample.ChainsSize,
			CreatedAt:   sample.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ownedIndex resolves the path index and enforces project ownership in
// multitenant deployments. Foreign indexes are indistinguishable from
// missing ones.
func (s *Server) ownedIndex(r *http.Request) (*registry.Index, error) {
	identity, err := s.identity(r)
	if err != nil {
		return nil, err
	}

	index, err := s.registry.Get(r.Context(), mux.Vars(r)["public_id"])
	if err != nil {
		return nil, err
	}
	if s.authz != nil && index.ProjectUUID != identity.ProjectUUID {
		return nil, registry.ErrNotFound
	}
	return index, nil
}

func (s *Server) summarize(ctx context.Context, index *registry.Index) (indexSummary, error) {
	entries, chains, err := s.store.Sizes(ctx, index.PublicID)
	if err != nil {
		return indexSummary{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return indexSummary{
		PublicID:    index.PublicID,
		Name:        index.Name,
		CreatedAt:   index.CreatedAt,
		EntriesSize: entries,
		ChainsSize:  chains,
	}, nil
}

// dataHandler runs after the possession check with the resolved index.
type dataHandler func(w http.ResponseWriter, r *http.Request, index *registry.Index)

// dataPlane authorizes a data-plane operation by key possession. The
// presented key is compared in constant time against the stored key for the
// operation; every failure mode yields the same Unauthorized response.
func (s *Server) dataPlane(kt token.KeyType, next dataHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		presented, err := hex.DecodeString(r.Header.Get(KeyHeader))
		if err != nil || len(presented) != token.KeyLength {
			s.writeError(ctx, w, errUnauthorized)
			return
		}

		index, err := s.registry.Get(ctx, mux.Vars(r)["public_id"])
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				err = errUnauthorized
			}
			s.writeError(ctx, w, err)
			return
		}

		if subtle.ConstantTimeCompare(presented, index.Keys.ForOperation(kt)) != 1 {
			s.writeError(ctx, w, errUnauthorized)
			return
		}

		next(w, r, index)
	}
}

func (s *Server) handleFetch(table store.Table) dataHandler {
	return func(w http.ResponseWriter, r *http.Request, index *registry.Index) {
		ctx := r.Context()

		var req fetchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(ctx, w, validationf("decode body: %v", err))
			return
		}
		uids, err := decodeUIDs(req.UIDs)
		if err != nil {
			s.writeError(ctx, w, validationf("%v", err))
			return
		}

		found, err := s.store.Fetch(ctx, index.PublicID, table, uids)
		s.logger.WithIndex(index.PublicID).LogFetch(ctx, table.String(), len(uids), len(found), err)
		if err != nil {
			s.writeError(ctx, w, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
			return
		}

		// Hits only, in request order.
		resp := fetchResponse{Items: make([]recordModel, 0, len(found))}
		for _, uid := range uids {
			value, ok := found[uid]
			if !ok {
				continue
			}
			resp.Items = append(resp.Items, recordModel{UID: uid[:], Value: value})
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleUpsertEntries(w http.ResponseWriter, r *http.Request, index *registry.Index) {
	ctx := r.Context()

	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(ctx, w, validationf("decode body: %v", err))
		return
	}

	items := make([]store.Upsert, len(req.Items))
	for i, item := range req.Items {
		uid, err := store.UIDFromBytes(item.UID)
		if err != nil {
			s.writeError(ctx, w, validationf("%v", err))
			return
		}
		items[i] = store.Upsert{UID: uid, NewValue: item.NewValue}
		if item.OldValue != nil {
			items[i].OldValue = *item.OldValue
		}
	}

	rejected, err := s.store.UpsertEntries(ctx, index.PublicID, items)
	s.logger.WithIndex(index.PublicID).LogUpsert(ctx, len(items), len(rejected), err)
	if err != nil {
		s.writeError(ctx, w, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
		return
	}

	resp := upsertResponse{Rejected: make([]recordModel, 0, len(rejected))}
	for _, rec := range rejected {
		resp.Rejected = append(resp.Rejected, recordModel{UID: rec.UID[:], Value: rec.Value})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInsertChains(w http.ResponseWriter, r *http.Request, index *registry.Index) {
	ctx := r.Context()

	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(ctx, w, validationf("decode body: %v", err))
		return
	}

	items := make([]store.Record, len(req.Items))
	for i, item := range req.Items {
		uid, err := store.UIDFromBytes(item.UID)
		if err != nil {
			s.writeError(ctx, w, validationf("%v", err))
			return
		}
		items[i] = store.Record{UID: uid, Value: item.Value}
	}

	err := s.store.InsertChains(ctx, index.PublicID, items)
	s.logger.WithIndex(index.PublicID).LogInsert(ctx, len(items), err)
	if err != nil {
		s.writeError(ctx, w, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
		return
	}
	s.writeJSON(w, http.StatusOK, struct{}{})
}
