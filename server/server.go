// Package server exposes the registry and data store over HTTP/JSON.
//
// Two independent authorization layers guard the surface. Management
// operations (create, list, get, delete, stats) use identity-based
// authorization: a bearer token when an Authorizer is configured, fixed
// single-tenant identity otherwise. Data-plane operations (fetch, upsert,
// insert) use possession-based authorization only: the caller presents the
// key for the operation in the X-Sealdex-Key header and the handler compares
// it against the registry record in constant time. The two layers never mix.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hupe1980/sealdex"
	"github.com/hupe1980/sealdex/auth"
	"github.com/hupe1980/sealdex/registry"
	"github.com/hupe1980/sealdex/store"
	"github.com/hupe1980/sealdex/token"
)

// KeyHeader carries the hex-encoded data-plane key for the requested
// operation.
const KeyHeader = "X-Sealdex-Key"

// Identity assigned to every caller when no Authorizer is configured.
const (
	SingleTenantAuthzID     = "single_tenant"
	SingleTenantProjectUUID = "single_tenant"
)

// Authorizer authenticates management-plane requests from the Authorization
// header value.
type Authorizer interface {
	Authenticate(header string) (*auth.Identity, error)
}

// Server dispatches HTTP requests to the registry and data store. It holds
// no per-request state; every call re-validates independently.
type Server struct {
	registry registry.Registry
	store    store.Store
	authz    Authorizer
	logger   *sealdex.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAuthorizer enables multitenant identity checks on management
// operations.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Server) {
		s.authz = a
	}
}

// WithLogger sets the logger. Defaults to a text logger on stderr.
func WithLogger(logger *sealdex.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server over the given registry and store.
func New(reg registry.Registry, st store.Store, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		store:    st,
		logger:   sealdex.NewLogger(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/indexes", s.handleCreateIndex).Methods(http.MethodPost)
	r.HandleFunc("/indexes", s.handleListIndexes).Methods(http.MethodGet)
	r.HandleFunc("/indexes/{public_id}", s.handleGetIndex).Methods(http.MethodGet)
	r.HandleFunc("/indexes/{public_id}", s.handleDeleteIndex).Methods(http.MethodDelete)
	r.HandleFunc("/indexes/{public_id}/stats", s.handleIndexStats).Methods(http.MethodGet)

	r.HandleFunc("/indexes/{public_id}/fetch_entries",
		s.dataPlane(token.FetchEntries, s.handleFetch(store.TableEntries))).Methods(http.MethodPost)
	r.HandleFunc("/indexes/{public_id}/fetch_chains",
		s.dataPlane(token.FetchChains, s.handleFetch(store.TableChains))).Methods(http.MethodPost)
	r.HandleFunc("/indexes/{public_id}/upsert_entries",
		s.dataPlane(token.UpsertEntries, s.handleUpsertEntries)).Methods(http.MethodPost)
	r.HandleFunc("/indexes/{public_id}/insert_chains",
		s.dataPlane(token.InsertChains, s.handleInsertChains)).Methods(http.MethodPost)

	return r
}

// identity resolves the management-plane caller. Without an Authorizer every
// caller is the single tenant.
func (s *Server) identity(r *http.Request) (*auth.Identity, error) {
	if s.authz == nil {
		return &auth.Identity{
			AuthzID:     SingleTenantAuthzID,
			ProjectUUID: SingleTenantProjectUUID,
		}, nil
	}
	return s.authz.Authenticate(r.Header.Get("Authorization"))
}
