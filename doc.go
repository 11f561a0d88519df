// Package sealdex provides the server-side storage backend for an encrypted,
// keyword-searchable index.
//
// Clients hold secret keys and perform all cryptographic transformation
// locally; sealdex only stores and serves opaque key/value pairs organized
// into two logical tables per index:
//
//   - entries: a compacted keyword->pointer map, mutable under
//     compare-and-swap
//   - chains: an append-only history of updates, insert-once
//
// The server never decrypts or interprets stored values.
//
// # Architecture
//
// Durable state lives behind two pluggable interfaces, each selected once at
// process start:
//
//   - registry.Registry: index lifecycle records (public id, the four
//     data-plane keys, ownership, soft delete) over SQLite or DynamoDB
//   - store.Store: the entries/chains tables over SQLite, Pebble, bbolt,
//     DynamoDB, or memory
//
// All backends satisfy the same CAS and insert-if-absent contracts; the
// conformance suite in package store runs identically against every one.
//
// # Capability tokens
//
// Package token implements the compact binary capability-token format. A
// holder of a full token can derive restricted search-only or index-only
// tokens offline; derivation genuinely drops key bytes, so a derived token
// never leaks more key material than it was given.
//
// # Authorization
//
// Data-plane operations use possession-based authorization: each request
// presents the key for that operation and the server compares it against the
// registry record in constant time. Management operations optionally layer
// identity-based authorization (package auth) on top; the two mechanisms are
// never merged.
package sealdex
