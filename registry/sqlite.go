package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRegistry implements Registry over a relational SQLite database.
// Public-id uniqueness is enforced by the UNIQUE constraint; Create retries
// with a fresh id when the constraint fires.
type SQLiteRegistry struct {
	db *sql.DB
}

const sqliteRegistrySchema = `
CREATE TABLE IF NOT EXISTS indexes (
	id                 TEXT PRIMARY KEY,
	public_id          TEXT NOT NULL UNIQUE,
	authz_id           TEXT NOT NULL,
	project_uuid       TEXT NOT NULL,
	name               TEXT NOT NULL,
	fetch_entries_key  BLOB NOT NULL,
	fetch_chains_key   BLOB NOT NULL,
	upsert_entries_key BLOB NOT NULL,
	insert_chains_key  BLOB NOT NULL,
	created_at         TEXT NOT NULL,
	deleted_at         TEXT
);
CREATE TABLE IF NOT EXISTS stats (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	index_id     TEXT NOT NULL,
	chains_size  INTEGER NOT NULL,
	entries_size INTEGER NOT NULL,
	created_at   TEXT NOT NULL
);`

// NewSQLiteRegistry opens (or creates) a SQLite-backed registry.
// Use ":memory:" for an in-memory database.
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteRegistrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteRegistry{db: db}, nil
}

// Create persists a new record, regenerating the public id on collision.
func (r *SQLiteRegistry) Create(ctx context.Context, newIndex NewIndex) (*Index, error) {
	if err := newIndex.Keys.Validate(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		publicID, err := newPublicID()
		if err != nil {
			return nil, err
		}

		index := &Index{
			ID:          uuid.NewString(),
			PublicID:    publicID,
			AuthzID:     newIndex.AuthzID,
			ProjectUUID: newIndex.ProjectUUID,
			Name:        newIndex.Name,
			Keys:        newIndex.Keys,
			CreatedAt:   time.Now().UTC(),
		}

		_, err = r.db.ExecContext(ctx, `
			INSERT INTO indexes (
				id, public_id, authz_id, project_uuid, name,
				fetch_entries_key, fetch_chains_key, upsert_entries_key, insert_chains_key,
				created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			index.ID, index.PublicID, index.AuthzID, index.ProjectUUID, index.Name,
			index.Keys.FetchEntries, index.Keys.FetchChains,
			index.Keys.UpsertEntries, index.Keys.InsertChains,
			index.CreatedAt.Format(time.RFC3339Nano),
		)
		if err == nil {
			return index, nil
		}
		if !isPublicIDConflict(err) {
			return nil, fmt.Errorf("create index: %w", err)
		}
	}
	return nil, fmt.Errorf("create index: %w", ErrDuplicateID)
}

func isPublicIDConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: indexes.public_id")
}

const sqliteIndexColumns = `id, public_id, authz_id, project_uuid, name,
	fetch_entries_key, fetch_chains_key, upsert_entries_key, insert_chains_key,
	created_at, deleted_at`

// Get returns the live record for the public id.
func (r *SQLiteRegistry) Get(ctx context.Context, publicID string) (*Index, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+sqliteIndexColumns+" FROM indexes WHERE public_id = ? AND deleted_at IS NULL",
		publicID,
	)
	index, err := scanIndex(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}
	return index, nil
}

// List returns live records, newest first.
func (r *SQLiteRegistry) List(ctx context.Context, projectUUID string) ([]*Index, error) {
	query := "SELECT " + sqliteIndexColumns + " FROM indexes WHERE deleted_at IS NULL"
	args := []any{}
	if projectUUID != "" {
		query += " AND project_uuid = ?"
		args = append(args, projectUUID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()

	var indexes []*Index
	for rows.Next() {
		index, err := scanIndex(rows)
		if err != nil {
			return nil, fmt.Errorf("list indexes: %w", err)
		}
		indexes = append(indexes, index)
	}
	return indexes, rows.Err()
}

// SoftDelete marks the record deleted.
func (r *SQLiteRegistry) SoftDelete(ctx context.Context, publicID, authzID string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE indexes SET deleted_at = ? WHERE public_id = ? AND authz_id = ? AND deleted_at IS NULL",
		time.Now().UTC().Format(time.RFC3339Nano), publicID, authzID,
	)
	if err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddStat appends one stat sample for a live index.
func (r *SQLiteRegistry) AddStat(ctx context.Context, sample StatSample) error {
	createdAt := sample.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO stats (index_id, chains_size, entries_size, created_at)
		SELECT id, ?, ?, ? FROM indexes WHERE public_id = ? AND deleted_at IS NULL`,
		sample.ChainsSize, sample.EntriesSize, createdAt.Format(time.RFC3339Nano), sample.PublicID,
	)
	if err != nil {
		return fmt.Errorf("add stat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add stat: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats returns the samples for an index, oldest first.
func (r *SQLiteRegistry) Stats(ctx context.Context, publicID string) ([]StatSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.entries_size, s.chains_size, s.created_at
		FROM stats s JOIN indexes i ON i.id = s.index_id
		WHERE i.public_id = ?
		ORDER BY s.id ASC`,
		publicID,
	)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	var samples []StatSample
	for rows.Next() {
		sample := StatSample{PublicID: publicID}
		var createdAt string
		if err := rows.Scan(&sample.EntriesSize, &sample.ChainsSize, &createdAt); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		sample.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("stats: parse created_at: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// Close closes the underlying database.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIndex(row rowScanner) (*Index, error) {
	var index Index
	var createdAt string
	var deletedAt sql.NullString

	err := row.Scan(
		&index.ID, &index.PublicID, &index.AuthzID, &index.ProjectUUID, &index.Name,
		&index.Keys.FetchEntries, &index.Keys.FetchChains,
		&index.Keys.UpsertEntries, &index.Keys.InsertChains,
		&createdAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	index.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if deletedAt.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse deleted_at: %w", err)
		}
		index.DeletedAt = &parsed
	}
	return &index, nil
}
