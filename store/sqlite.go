package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store over a relational SQLite database.
//
// CAS relies on single-statement atomicity: a conditional UPDATE (value must
// still equal the expected old value) or an INSERT ... ON CONFLICT DO NOTHING
// (uid must not exist yet). A statement that affects zero rows is a CAS
// mismatch and the current value is reported back.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteStoreSchema = `
CREATE TABLE IF NOT EXISTS entries (
	index_id TEXT NOT NULL,
	uid      BLOB NOT NULL,
	value    BLOB NOT NULL,
	PRIMARY KEY (index_id, uid)
);
CREATE TABLE IF NOT EXISTS chains (
	index_id TEXT NOT NULL,
	uid      BLOB NOT NULL,
	value    BLOB NOT NULL,
	PRIMARY KEY (index_id, uid)
);`

// NewSQLiteStore opens (or creates) a SQLite-backed store.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// modernc sqlite allows a single writer; funnel all statements through
	// one connection so concurrent CAS rounds queue instead of failing busy.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteStoreSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Fetch performs a batched point lookup.
func (s *SQLiteStore) Fetch(ctx context.Context, indexID string, table Table, uids []UID) (map[UID][]byte, error) {
	out := make(map[UID][]byte, len(uids))
	if len(uids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uids)), ",")
	query := fmt.Sprintf(
		"SELECT uid, value FROM %s WHERE index_id = ? AND uid IN (%s)",
		table, placeholders,
	)

	args := make([]any, 0, len(uids)+1)
	args = append(args, indexID)
	for _, uid := range uids {
		args = append(args, uid[:])
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rawUID, value []byte
		if err := rows.Scan(&rawUID, &value); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", table, err)
		}
		uid, err := UIDFromBytes(rawUID)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", table, err)
		}
		out[uid] = value
	}
	return out, rows.Err()
}

// UpsertEntries applies conditional writes to the entries table.
func (s *SQLiteStore) UpsertEntries(ctx context.Context, indexID string, items []Upsert) ([]Record, error) {
	var rejected []Record

	for _, item := range items {
		var res sql.Result
		var err error

		if item.OldValue == nil {
			res, err = s.db.ExecContext(ctx,
				"INSERT INTO entries (index_id, uid, value) VALUES (?, ?, ?) ON CONFLICT (index_id, uid) DO NOTHING",
				indexID, item.UID[:], item.NewValue,
			)
		} else {
			res, err = s.db.ExecContext(ctx,
				"UPDATE entries SET value = ? WHERE index_id = ? AND uid = ? AND value = ?",
				item.NewValue, indexID, item.UID[:], item.OldValue,
			)
		}
		if err != nil {
			return nil, fmt.Errorf("upsert entries: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("upsert entries: %w", err)
		}
		if affected > 0 {
			continue
		}

		current, err := s.currentValue(ctx, indexID, item.UID)
		if err != nil {
			return nil, err
		}
		rejected = append(rejected, Record{UID: item.UID, Value: current})
	}

	return rejected, nil
}

func (s *SQLiteStore) currentValue(ctx context.Context, indexID string, uid UID) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM entries WHERE index_id = ? AND uid = ?",
		indexID, uid[:],
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read current value: %w", err)
	}
	return value, nil
}

// InsertChains inserts rows into the chains table, skipping existing uids.
func (s *SQLiteStore) InsertChains(ctx context.Context, indexID string, items []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert chains: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chains (index_id, uid, value) VALUES (?, ?, ?) ON CONFLICT (index_id, uid) DO NOTHING",
	)
	if err != nil {
		return fmt.Errorf("insert chains: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, indexID, item.UID[:], item.Value); err != nil {
			return fmt.Errorf("insert chains: %w", err)
		}
	}
	return tx.Commit()
}

// Sizes reports stored value bytes per table.
func (s *SQLiteStore) Sizes(ctx context.Context, indexID string) (entries, chains int64, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(LENGTH(value)), 0) FROM entries WHERE index_id = ?", indexID,
	).Scan(&entries)
	if err != nil {
		return 0, 0, fmt.Errorf("entries size: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(LENGTH(value)), 0) FROM chains WHERE index_id = ?", indexID,
	).Scan(&chains)
	if err != nil {
		return 0, 0, fmt.Errorf("chains size: %w", err)
	}
	return entries, chains, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
