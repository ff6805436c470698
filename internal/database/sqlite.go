package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"caschost-go/internal/database/migrations"
	"caschost-go/internal/host"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const memoryPath = ":memory:"

// SQLiteStore implements host.CacheStore on a single root_entries table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the database at path (or ":memory:") and migrates it
// to the latest schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating cache store: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing, already migrated connection.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection.
// An in-memory database is pinned to one pooled connection, otherwise every
// new connection would see its own empty database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	return db, nil
}

const selectEntries = `SELECT path, file_data_id, name_hash, content_key, encoded_key, purge_at
	FROM root_entries ORDER BY path`

func (s *SQLiteStore) LoadEntries(ctx context.Context) ([]host.StoredEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntries)
	if err != nil {
		return nil, fmt.Errorf("querying root entries: %w", err)
	}
	defer rows.Close()

	var out []host.StoredEntry
	for rows.Next() {
		var (
			e          host.StoredEntry
			id         int64
			nameHash   int64
			ckey, ekey string
			purgeAt    sql.NullTime
		)
		if err := rows.Scan(&e.Path, &id, &nameHash, &ckey, &ekey, &purgeAt); err != nil {
			return nil, fmt.Errorf("scanning root entry: %w", err)
		}
		e.FileDataID = uint32(id)
		e.NameHash = uint64(nameHash)
		if e.ContentKey, err = host.ParseHash(ckey); err != nil {
			return nil, fmt.Errorf("root entry %s: %w", e.Path, err)
		}
		if e.EncodedKey, err = host.ParseHash(ekey); err != nil {
			return nil, fmt.Errorf("root entry %s: %w", e.Path, err)
		}
		if purgeAt.Valid {
			e.PurgeAt = purgeAt.Time.UTC()
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading root entries: %w", err)
	}
	return out, nil
}

const (
	upsertEntry = `INSERT INTO root_entries (path, file_data_id, name_hash, content_key, encoded_key, purge_at)
	VALUES (?, ?, ?, ?, ?, NULL)
	ON CONFLICT(path) DO UPDATE SET
		file_data_id = excluded.file_data_id,
		name_hash = excluded.name_hash,
		content_key = excluded.content_key,
		encoded_key = excluded.encoded_key,
		purge_at = NULL`
	softDeleteEntry = `UPDATE root_entries SET purge_at = ? WHERE path = ?`
	hardDeleteEntry = `DELETE FROM root_entries WHERE path = ? AND purge_at IS NOT NULL AND purge_at <= ?`
)

// Apply executes ops in order inside one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, ops []host.StoreOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := make(map[string]*sql.Stmt, 3)
	prepare := func(query string) (*sql.Stmt, error) {
		if st, ok := stmts[query]; ok {
			return st, nil
		}
		st, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("preparing statement: %w", err)
		}
		stmts[query] = st
		return st, nil
	}

	for i, op := range ops {
		query, args, err := statement(op)
		if err != nil {
			return err
		}
		st, err := prepare(query)
		if err != nil {
			return err
		}
		if _, err := st.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("applying op %d (%s %s): %w", i, op.Kind, op.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func statement(op host.StoreOp) (string, []any, error) {
	switch op.Kind {
	case host.OpUpsert:
		e := op.Entry
		return upsertEntry, []any{
			e.Path,
			int64(e.FileDataID),
			int64(e.NameHash),
			e.ContentKey.String(),
			e.EncodedKey.String(),
		}, nil
	case host.OpSoftDelete:
		return softDeleteEntry, []any{utc(op.At), op.Path}, nil
	case host.OpHardDelete:
		return hardDeleteEntry, []any{op.Path, utc(op.At)}, nil
	default:
		return "", nil, fmt.Errorf("unknown store op kind %d", op.Kind)
	}
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

// Wipe deletes every row.
func (s *SQLiteStore) Wipe(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM root_entries"); err != nil {
		return fmt.Errorf("wiping root entries: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Check(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ host.CacheStore = (*SQLiteStore)(nil)
