package awareness

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // cgo-free SQLite driver
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteStore persists collections in a single key-value table, one JSON
// record per (collection, key) row. The schema is applied idempotently on
// every open.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewSQLiteStore opens or creates the database file at path. The connection
// pool is capped at one connection; SQLite serializes writers anyway and a
// single connection keeps the WAL small.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, ownsDB: true}
	if err := s.init(true); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

// NewSQLiteStoreWithDB wraps an existing connection, which stays owned by
// the caller and is not closed by Close. Tests use this with an in-memory
// database.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.init(false); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(pragmas bool) error {
	if pragmas {
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL;",
			"PRAGMA synchronous = NORMAL;",
			"PRAGMA busy_timeout = 5000;",
		} {
			if _, err := s.db.Exec(pragma); err != nil {
				return fmt.Errorf("apply %q: %w", pragma, err)
			}
		}
	}
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) put(ctx context.Context, col Collection, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", col, key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (collection, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (collection, key)
		DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		string(col), key, string(data))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", col, key, err)
	}
	return nil
}

func (s *SQLiteStore) get(ctx context.Context, col Collection, key string, into any) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE collection = ? AND key = ?`,
		string(col), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", col, key, err)
	}
	if err := json.Unmarshal([]byte(data), into); err != nil {
		return fmt.Errorf("decode %s/%s: %w", col, key, err)
	}
	return nil
}

func (s *SQLiteStore) delete(ctx context.Context, col Collection, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE collection = ? AND key = ?`, string(col), key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", col, key, err)
	}
	return nil
}

// PutContext upserts the record's JSON form under its id.
func (s *SQLiteStore) PutContext(ctx context.Context, col Collection, rec *Context) error {
	return s.put(ctx, col, rec.ID, rec)
}

// GetContext reads one record, returning ErrKeyNotFound for missing ids.
func (s *SQLiteStore) GetContext(ctx context.Context, col Collection, id string) (*Context, error) {
	var rec Context
	if err := s.get(ctx, col, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteContext removes one record. Missing ids are not an error.
func (s *SQLiteStore) DeleteContext(ctx context.Context, col Collection, id string) error {
	return s.delete(ctx, col, id)
}

// ListContexts returns every record in the collection, oldest first.
func (s *SQLiteStore) ListContexts(ctx context.Context, col Collection) ([]*Context, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM kv WHERE collection = ?`, string(col))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", col, err)
	}
	defer rows.Close()

	var records []*Context
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("list %s: %w", col, err)
		}
		var rec Context
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", col, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", col, err)
	}
	sortContexts(records)
	return records, nil
}

// PutReference stores one token's resolution in the references collection.
func (s *SQLiteStore) PutReference(ctx context.Context, token string, rec ReferenceRecord) error {
	return s.put(ctx, CollectionReferences, token, rec)
}

// DeleteReference drops one token.
func (s *SQLiteStore) DeleteReference(ctx context.Context, token string) error {
	return s.delete(ctx, CollectionReferences, token)
}

// ListReferences returns the whole references collection keyed by token.
func (s *SQLiteStore) ListReferences(ctx context.Context) (map[string]ReferenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE collection = ?`, string(CollectionReferences))
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ReferenceRecord)
	for rows.Next() {
		var token, data string
		if err := rows.Scan(&token, &data); err != nil {
			return nil, fmt.Errorf("list references: %w", err)
		}
		var rec ReferenceRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode reference %q: %w", token, err)
		}
		out[token] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	return out, nil
}

// Close checkpoints the WAL and closes the connection when this store owns
// it; wrapped connections are left open for their creator.
func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		log.Warn().Err(err).Msg("wal checkpoint on close failed")
	}
	return s.db.Close()
}
