package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kreuzberg/dbopen"
	"github.com/hazyhaar/kreuzberg/document"
)

const schema = `
CREATE TABLE IF NOT EXISTS extraction_cache (
    cache_key   TEXT PRIMARY KEY,
    mime_type   TEXT NOT NULL,
    result      TEXT NOT NULL,
    size_bytes  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    accessed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extraction_cache_accessed ON extraction_cache(accessed_at);
`

// SQLiteStore persists results as JSON rows.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLiteStore opens (or creates) the cache database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &SQLiteStore{db: db, owned: true}, nil
}

// NewSQLiteStore uses an already open database and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("cache: schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (*document.Result, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM extraction_cache WHERE cache_key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: load: %w", err)
	}
	var res document.Result
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	if _, err := dbopen.Exec(ctx, s.db, `UPDATE extraction_cache SET accessed_at = ? WHERE cache_key = ?`,
		time.Now().Unix(), key); err != nil {
		return &res, true, fmt.Errorf("cache: touch: %w", err)
	}
	return &res, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, res *document.Result, size int64) error {
	data, err := encode(res)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO extraction_cache (cache_key, mime_type, result, size_bytes, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
		    mime_type = excluded.mime_type,
		    result = excluded.result,
		    size_bytes = excluded.size_bytes,
		    accessed_at = excluded.accessed_at`,
		key, res.MIMEType, string(data), size, now, now)
	if err != nil {
		return fmt.Errorf("cache: save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM extraction_cache`); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, int64, error) {
	var n, size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM extraction_cache`).Scan(&n, &size)
	if err != nil {
		return 0, 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, size, nil
}

// Prune removes rows not accessed since before cutoff and returns how many
// were removed and how many remain.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (removed, remaining int64, err error) {
	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM extraction_cache WHERE accessed_at < ?`, cutoff.Unix())
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM extraction_cache`).Scan(&remaining)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("cache: prune: %w", err)
	}
	return removed, remaining, nil
}
