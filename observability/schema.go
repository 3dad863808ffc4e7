package observability

import "database/sql"

// Schema is the DDL for the extraction metrics tables.
const Schema = `
CREATE TABLE IF NOT EXISTS extraction_runs (
    run_id        TEXT PRIMARY KEY,
    mime_type     TEXT NOT NULL,
    source        TEXT NOT NULL,
    status        TEXT NOT NULL,
    error_kind    TEXT,
    ocr_applied   INTEGER NOT NULL DEFAULT 0,
    content_bytes INTEGER NOT NULL DEFAULT 0,
    chunk_count   INTEGER NOT NULL DEFAULT 0,
    duration_ms   INTEGER NOT NULL,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON extraction_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_mime_status ON extraction_runs(mime_type, status);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
