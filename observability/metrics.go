// Package observability records one row per pipeline run in SQLite.
//
// Rows are buffered and written in batches by a background goroutine, so
// recording never blocks an extraction. A full buffer triggers an immediate
// flush; write errors are logged and the batch is dropped.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/kreuzberg/idgen"
)

// Run statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusCacheHit = "cache_hit"
)

// Run is one pipeline invocation.
type Run struct {
	ID           string        `json:"id"`
	MIMEType     string        `json:"mime_type"`
	Source       string        `json:"source"` // "file" or "bytes"
	Status       string        `json:"status"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	OCRApplied   bool          `json:"ocr_applied"`
	ContentBytes int           `json:"content_bytes"`
	ChunkCount   int           `json:"chunk_count"`
	Duration     time.Duration `json:"duration_ns"`
	At           time.Time     `json:"at"`
}

// Options configures a Metrics recorder.
type Options struct {
	// BufferSize triggers a flush when reached. Default: 100.
	BufferSize int
	// FlushInterval is the periodic flush delay. Default: 5s.
	FlushInterval time.Duration
	IDs           idgen.Generator
	Logger        *slog.Logger
}

func (o *Options) defaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.IDs == nil {
		o.IDs = idgen.Prefixed("run_", idgen.Default)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Metrics buffers runs and flushes them to the extraction_runs table.
type Metrics struct {
	db   *sql.DB
	opts Options

	mu     sync.Mutex
	buffer []Run
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewMetrics applies the schema to db and starts the flush loop.
func NewMetrics(db *sql.DB, opts Options) (*Metrics, error) {
	opts.defaults()
	if err := Init(db); err != nil {
		return nil, fmt.Errorf("observability: init: %w", err)
	}
	m := &Metrics{
		db:     db,
		opts:   opts,
		buffer: make([]Run, 0, opts.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go m.flushLoop()
	return m, nil
}

// Record queues r. Missing ID and timestamp are filled in.
func (m *Metrics) Record(r Run) {
	if r.ID == "" {
		r.ID = m.opts.IDs()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, r)
	if len(m.buffer) >= m.opts.BufferSize {
		m.flushLocked()
	}
}

// Flush writes buffered runs now.
func (m *Metrics) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushLocked()
}

// Close flushes and stops the background goroutine. It is idempotent.
func (m *Metrics) Close() error {
	m.once.Do(func() {
		close(m.stop)
		<-m.done
	})
	return nil
}

func (m *Metrics) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			m.Flush()
			return
		case <-ticker.C:
			m.Flush()
		}
	}
}

func (m *Metrics) flushLocked() {
	if len(m.buffer) == 0 {
		return
	}
	defer func() { m.buffer = m.buffer[:0] }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		m.opts.Logger.Error("observability: begin tx", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO extraction_runs
		    (run_id, mime_type, source, status, error_kind, ocr_applied, content_bytes, chunk_count, duration_ms, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		m.opts.Logger.Error("observability: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, r := range m.buffer {
		if _, err := stmt.ExecContext(ctx, r.ID, r.MIMEType, r.Source, r.Status, r.ErrorKind,
			r.OCRApplied, r.ContentBytes, r.ChunkCount, r.Duration.Milliseconds(), r.At.UnixMilli()); err != nil {
			m.opts.Logger.Error("observability: insert", "error", err, "run", r.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		m.opts.Logger.Error("observability: commit", "error", err)
	}
}

// Summary aggregates runs per MIME type and status.
type Summary struct {
	MIMEType      string  `json:"mime_type"`
	Status        string  `json:"status"`
	Count         int64   `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	ContentBytes  int64   `json:"content_bytes"`
}

// Summarize returns aggregates for runs since the given time (zero = all).
func (m *Metrics) Summarize(ctx context.Context, since time.Time) ([]Summary, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT mime_type, status, COUNT(*), AVG(duration_ms), COALESCE(SUM(content_bytes), 0)
		FROM extraction_runs
		WHERE created_at >= ?
		GROUP BY mime_type, status
		ORDER BY mime_type, status`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("observability: summarize: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.MIMEType, &s.Status, &s.Count, &s.AvgDurationMs, &s.ContentBytes); err != nil {
			return nil, fmt.Errorf("observability: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Recent returns the latest runs, newest first.
func (m *Metrics) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT run_id, mime_type, source, status, error_kind, ocr_applied, content_bytes, chunk_count, duration_ms, created_at
		FROM extraction_runs ORDER BY created_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: recent: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			ms, at  int64
			errKind sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.MIMEType, &r.Source, &r.Status, &errKind, &r.OCRApplied,
			&r.ContentBytes, &r.ChunkCount, &ms, &at); err != nil {
			return nil, fmt.Errorf("observability: scan: %w", err)
		}
		r.ErrorKind = errKind.String
		r.Duration = time.Duration(ms) * time.Millisecond
		r.At = time.UnixMilli(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cleanup deletes runs older than retentionDays and returns the count.
func (m *Metrics) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := m.db.ExecContext(ctx, `DELETE FROM extraction_runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup: %w", err)
	}
	return res.RowsAffected()
}
