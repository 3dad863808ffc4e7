package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kreuzberg/dbopen"
)

func newMetrics(t *testing.T, buffer int) *Metrics {
	t.Helper()
	db := dbopen.OpenMemory(t)
	m, err := NewMetrics(db, Options{BufferSize: buffer, FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestInit_Idempotent(t *testing.T) {
	db := dbopen.OpenMemory(t)
	for range 2 {
		if err := Init(db); err != nil {
			t.Fatal(err)
		}
	}
	var n int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='extraction_runs'").Scan(&n)
	if n != 1 {
		t.Fatalf("extraction_runs tables = %d", n)
	}
}

func TestRecord_BufferedUntilFlush(t *testing.T) {
	m := newMetrics(t, 100)
	m.Record(Run{MIMEType: "text/plain", Source: "bytes", Status: StatusOK, Duration: 3 * time.Millisecond})

	runs, err := m.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Fatalf("runs visible before flush: %d", len(runs))
	}

	m.Flush()
	runs, err = m.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs after flush = %d", len(runs))
	}
	r := runs[0]
	if !strings.HasPrefix(r.ID, "run_") || r.Status != StatusOK || r.Duration != 3*time.Millisecond {
		t.Fatalf("run = %+v", r)
	}
}

func TestRecord_FullBufferFlushes(t *testing.T) {
	// WHAT: reaching BufferSize writes without waiting for the ticker.
	m := newMetrics(t, 2)
	m.Record(Run{MIMEType: "text/plain", Source: "bytes", Status: StatusOK})
	m.Record(Run{MIMEType: "text/html", Source: "file", Status: StatusError, ErrorKind: "parsing"})

	runs, err := m.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d", len(runs))
	}
}

func TestSummarize(t *testing.T) {
	m := newMetrics(t, 100)
	m.Record(Run{MIMEType: "text/plain", Source: "bytes", Status: StatusOK, ContentBytes: 10, Duration: 2 * time.Millisecond})
	m.Record(Run{MIMEType: "text/plain", Source: "bytes", Status: StatusOK, ContentBytes: 30, Duration: 4 * time.Millisecond})
	m.Record(Run{MIMEType: "text/plain", Source: "bytes", Status: StatusCacheHit})
	m.Flush()

	sums, err := m.Summarize(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Fatalf("summaries = %+v", sums)
	}
	// Ordered by mime then status: cache_hit < ok.
	if sums[0].Status != StatusCacheHit || sums[0].Count != 1 {
		t.Fatalf("first = %+v", sums[0])
	}
	ok := sums[1]
	if ok.Count != 2 || ok.ContentBytes != 40 || ok.AvgDurationMs != 3 {
		t.Fatalf("ok = %+v", ok)
	}
}

func TestCleanup_Retention(t *testing.T) {
	m := newMetrics(t, 100)
	m.Record(Run{MIMEType: "text/plain", Source: "bytes", Status: StatusOK, At: time.Now().AddDate(0, 0, -10)})
	m.Record(Run{MIMEType: "text/plain", Source: "bytes", Status: StatusOK})
	m.Flush()

	n, err := m.Cleanup(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d", n)
	}
	runs, _ := m.Recent(context.Background(), 10)
	if len(runs) != 1 {
		t.Fatalf("remaining = %d", len(runs))
	}
}

func TestClose_FlushesAndIsIdempotent(t *testing.T) {
	db := dbopen.OpenMemory(t)
	m, err := NewMetrics(db, Options{FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	m.Record(Run{MIMEType: "application/pdf", Source: "file", Status: StatusOK, OCRApplied: true})
	m.Close()
	m.Close()

	var ocr bool
	if err := db.QueryRow("SELECT ocr_applied FROM extraction_runs").Scan(&ocr); err != nil {
		t.Fatal(err)
	}
	if !ocr {
		t.Fatal("ocr_applied not persisted")
	}
}
