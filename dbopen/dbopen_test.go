package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kreuzberg/dbopen"
)

func TestOpenPragmas(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var journal string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journal); err != nil {
		t.Fatal(err)
	}
	// :memory: reports "memory" even after the WAL pragma.
	if journal != "wal" && journal != "memory" {
		t.Fatalf("journal_mode = %q", journal)
	}
	var fk, sync, busy int
	db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	db.QueryRow("PRAGMA synchronous").Scan(&sync)
	db.QueryRow("PRAGMA busy_timeout").Scan(&busy)
	if fk != 1 || sync != 1 || busy != 10_000 {
		t.Fatalf("foreign_keys=%d synchronous=%d busy_timeout=%d", fk, sync, busy)
	}
}

func TestOptions(t *testing.T) {
	db := dbopen.OpenMemory(t,
		dbopen.WithSynchronous("FULL"),
		dbopen.WithSchema("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)"),
	)
	var sync int
	db.QueryRow("PRAGMA synchronous").Scan(&sync)
	if sync != 2 {
		t.Fatalf("synchronous=%d", sync)
	}
	if _, err := db.Exec("INSERT INTO t (v) VALUES ('x')"); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}
}

func TestWithMkdirAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cache.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatal(err)
	}
	db.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
}

func TestBadSchema(t *testing.T) {
	if _, err := dbopen.Open(":memory:", dbopen.WithSchema("NOT SQL")); err == nil {
		t.Fatal("expected schema error")
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked"), true},
		{errors.New("database table is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTx(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema("CREATE TABLE t (v TEXT)"))
	ctx := context.Background()

	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t VALUES ('a')")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	// WHAT: an error from fn rolls the transaction back.
	// WHY: cache writes are all-or-nothing.
	boom := errors.New("boom")
	err = dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.Exec("INSERT INTO t VALUES ('b')")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	var n int
	db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n)
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema("CREATE TABLE t (v TEXT)"))
	res, err := dbopen.Exec(context.Background(), db, "INSERT INTO t VALUES (?)", "x")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("rows affected = %d", n)
	}
}

func TestRunTxContextCancelled(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := dbopen.RunTx(ctx, db, func(*sql.Tx) error { return nil })
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
