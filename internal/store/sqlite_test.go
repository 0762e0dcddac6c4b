package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"momentum-backtest/internal/config"
)

func TestNewSQLite_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "momentum.db")
	st, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 2})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer st.Close()

	var mode string
	if err := st.DB().QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL journal mode, got %s", mode)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	st, err := NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.EnsureSchema(ctx, `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v INTEGER)`); err != nil {
		t.Fatalf("EnsureSchema returned error: %v", err)
	}

	boom := errors.New("boom")
	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('a', 1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('b', 2)`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx returned error: %v", err)
	}

	var count int
	if err := st.DB().QueryRow(`SELECT COUNT(1) FROM kv`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only committed row, got %d", count)
	}
}
