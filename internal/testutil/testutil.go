// Package testutil carries the shared test fixtures of the refresh pipeline.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"sigetidwh/internal/warehouse"
)

// MockWarehouse returns a warehouse service backed by sqlmock with regexp
// query matching, closed automatically when the test finishes.
func MockWarehouse(t *testing.T) (*warehouse.Service, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	wh := warehouse.NewService(warehouse.Config{})
	wh.SetDB(db)
	return wh, mock
}

// WriteFile writes content under the test's temp dir and returns its path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// SkipIfNoDatabase skips the test unless DWH_TEST_DSN points at a reachable
// Postgres, and returns the DSN.
func SkipIfNoDatabase(tb testing.TB) string {
	tb.Helper()

	_ = godotenv.Load()
	dsn := os.Getenv("DWH_TEST_DSN")
	if dsn == "" {
		tb.Skip("DWH_TEST_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		tb.Skip("database not available:", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		tb.Skip("database not available:", err)
	}
	return dsn
}

// IntegrationWarehouse connects a warehouse service to the test database
// named by DWH_TEST_DSN, skipping the test when none is reachable.
func IntegrationWarehouse(t *testing.T) *warehouse.Service {
	t.Helper()

	dsn := SkipIfNoDatabase(t)
	wh := warehouse.NewService(warehouse.Config{DSN: dsn, StatementTimeout: time.Minute})
	require.NoError(t, wh.Connect(context.Background()))
	t.Cleanup(func() { wh.Close() })
	return wh
}
