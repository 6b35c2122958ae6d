package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"

	"sigetidwh/pkg/errors"
)

// Service provides Postgres operations for the refresh pipeline. One service
// wraps one endpoint (source or target); each component of a refresh tier
// runs its statements through its own connection from the pool.
type Service struct {
	db        *sql.DB
	config    Config
	connected bool
}

// Config holds connection configuration for one Postgres endpoint.
type Config struct {
	DSN              string
	StatementTimeout time.Duration
	MaxOpenConns     int
	MaxIdleConns     int
}

// NewService creates a new warehouse service
func NewService(config Config) *Service {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.StatementTimeout == 0 {
		config.StatementTimeout = 10 * time.Minute
	}
	return &Service{config: config}
}

// Connect establishes the connection pool, forcing UTF8 client encoding.
func (s *Service) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	dsn, err := withClientEncoding(s.config.DSN)
	if err != nil {
		return errors.ConfigError(fmt.Sprintf("invalid DSN: %v", err), "dsn")
	}

	operation := func() error {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return backoff.Permanent(err)
		}

		db.SetMaxOpenConns(s.config.MaxOpenConns)
		db.SetMaxIdleConns(s.config.MaxIdleConns)
		db.SetConnMaxLifetime(10 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return err
		}

		s.db = db
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return errors.ConnectionError("failed to connect to Postgres", err)
	}

	s.connected = true
	return nil
}

// Close closes the connection pool
func (s *Service) Close() error {
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.db.Close()
}

// Ping verifies the connection is alive
func (s *Service) Ping(ctx context.Context) error {
	if !s.connected {
		return fmt.Errorf("not connected to database")
	}
	return s.db.PingContext(ctx)
}

// ExecTx runs fn inside a transaction with the configured server-side
// statement timeout. Readers of swapped tables see either the old or the new
// version, never a partial one.
func (s *Service) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if !s.connected {
		return fmt.Errorf("not connected to database")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLExecution, "failed to begin transaction")
	}

	timeoutMillis := s.config.StatementTimeout.Milliseconds()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutMillis)); err != nil {
		_ = tx.Rollback()
		return errors.SQLError("failed to set statement timeout", "SET LOCAL statement_timeout", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLExecution, "failed to commit transaction")
	}
	return nil
}

// ExecuteSQL executes a sequence of statements inside one transaction.
func (s *Service) ExecuteSQL(ctx context.Context, statements ...string) error {
	return s.ExecTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range statements {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return errors.SQLError(
					fmt.Sprintf("failed to execute statement %d of %d", i+1, len(statements)),
					stmt, err)
			}
		}
		return nil
	})
}

// QueryContext runs a read-only query
func (s *Service) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if !s.connected {
		return nil, fmt.Errorf("not connected to database")
	}
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query
func (s *Service) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// EnsureSchema creates a schema if it does not exist
func (s *Service) EnsureSchema(ctx context.Context, schema string) error {
	return s.ExecuteSQL(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
}

// SwapTable materializes buildSQL (a full SELECT) as schema.table via a
// staging table renamed inside one transaction, so the swap is atomic.
func (s *Service) SwapTable(ctx context.Context, schema, table, buildSQL string) error {
	staging := table + "__staging"
	err := s.ExecuteSQL(ctx,
		fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", schema, staging),
		fmt.Sprintf("CREATE TABLE %s.%s AS %s", schema, staging, buildSQL),
		fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", schema, table),
		fmt.Sprintf("ALTER TABLE %s.%s RENAME TO %s", schema, staging, table),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSwapFailed,
			fmt.Sprintf("failed to swap table %s.%s", schema, table))
	}
	return nil
}

// CommentOnColumn records a column comment; used to document known
// imprecisions such as the arbitrary zone picked for multi-zone invoices.
func (s *Service) CommentOnColumn(ctx context.Context, schema, table, column, comment string) error {
	return s.ExecuteSQL(ctx, fmt.Sprintf(
		"COMMENT ON COLUMN %s.%s.%s IS '%s'",
		schema, table, column, strings.ReplaceAll(comment, "'", "''")))
}

// RowCount returns the row count of a target table
func (s *Service) RowCount(ctx context.Context, schema, table string) (int64, error) {
	var count int64
	err := s.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", schema, table)).Scan(&count)
	if err != nil {
		return 0, errors.SQLError("failed to count rows", "SELECT COUNT(*)", err)
	}
	return count, nil
}

// TableChecksum computes an order-independent content hash of a table. Two
// consecutive full refreshes over an unchanged source must produce equal
// checksums for every mart.
func (s *Service) TableChecksum(ctx context.Context, schema, table string) (string, error) {
	query := fmt.Sprintf(
		"SELECT COALESCE(md5(string_agg(row_hash, '' ORDER BY row_hash)), 'empty') FROM (SELECT md5(CAST(t.* AS text)) AS row_hash FROM %s.%s t) h",
		schema, table)

	var sum string
	if err := s.QueryRowContext(ctx, query).Scan(&sum); err != nil {
		return "", errors.SQLError("failed to checksum table", query, err)
	}
	return sum, nil
}

// DB exposes the underlying pool for test wiring
func (s *Service) DB() *sql.DB {
	return s.db
}

// SetDB injects an existing pool; used by tests with sqlmock
func (s *Service) SetDB(db *sql.DB) {
	s.db = db
	s.connected = db != nil
}

// withClientEncoding appends client_encoding=UTF8 to URL or key/value DSNs.
func withClientEncoding(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		q := u.Query()
		if q.Get("client_encoding") == "" {
			q.Set("client_encoding", "UTF8")
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	if !strings.Contains(dsn, "client_encoding=") {
		return dsn + " client_encoding=UTF8", nil
	}
	return dsn, nil
}
