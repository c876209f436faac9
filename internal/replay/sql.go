package replay

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"webhook-verifier/internal/common/errors"
	"webhook-verifier/internal/common/logging"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const nonceTable = "webhook_nonces"

// SQLStore keeps nonces in a table keyed by nonce with an expiry in Unix
// milliseconds. Claims use an upsert that only overwrites expired rows.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	sweeper *Sweeper
}

// OpenSQLStore opens dsn with the driver for dialect and prepares the table.
// For SQLite dsn is a file path or ":memory:"; for PostgreSQL it is a pgx
// connection string.
func OpenSQLStore(dialect Dialect, dsn string, sweepInterval time.Duration, logger logging.Logger) (*SQLStore, error) {
	var db *sql.DB

	switch dialect {
	case DialectSQLite:
		var err error
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		// one connection keeps ":memory:" databases shared and serializes writers
		db.SetMaxOpenConns(1)
	case DialectPostgres:
		connConfig, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid PostgreSQL DSN: %w", err)
		}
		db = stdlib.OpenDB(*connConfig)
	default:
		return nil, fmt.Errorf("unsupported SQL dialect: %q", dialect)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := NewSQLStore(db, dialect, sweepInterval, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore uses an existing connection and creates the table if needed.
func NewSQLStore(db *sql.DB, dialect Dialect, sweepInterval time.Duration, logger logging.Logger) (*SQLStore, error) {
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		now:     time.Now,
	}
	s.sweeper = NewSweeper(s, sweepInterval, logger)

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate nonce table: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ` + nonceTable + ` (
			nonce TEXT PRIMARY KEY,
			expires_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_nonces_expires_at ON ` + nonceTable + ` (expires_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Start schedules the expiry sweep.
func (s *SQLStore) Start() error {
	return s.sweeper.Start()
}

// Close stops the sweep and closes the database.
func (s *SQLStore) Close() error {
	s.sweeper.Stop()
	return s.db.Close()
}

func (s *SQLStore) Seen(ctx context.Context, key string) (bool, error) {
	query := s.rebind(`SELECT COUNT(1) FROM ` + nonceTable + ` WHERE nonce = ? AND expires_at > ?`)

	var count int
	if err := s.db.QueryRowContext(ctx, query, key, s.now().UnixMilli()).Scan(&count); err != nil {
		return false, errors.ConnectionError("nonce lookup failed", err)
	}
	return count > 0, nil
}

func (s *SQLStore) Record(ctx context.Context, key string, expiresAt time.Time) error {
	query := s.rebind(`INSERT INTO ` + nonceTable + ` (nonce, expires_at) VALUES (?, ?)
		ON CONFLICT (nonce) DO UPDATE SET expires_at = excluded.expires_at`)

	if _, err := s.db.ExecContext(ctx, query, key, expiresAt.UnixMilli()); err != nil {
		return errors.ConnectionError("nonce write failed", err)
	}
	return nil
}

func (s *SQLStore) Claim(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	query := s.rebind(`INSERT INTO ` + nonceTable + ` (nonce, expires_at) VALUES (?, ?)
		ON CONFLICT (nonce) DO UPDATE SET expires_at = excluded.expires_at
		WHERE ` + nonceTable + `.expires_at <= ?`)

	result, err := s.db.ExecContext(ctx, query, key, expiresAt.UnixMilli(), s.now().UnixMilli())
	if err != nil {
		return false, errors.ConnectionError("nonce claim failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.ConnectionError("nonce claim failed", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) Cleanup(ctx context.Context) (int, error) {
	query := s.rebind(`DELETE FROM ` + nonceTable + ` WHERE expires_at <= ?`)

	result, err := s.db.ExecContext(ctx, query, s.now().UnixMilli())
	if err != nil {
		return 0, errors.ConnectionError("nonce cleanup failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.ConnectionError("nonce cleanup failed", err)
	}
	return int(affected), nil
}

func (s *SQLStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.ConnectionError("database unreachable", err)
	}
	return nil
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
