package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/harrier/internal/domain"
)

const pingTimeout = 5 * time.Second

// sqliteDSN builds the modernc.org/sqlite connection string. WAL and a busy
// timeout let concurrent tracker writers queue instead of failing.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared&_pragma=foreign_keys(ON)"
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(ON)")
	return "file:" + path + "?" + q.Encode()
}

// openSQLite opens a SQLite database connection.
// Uses modernc.org/sqlite for pure Go implementation (no CGO required).
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./harrier.db"
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

// postgresDSN builds a lib/pq URL connection string.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "harrier"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + strconv.Itoa(port),
		Path:     "/" + dbname,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String()
}

// openPostgres opens a PostgreSQL database connection.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return db, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}
