package storage

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_mysql.sql
var mysqlSchema string

// SQLStore keeps records in a single `records` table of a sqlite or mysql database.
type SQLStore struct {
	db     *sql.DB
	upsert string
}

// OpenSQL opens the database for driver ("sqlite3" or "mysql") and applies the schema.
//
// sqlite databases are configured with WAL journaling, NORMAL synchronous mode
// and a 5-second busy timeout, and limited to a single connection.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	var schema, upsert string
	switch driver {
	case DriverSQLite:
		schema = sqliteSchema
		upsert = `INSERT INTO records (name, data, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	case DriverMySQL:
		schema = mysqlSchema
		upsert = `INSERT INTO records (name, data, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)`
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
			}
		}
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &SQLStore{db: db, upsert: upsert}, nil
}

// Load returns the record for name, or nil if no row exists.
func (s *SQLStore) Load(name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM records WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", name, err)
	}
	return data, nil
}

// Save upserts the record for name in a single statement.
func (s *SQLStore) Save(name string, data []byte) error {
	if _, err := s.db.Exec(s.upsert, name, data, time.Now().UTC().Round(time.Microsecond)); err != nil {
		return fmt.Errorf("save record %s: %w", name, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
