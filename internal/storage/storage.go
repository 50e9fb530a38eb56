package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists named records. Each record is replaced as a whole.
type Store interface {
	// Load returns the record stored under name, or nil if there is none.
	Load(name string) ([]byte, error)
	// Save atomically replaces the record stored under name.
	Save(name string, data []byte) error
	Close() error
}

// Quarantiner is implemented by stores that can set a corrupt record aside
// for later inspection instead of silently overwriting it.
type Quarantiner interface {
	Quarantine(name string) error
}

// Quarantine moves a corrupt record out of the way if s supports it.
func Quarantine(s Store, name string) error {
	if q, ok := s.(Quarantiner); ok {
		return q.Quarantine(name)
	}
	return nil
}

// Driver names accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// Open returns the store selected by driver. dir is used by the file store and
// as the default location of the sqlite database; dsn is required for mysql.
func Open(driver, dir, dsn string) (Store, error) {
	switch driver {
	case "", DriverFile:
		return NewFileStore(dir), nil
	case DriverSQLite:
		if dsn == "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("storage error creating directories: %w", err)
			}
			dsn = filepath.Join(dir, "shiftq.db")
		}
		return OpenSQL(DriverSQLite, dsn)
	case DriverMySQL:
		if dsn == "" {
			return nil, errors.New("mysql storage requires a dsn")
		}
		return OpenSQL(DriverMySQL, dsn)
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}

// FileStore keeps each record as a JSON file below a base directory.
type FileStore struct {
	base string
}

// NewFileStore returns a store rooted at base. The directory is created lazily.
func NewFileStore(base string) *FileStore {
	return &FileStore{base: base}
}

// recordPath maps a record name to a file name, replacing anything outside
// [A-Za-z0-9._-] so names can't escape the base directory.
func (s *FileStore) recordPath(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
	clean = strings.TrimLeft(clean, ".")
	if clean == "" {
		clean = "_"
	}
	return filepath.Join(s.base, clean+".json")
}

// Load reads the record for name. Returns nil data if the file does not exist.
func (s *FileStore) Load(name string) ([]byte, error) {
	path := s.recordPath(name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage error reading %s: %w", path, err)
	}
	return data, nil
}

// Save atomically writes the record for name.
func (s *FileStore) Save(name string, data []byte) error {
	path := s.recordPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("storage error creating directories: %w", err)
	}

	// Atomic write: write to temp file then rename.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	return nil
}

// Quarantine backs a corrupt record up to <file>.corrupt.
func (s *FileStore) Quarantine(name string) error {
	path := s.recordPath(name)
	if err := os.Rename(path, path+".corrupt"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage error backing up %s: %w", path, err)
	}
	return nil
}

// Close is a no-op for file stores.
func (s *FileStore) Close() error { return nil }
