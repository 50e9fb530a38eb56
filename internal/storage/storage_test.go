package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/shiftq/internal/storage"
)

func TestFileStoreLoadNotExist(t *testing.T) {
	s := storage.NewFileStore(t.TempDir())
	data, err := s.Load("assembly.queue")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	base := t.TempDir()
	s := storage.NewFileStore(base)

	require.NoError(t, s.Save("assembly.queue", []byte(`[1,2]`)))
	require.NoError(t, s.Save("assembly.queue", []byte(`[3]`)))

	data, err := s.Load("assembly.queue")
	require.NoError(t, err)
	assert.Equal(t, `[3]`, string(data))

	_, err = os.Stat(filepath.Join(base, "assembly.queue.json.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestFileStoreSanitizesNames(t *testing.T) {
	base := t.TempDir()
	s := storage.NewFileStore(base)

	require.NoError(t, s.Save("../escape/attempt", []byte(`{}`)))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "_escape_attempt.json", entries[0].Name())
}

func TestFileStoreQuarantine(t *testing.T) {
	base := t.TempDir()
	s := storage.NewFileStore(base)
	require.NoError(t, s.Save("cut.sessions", []byte("{bad json")))

	require.NoError(t, storage.Quarantine(s, "cut.sessions"))

	_, err := os.Stat(filepath.Join(base, "cut.sessions.json.corrupt"))
	assert.NoError(t, err, "expected backup file to exist")

	data, err := s.Load("cut.sessions")
	require.NoError(t, err)
	assert.Nil(t, data)

	// Nothing to back up is not an error.
	assert.NoError(t, storage.Quarantine(s, "missing"))
}

func TestSQLiteStore(t *testing.T) {
	s, err := storage.OpenSQL(storage.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	data, err := s.Load("paint.queue")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.Save("paint.queue", []byte(`["a"]`)))
	require.NoError(t, s.Save("paint.queue", []byte(`["b"]`)))
	require.NoError(t, s.Save("paint.sessions", []byte(`{}`)))

	data, err = s.Load("paint.queue")
	require.NoError(t, err)
	assert.Equal(t, `["b"]`, string(data))

	// Quarantine is a no-op for stores without file backups.
	assert.NoError(t, storage.Quarantine(s, "paint.queue"))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	fs, err := storage.Open(storage.DriverFile, dir, "")
	require.NoError(t, err)
	assert.IsType(t, &storage.FileStore{}, fs)

	sq, err := storage.Open(storage.DriverSQLite, dir, "")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	_, err = os.Stat(filepath.Join(dir, "shiftq.db"))
	assert.NoError(t, err)

	_, err = storage.Open(storage.DriverMySQL, dir, "")
	assert.Error(t, err)

	_, err = storage.Open("redis", dir, "")
	assert.Error(t, err)
}
