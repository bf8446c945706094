package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tutor.db")

	db, err := Open(path)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	require.Equal(t, 1, n)
	_, err = db.Exec(`INSERT INTO documents (id, filename, stored_path, size_bytes, chunk_count) VALUES ('d1', 'a.txt', '/tmp/a', 1, 0)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestOpen_ForeignKeysCascade(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "tutor.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO documents (id, filename, stored_path, size_bytes, chunk_count) VALUES ('d1', 'a.txt', '/tmp/a', 1, 1)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO document_chunks (document_id, seq, content) VALUES ('d1', 0, 'hello')`)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM documents WHERE id = 'd1'`)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM document_chunks`).Scan(&n))
	require.Equal(t, 0, n)
}
