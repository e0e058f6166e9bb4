package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const colmapSchema = `
CREATE TABLE images (image_id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE, camera_id INTEGER NOT NULL);
CREATE TABLE keypoints (image_id INTEGER PRIMARY KEY, rows INTEGER NOT NULL, cols INTEGER NOT NULL, data BLOB);
CREATE TABLE matches (pair_id INTEGER PRIMARY KEY, rows INTEGER NOT NULL, cols INTEGER NOT NULL, data BLOB);
CREATE TABLE two_view_geometries (pair_id INTEGER PRIMARY KEY, rows INTEGER NOT NULL, cols INTEGER NOT NULL, data BLOB, config INTEGER NOT NULL);
`

func seedDatabase(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(colmapSchema)
	require.NoError(t, err)

	stmts := []string{
		`INSERT INTO images VALUES (1, 'frame_0000.png', 1), (2, 'frame_0001.png', 1), (3, 'frame_0002.png', 1)`,
		`INSERT INTO keypoints VALUES (1, 100, 6, NULL), (2, 150, 6, NULL), (3, 50, 6, NULL)`,
		`INSERT INTO matches VALUES (10, 40, 2, NULL), (11, 0, 2, NULL), (12, 12, 2, NULL)`,
		`INSERT INTO two_view_geometries VALUES (10, 35, 2, NULL, 2), (12, 0, 2, NULL, 1)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
}

func TestInspectCountsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.db")
	seedDatabase(t, path)

	stats, err := NewInspector().Inspect(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Images)
	assert.Equal(t, 300, stats.Keypoints)
	assert.Equal(t, 2, stats.MatchedPairs)
	assert.Equal(t, 1, stats.VerifiedPairs)
}

func TestInspectMissingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.db")

	_, err := NewInspector().Inspect(context.Background(), path)
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

func TestInspectEmptyFileHasNoTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE unrelated (id INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = NewInspector().Inspect(context.Background(), path)
	assert.Error(t, err)
}
