package bookmarks

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/catalog/pkg/handle"
)

func openStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db))

	s, err := NewStore(ctx, db)
	require.NoError(t, err)
	return s, db
}

var (
	fileA = handle.Location{Bucket: "bucket", Key: "a.txt"}
	fileB = handle.Location{Bucket: "bucket", Key: "dir/b #1.txt", Version: "v2"}
)

func TestStore_AddListRemove(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "main", fileA))
	require.NoError(t, s.Add(ctx, "main", fileB))
	require.NoError(t, s.Add(ctx, "main", fileA))
	require.NoError(t, s.Add(ctx, "other", fileA))

	assert.True(t, s.Contains("main", fileB))
	assert.False(t, s.Contains("main", handle.Location{Bucket: "bucket", Key: "dir/b #1.txt"}))
	assert.Equal(t, 2, s.Count("main"))
	assert.Equal(t, []string{"main", "other"}, s.Groups())

	entries, err := s.List(ctx, "main")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, fileA, entries[0].Handle)
	assert.Equal(t, fileB, entries[1].Handle)
	assert.False(t, entries[0].CreatedAt.IsZero())

	require.NoError(t, s.Remove(ctx, "other", fileA))
	assert.Equal(t, []string{"main"}, s.Groups())

	assert.ErrorIs(t, s.Add(ctx, "", fileA), ErrInvalidGroup)
}

func TestStore_ReloadsFromDB(t *testing.T) {
	s, db := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "main", fileA))

	reloaded, err := NewStore(ctx, db)
	require.NoError(t, err)
	assert.True(t, reloaded.Contains("main", fileA))
}

func TestStore_Toggle(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	added, err := s.Toggle(ctx, "main", fileA)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, s.Contains("main", fileA))

	added, err = s.Toggle(ctx, "main", fileA)
	require.NoError(t, err)
	assert.False(t, added)
	assert.False(t, s.Contains("main", fileA))

	entries, err := s.List(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPendingToggle_TentativeThenRollback(t *testing.T) {
	s, _ := openStore(t)

	op, err := s.BeginToggle("main", fileA)
	require.NoError(t, err)
	assert.True(t, op.Added)
	assert.True(t, s.Contains("main", fileA), "tentative state is visible")

	op.Rollback()
	assert.False(t, s.Contains("main", fileA))

	// Commit after Rollback does nothing.
	require.NoError(t, op.Commit(context.Background()))
	entries, err := s.List(context.Background(), "main")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPendingToggle_CompensatesOnWriteFailure(t *testing.T) {
	s, db := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "main", fileA))

	// Break the table so the confirming write fails.
	_, err := db.ExecContext(ctx, `DROP TABLE bookmarks`)
	require.NoError(t, err)

	added, err := s.Toggle(ctx, "main", fileA)
	require.Error(t, err)
	assert.True(t, added, "membership is unchanged after compensation")
	assert.True(t, s.Contains("main", fileA))

	added, err = s.Toggle(ctx, "main", fileB)
	require.Error(t, err)
	assert.False(t, added)
	assert.False(t, s.Contains("main", fileB))
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "bookmarks.db")

	dsn, err := buildDSN(Config{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "file:"+path, dsn)
	assert.DirExists(t, filepath.Join(dir, "nested"))

	dsn, err = buildDSN(Config{URL: "libsql://db.example.io", AuthToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "libsql://db.example.io?authToken=tok", dsn)

	_, err = buildDSN(Config{})
	assert.Error(t, err)
}

func TestOpen_File(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "b.db")})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	var version int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id = 1`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}
