package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	work := t.TempDir()
	store, err := NewStore(filepath.Join(work, "backups"), utils.DiscardLogger())
	require.NoError(t, err)
	return store, work
}

func TestSnapshotAndRollbackRestoresFiles(t *testing.T) {
	store, work := newTestStore(t)
	settings := filepath.Join(work, "config", "settings.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(settings), 0o755))
	require.NoError(t, os.WriteFile(settings, []byte("ai:\n  request_delay_seconds: 0.5\n"), 0o600))
	migration := filepath.Join(work, "migrations", "001_fix.sql")

	id, err := store.Snapshot([]string{settings, migration, settings}, map[string]string{"issue_type": "rate_limiting"})
	require.NoError(t, err)

	manifest, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []string{settings}, manifest.Files)
	assert.Equal(t, []string{migration}, manifest.Missing)
	assert.Equal(t, "rate_limiting", manifest.Metadata["issue_type"])

	require.NoError(t, os.WriteFile(settings, []byte("ai:\n  request_delay_seconds: 0.8\n"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Dir(migration), 0o755))
	require.NoError(t, os.WriteFile(migration, []byte("ALTER TABLE x;"), 0o644))

	ok, err := store.Rollback(id)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(settings)
	require.NoError(t, err)
	assert.Equal(t, "ai:\n  request_delay_seconds: 0.5\n", string(data))
	_, err = os.Stat(migration)
	assert.True(t, os.IsNotExist(err), "created file should be removed on rollback")

	info, err := os.Stat(settings)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRollbackUnknownIDWritesNothing(t *testing.T) {
	store, work := newTestStore(t)
	target := filepath.Join(work, "settings.yaml")
	require.NoError(t, os.WriteFile(target, []byte("current"), 0o644))

	for _, id := range []string{"20990101-000000.000000", "", "../etc", "."} {
		ok, err := store.Rollback(id)
		assert.False(t, ok, id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "current", string(data))

	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRollbackWithoutManifestIsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, os.Mkdir(filepath.Join(store.Root(), "20240101-000000.000000"), 0o755))

	ok, err := store.Rollback("20240101-000000.000000")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	store, work := newTestStore(t)
	file := filepath.Join(work, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0o644))

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		store.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		id, err := store.Snapshot([]string{file}, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	refs, err := store.List()
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, ids[2], refs[0].ID)
	assert.Equal(t, ids[0], refs[2].ID)
	assert.Equal(t, []string{file}, refs[0].Files)
}

func TestSnapshotSameInstantGetsDistinctIDs(t *testing.T) {
	store, work := newTestStore(t)
	file := filepath.Join(work, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0o644))
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	first, err := store.Snapshot([]string{file}, nil)
	require.NoError(t, err)
	second, err := store.Snapshot([]string{file}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
