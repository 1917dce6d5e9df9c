package stage

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIndex(t *testing.T) *Index {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewIndex(db)
}

func TestIndexPutListOrdered(t *testing.T) {
	idx := setupIndex(t)

	for _, p := range []string{"b.txt", "a/z.txt", "a/a.txt", "c.txt"} {
		require.NoError(t, idx.Put(&Entry{Path: p, Status: StatusAdded}))
	}

	entries, err := idx.List()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"a/a.txt", "a/z.txt", "b.txt", "c.txt"}, paths)
}

func TestIndexRemovePath(t *testing.T) {
	idx := setupIndex(t)

	for _, p := range []string{"data/a.csv", "data/b.csv", "database.txt", "other.txt"} {
		require.NoError(t, idx.Put(&Entry{Path: p, Status: StatusAdded}))
	}

	t.Run("ExactFile", func(t *testing.T) {
		n, err := idx.RemovePath("other.txt")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("DirPrefixNotStringPrefix", func(t *testing.T) {
		// Removing data/ must not take database.txt with it.
		n, err := idx.RemovePath("data")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		entries, err := idx.List()
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "database.txt", entries[0].Path)
	})

	t.Run("DotRemovesAll", func(t *testing.T) {
		n, err := idx.RemovePath(".")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestIndexPending(t *testing.T) {
	idx := setupIndex(t)

	pending, err := idx.Pending()
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, idx.Put(&Entry{Path: "a.txt", Status: StatusUnchanged}))
	pending, err = idx.Pending()
	require.NoError(t, err)
	assert.False(t, pending, "unchanged entries alone are not a pending commit")

	require.NoError(t, idx.Put(&Entry{Path: "b.txt", Status: StatusModified}))
	pending, err = idx.Pending()
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestIndexBaseAndClear(t *testing.T) {
	idx := setupIndex(t)

	base, err := idx.Base()
	require.NoError(t, err)
	assert.Empty(t, base)

	require.NoError(t, idx.SetBase("commit-1"))
	require.NoError(t, idx.Put(&Entry{Path: "a.txt", Status: StatusAdded}))

	base, err = idx.Base()
	require.NoError(t, err)
	assert.Equal(t, "commit-1", base)

	require.NoError(t, idx.Clear())

	entries, err := idx.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	base, err = idx.Base()
	require.NoError(t, err)
	assert.Empty(t, base)
}
