package commits

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tuskerr "tusk/internal/errors"
	"tusk/internal/objects"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(db)
}

func fakeTree(seed string) string {
	return objects.HashBytes([]byte(seed))
}

func mustCreate(t *testing.T, s *Store, tree, message string, parents ...string) *Commit {
	t.Helper()
	if parents == nil {
		parents = []string{}
	}
	c, err := s.Create(&Commit{
		TreeHash: fakeTree(tree),
		Parents:  parents,
		Author:   "test@example.com",
		Message:  message,
	})
	require.NoError(t, err)
	return c
}

func TestCreateAndGet(t *testing.T) {
	s := setupStore(t)

	c := mustCreate(t, s, "t1", "first")
	assert.Len(t, c.ID, 64)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := s.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.TreeHash, got.TreeHash)
	assert.Equal(t, "first", got.Message)

	_, err = s.Get("does-not-exist")
	assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNotFound))
}

func TestCreateValidation(t *testing.T) {
	s := setupStore(t)

	t.Run("MissingTree", func(t *testing.T) {
		_, err := s.Create(&Commit{Message: "no tree"})
		assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeValidation))
	})

	t.Run("UnknownParent", func(t *testing.T) {
		_, err := s.Create(&Commit{
			TreeHash: fakeTree("t"),
			Parents:  []string{fakeTree("missing parent")},
		})
		assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNotFound))
	})
}

func TestComputeIDDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &Commit{TreeHash: fakeTree("t"), Parents: []string{}, Author: "a", Message: "m", CreatedAt: at}
	b := &Commit{TreeHash: fakeTree("t"), Parents: []string{}, Author: "a", Message: "m", CreatedAt: at}

	idA, err := a.ComputeID()
	require.NoError(t, err)
	idB, err := b.ComputeID()
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	// Same metadata in a different zone is still the same commit.
	b.CreatedAt = at.In(time.FixedZone("elsewhere", 3600))
	idB, err = b.ComputeID()
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	b.Message = "different"
	idB, err = b.ComputeID()
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
}

func TestPutVerifiesID(t *testing.T) {
	s := setupStore(t)

	c := &Commit{
		TreeHash:  fakeTree("t"),
		Parents:   []string{},
		Message:   "honest",
		CreatedAt: time.Now().UTC(),
	}
	id, err := c.ComputeID()
	require.NoError(t, err)
	c.ID = id
	require.NoError(t, s.Put(c))

	c.ID = fakeTree("forged id")
	err = s.Put(c)
	assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeIntegrityMismatch))
}

func TestAncestors(t *testing.T) {
	s := setupStore(t)

	root := mustCreate(t, s, "t0", "root")
	mid := mustCreate(t, s, "t1", "mid", root.ID)
	tip := mustCreate(t, s, "t2", "tip", mid.ID)

	collect := func(it *Iter) []string {
		var ids []string
		for {
			c, err := it.Next()
			require.NoError(t, err)
			if c == nil {
				return ids
			}
			ids = append(ids, c.ID)
		}
	}

	it := s.Ancestors(tip.ID)
	assert.Equal(t, []string{tip.ID, mid.ID, root.ID}, collect(it))

	// Exhausted iterators stay exhausted until reset.
	c, err := it.Next()
	require.NoError(t, err)
	assert.Nil(t, c)

	it.Reset()
	assert.Equal(t, []string{tip.ID, mid.ID, root.ID}, collect(it))
}

func TestAncestorsMergeVisitsOnce(t *testing.T) {
	s := setupStore(t)

	root := mustCreate(t, s, "t0", "root")
	left := mustCreate(t, s, "t1", "left", root.ID)
	right := mustCreate(t, s, "t2", "right", root.ID)
	merge := mustCreate(t, s, "t3", "merge", left.ID, right.ID)

	seen := map[string]int{}
	it := s.Ancestors(merge.ID)
	for {
		c, err := it.Next()
		require.NoError(t, err)
		if c == nil {
			break
		}
		seen[c.ID]++
	}

	assert.Len(t, seen, 4)
	for id, n := range seen {
		assert.Equal(t, 1, n, "commit %s visited more than once", id)
	}
}

func TestMergeBase(t *testing.T) {
	s := setupStore(t)

	root := mustCreate(t, s, "t0", "root")
	base := mustCreate(t, s, "t1", "base", root.ID)
	left := mustCreate(t, s, "t2", "left", base.ID)
	right := mustCreate(t, s, "t3", "right", base.ID)

	got, err := s.MergeBase(left.ID, right.ID)
	require.NoError(t, err)
	assert.Equal(t, base.ID, got.ID)

	// A commit is its own merge base with a descendant.
	got, err = s.MergeBase(base.ID, left.ID)
	require.NoError(t, err)
	assert.Equal(t, base.ID, got.ID)
}
