package refs

import (
	"fmt"
	"sync"
	"testing"

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

func id(seed string) string {
	return objects.HashBytes([]byte(seed))
}

func TestCompareAndSwap(t *testing.T) {
	s := setupStore(t)

	t.Run("CreateWithEmptyExpected", func(t *testing.T) {
		require.NoError(t, s.CompareAndSwap("main", "", id("c1")))

		got, err := s.Get("main")
		require.NoError(t, err)
		assert.Equal(t, id("c1"), got)
	})

	t.Run("Advance", func(t *testing.T) {
		require.NoError(t, s.CompareAndSwap("main", id("c1"), id("c2")))

		got, err := s.Get("main")
		require.NoError(t, err)
		assert.Equal(t, id("c2"), got)
	})

	t.Run("StaleExpected", func(t *testing.T) {
		err := s.CompareAndSwap("main", id("c1"), id("c3"))
		assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNonFastForward))

		// The pointer is untouched after a failed swap.
		got, err := s.Get("main")
		require.NoError(t, err)
		assert.Equal(t, id("c2"), got)
	})

	t.Run("CreateWhenAlreadyExists", func(t *testing.T) {
		err := s.CompareAndSwap("main", "", id("c9"))
		assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNonFastForward))
	})

	t.Run("Validation", func(t *testing.T) {
		assert.True(t, tuskerr.IsType(s.CompareAndSwap("", "", id("c")), tuskerr.ErrorTypeValidation))
		assert.True(t, tuskerr.IsType(s.CompareAndSwap("main", id("c2"), ""), tuskerr.ErrorTypeValidation))
	})
}

// Many writers race the same branch; exactly one may win each generation.
func TestCompareAndSwapConcurrent(t *testing.T) {
	s := setupStore(t)
	require.NoError(t, s.CompareAndSwap("main", "", id("base")))

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan string, racers)

	for i := 0; i < racers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := id(fmt.Sprintf("candidate-%d", i))
			if err := s.CompareAndSwap("main", id("base"), next); err == nil {
				wins <- next
			} else {
				assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNonFastForward))
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	got, err := s.Get("main")
	require.NoError(t, err)
	assert.Equal(t, winners[0], got)
}

func TestGetAndList(t *testing.T) {
	s := setupStore(t)

	_, err := s.Get("nope")
	assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNotFound))

	require.NoError(t, s.CompareAndSwap("main", "", id("m")))
	require.NoError(t, s.CompareAndSwap("dev", "", id("d")))

	branches, err := s.List()
	require.NoError(t, err)
	require.Len(t, branches, 2)
	// Badger key order: listing comes back sorted by name.
	assert.Equal(t, "dev", branches[0].Name)
	assert.Equal(t, "main", branches[1].Name)
}

func TestHead(t *testing.T) {
	s := setupStore(t)

	_, err := s.Head()
	assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNotFound))

	require.NoError(t, s.SetHead("main"))
	name, err := s.Head()
	require.NoError(t, err)
	assert.Equal(t, "main", name)
}

func TestSetForces(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Set("main", id("a")))
	require.NoError(t, s.Set("main", id("b")))

	got, err := s.Get("main")
	require.NoError(t, err)
	assert.Equal(t, id("b"), got)
}
