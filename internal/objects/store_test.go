package objects

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tuskerr "tusk/internal/errors"
)

func setupStore(t *testing.T) *FileStore {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewFileStore(db, Options{Root: t.TempDir()})
	require.NoError(t, err)
	return store
}

// repeat builds deterministic content of the given size so chunked-object
// tests behave identically on every run.
func repeat(pattern string, size int) []byte {
	out := make([]byte, 0, size)
	for len(out) < size {
		out = append(out, pattern...)
	}
	return out[:size]
}

func TestStorePutGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		content := []byte("hello\n")

		hash, err := store.Put(ctx, content)
		require.NoError(t, err)
		assert.Equal(t, HashBytes(content), hash)
		assert.Len(t, hash, 64)

		got, err := store.Get(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, content, got)

		size, err := store.Size(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), size)
	})

	t.Run("PutIsIdempotent", func(t *testing.T) {
		content := []byte("same bytes twice")

		first, err := store.Put(ctx, content)
		require.NoError(t, err)
		second, err := store.Put(ctx, content)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("EmptyContent", func(t *testing.T) {
		hash, err := store.Put(ctx, []byte{})
		require.NoError(t, err)

		got, err := store.Get(ctx, hash)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("MissingObject", func(t *testing.T) {
		_, err := store.Get(ctx, HashBytes([]byte("never stored")))
		assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNotFound))
	})

	t.Run("MalformedHash", func(t *testing.T) {
		_, err := store.Get(ctx, "not-a-hash")
		assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeValidation))
	})

	t.Run("Exists", func(t *testing.T) {
		hash, err := store.Put(ctx, []byte("present"))
		require.NoError(t, err)

		ok, err := store.Exists(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Exists(ctx, HashBytes([]byte("absent")))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStoreCompressibleContent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// Highly repetitive content well above the compression floor comes
	// back byte-identical regardless of on-disk encoding.
	content := repeat("abcdabcdabcd", 64*1024)

	hash, err := store.Put(ctx, content)
	require.NoError(t, err)

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

// Content that is itself a zstd frame, a .zst shard in a dataset being the
// obvious case, must come back verbatim on a cold read. The read path
// trusts the metadata's compressed flag, never the shape of the bytes.
func TestStoreZstdFrameContent(t *testing.T) {
	ctx := context.Background()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	store, err := NewFileStore(db, Options{Root: root})
	require.NoError(t, err)

	// Deterministic noise keeps the second frame above the size floor where
	// the store attempts its own compression.
	noise := make([]byte, 8*kiB)
	x := uint32(1)
	for i := range noise {
		x = x*1664525 + 1013904223
		noise[i] = byte(x >> 24)
	}

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	small := enc.EncodeAll([]byte("payload inside a frame"), nil)
	big := enc.EncodeAll(noise, nil)
	require.NoError(t, enc.Close())
	require.Equal(t, []byte{0x28, 0xB5, 0x2F, 0xFD}, small[:4])
	require.Greater(t, len(big), minCompressSize)

	smallHash, err := store.Put(ctx, small)
	require.NoError(t, err)
	bigHash, err := store.Put(ctx, big)
	require.NoError(t, err)

	// A second store over the same data starts with an empty LRU, so these
	// reads come from disk rather than the cache the writer populated.
	reopened, err := NewFileStore(db, Options{Root: root})
	require.NoError(t, err)

	got, err := reopened.Get(ctx, smallHash)
	require.NoError(t, err)
	assert.Equal(t, small, got)

	got, err = reopened.Get(ctx, bigHash)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(big, got))
}

func TestStoreChunkedObjects(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	content := repeat("0123456789abcdef", chunkThreshold+2*miB)

	t.Run("RoundTrip", func(t *testing.T) {
		hash, err := store.Put(ctx, content)
		require.NoError(t, err)
		assert.Equal(t, HashBytes(content), hash)

		got, err := store.Get(ctx, hash)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(content, got))

		size, err := store.Size(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), size)
	})

	t.Run("OpenStreams", func(t *testing.T) {
		hash, err := store.Put(ctx, content)
		require.NoError(t, err)

		rd, err := store.Open(ctx, hash)
		require.NoError(t, err)
		defer rd.Close()

		got, err := io.ReadAll(rd)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(content, got))
	})

	t.Run("PutFileMatchesPut", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.bin")
		require.NoError(t, os.WriteFile(path, content, 0644))

		hash, size, err := store.PutFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, HashBytes(content), hash)
		assert.Equal(t, int64(len(content)), size)
	})
}

// Chunk boundaries come from a fixed polynomial, so two independent
// stores cut identical content into identical chunk objects. Dedup across
// machines depends on this.
func TestChunkingDeterministic(t *testing.T) {
	ctx := context.Background()
	content := repeat("deterministic boundaries ", chunkThreshold+3*miB)

	layout := func(store *FileStore) []string {
		var files []string
		err := filepath.Walk(store.root, func(p string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, err := filepath.Rel(store.root, p)
			if err != nil {
				return err
			}
			files = append(files, rel)
			return nil
		})
		require.NoError(t, err)
		return files
	}

	a := setupStore(t)
	b := setupStore(t)

	hashA, err := a.Put(ctx, content)
	require.NoError(t, err)
	hashB, err := b.Put(ctx, content)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
	assert.ElementsMatch(t, layout(a), layout(b))
	assert.Greater(t, len(layout(a)), 1, "content above the threshold should be split")
}

func TestStorePutFileSmall(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "small.txt")
	require.NoError(t, os.WriteFile(path, []byte("tiny"), 0644))

	hash, size, err := store.PutFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte("tiny")), hash)
	assert.Equal(t, int64(4), size)

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("tiny"), got)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	content := []byte("hash me without storing")
	require.NoError(t, os.WriteFile(path, content, 0644))

	hash, size, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(content), hash)
	assert.Equal(t, int64(len(content)), size)
}

func TestValidHash(t *testing.T) {
	assert.True(t, ValidHash(HashBytes([]byte("x"))))
	assert.False(t, ValidHash(""))
	assert.False(t, ValidHash("abc"))
	assert.False(t, ValidHash(strings.Repeat("z", 64)))
}
