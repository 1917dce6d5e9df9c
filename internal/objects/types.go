package objects

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"time"
)

// Store is the content-addressed blob store every other component keys
// into. Put is idempotent; re-putting identical bytes is a metadata check.
// Chunking of large inputs happens below this boundary and is invisible to
// callers: the hash is always of the logical content.
type Store interface {
	Put(ctx context.Context, content []byte) (string, error)
	PutFile(ctx context.Context, path string) (hash string, size int64, err error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Open(ctx context.Context, hash string) (io.ReadCloser, error)
	Exists(ctx context.Context, hash string) (bool, error)
	Size(ctx context.Context, hash string) (int64, error)
}

// Meta is the per-object record kept in badger next to the content files.
type Meta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	Chunked    bool      `json:"chunked"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *Meta) GetID() string {
	return m.Hash
}

// manifest is what sits at a chunked object's logical hash: the ordered
// chunk list plus total size. Chunks are themselves plain objects.
type manifest struct {
	Size   int64    `json:"size"`
	Chunks []string `json:"chunks"`
}

// HashBytes computes the ContentHash of a byte sequence.
func HashBytes(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// HashFile computes the ContentHash of a file by streaming, without
// storing anything.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// streamHasher accumulates the logical hash while a large file streams
// through the chunker.
type streamHasher struct {
	h hash.Hash
}

func newStreamHasher() *streamHasher {
	return &streamHasher{h: sha256.New()}
}

func (s *streamHasher) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

func (s *streamHasher) Sum() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

// ValidHash reports whether s looks like a ContentHash.
func ValidHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
