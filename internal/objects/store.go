// internal/objects/store.go
package objects

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/renameio"
	lru "github.com/hashicorp/golang-lru/v2"

	tuskerr "tusk/internal/errors"
	"tusk/internal/storage"
)

// Objects bigger than this stay out of the read cache so a handful of
// video files cannot pin the whole budget.
const maxCacheEntrySize = 1 * miB

// FileStore keeps object content on disk fanned out by hash prefix, with
// per-object metadata in badger and a small LRU over hot content.
type FileStore struct {
	root  string
	metas *storage.BadgerStore
	cache *lru.Cache[string, []byte]
	comp  *compressor
}

type Options struct {
	Root      string
	CacheSize int
	ZstdLevel int
}

func NewFileStore(db *badger.DB, opts Options) (*FileStore, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("object store root directory is required")
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating object store directory: %w", err)
	}

	if opts.CacheSize == 0 {
		opts.CacheSize = 1000
	}
	if opts.ZstdLevel == 0 {
		opts.ZstdLevel = 2
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating object cache: %w", err)
	}

	return &FileStore{
		root:  opts.Root,
		metas: storage.NewBadgerStore(db, "object"),
		cache: cache,
		comp:  newCompressor(opts.ZstdLevel),
	}, nil
}

// Put stores content under its own hash. Identical content is stored once
// across the whole repository history.
func (s *FileStore) Put(ctx context.Context, content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}

	hash := HashBytes(content)
	ok, err := s.Exists(ctx, hash)
	if err != nil {
		return "", err
	}
	if ok {
		return hash, nil
	}

	if len(content) >= chunkThreshold {
		if _, err := s.putChunked(ctx, hash, bytes.NewReader(content)); err != nil {
			return "", err
		}
		return hash, nil
	}

	if err := s.writeObject(hash, content, false); err != nil {
		return "", err
	}
	if len(content) <= maxCacheEntrySize {
		s.cache.Add(hash, content)
	}
	return hash, nil
}

// PutFile streams a file from disk into the store, chunking large inputs
// without holding them in memory.
func (s *FileStore) PutFile(ctx context.Context, path string) (string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat %s: %w", path, err)
	}

	if info.Size() < chunkThreshold {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", 0, fmt.Errorf("reading %s: %w", path, err)
		}
		hash, err := s.Put(ctx, content)
		return hash, int64(len(content)), err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	// The logical hash is of the whole content; tee the stream through
	// sha256 while the chunker consumes it.
	hasher := newStreamHasher()
	size, m, err := s.storeChunks(ctx, io.TeeReader(f, hasher))
	if err != nil {
		return "", 0, err
	}
	hash := hasher.Sum()

	if ok, err := s.Exists(ctx, hash); err != nil {
		return "", 0, err
	} else if ok {
		// Another writer got here first; the chunks are shared anyway.
		return hash, size, nil
	}

	if err := s.writeManifest(hash, size, m); err != nil {
		return "", 0, err
	}
	return hash, size, nil
}

// putChunked stores already-hashed content via the chunker.
func (s *FileStore) putChunked(ctx context.Context, hash string, rd io.Reader) (int64, error) {
	size, m, err := s.storeChunks(ctx, rd)
	if err != nil {
		return 0, err
	}
	if err := s.writeManifest(hash, size, m); err != nil {
		return 0, err
	}
	return size, nil
}

func (s *FileStore) storeChunks(ctx context.Context, rd io.Reader) (int64, []string, error) {
	var hashes []string
	size, err := splitChunks(rd, func(c chunk) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		hashes = append(hashes, c.hash)

		ok, err := s.Exists(ctx, c.hash)
		if err != nil || ok {
			return err
		}
		return s.writeObject(c.hash, c.data, false)
	})
	if err != nil {
		return 0, nil, fmt.Errorf("chunking content: %w", err)
	}
	return size, hashes, nil
}

func (s *FileStore) writeManifest(hash string, size int64, chunks []string) error {
	data, err := json.Marshal(manifest{Size: size, Chunks: chunks})
	if err != nil {
		return fmt.Errorf("marshaling chunk manifest: %w", err)
	}
	if err := s.writeFile(s.objectPath(hash), data); err != nil {
		return err
	}
	return s.metas.Put(&Meta{
		Hash:      hash,
		Size:      size,
		Chunked:   true,
		CreatedAt: time.Now(),
	})
}

// writeObject persists one physical object file plus its metadata row.
// The Compressed flag in the row is what the read path trusts; the bytes
// on disk are never sniffed, since stored content may itself be a zstd
// frame.
func (s *FileStore) writeObject(hash string, content []byte, chunked bool) error {
	encoded, compressed := s.comp.compress(content)
	if err := s.writeFile(s.objectPath(hash), encoded); err != nil {
		return err
	}
	return s.metas.Put(&Meta{
		Hash:       hash,
		Size:       int64(len(content)),
		Chunked:    chunked,
		Compressed: compressed,
		CreatedAt:  time.Now(),
	})
}

func (s *FileStore) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}
	// Atomic rename keeps concurrent writers of the same hash safe: either
	// copy of the bytes is equally valid.
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing object file: %w", err)
	}
	return nil
}

// Get returns the logical content for hash, reassembling chunked objects,
// and verifies the bytes still hash to the requested value.
func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, tuskerr.Validation(fmt.Sprintf("invalid content hash: %q", hash), nil)
	}

	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.getMeta(hash)
	if err != nil {
		return nil, err
	}

	var content []byte
	if meta.Chunked {
		content, err = s.assemble(ctx, hash, meta.Size)
	} else {
		content, err = s.readObject(hash, meta.Compressed)
	}
	if err != nil {
		return nil, err
	}

	if got := HashBytes(content); got != hash {
		return nil, tuskerr.IntegrityMismatch(hash, got)
	}

	if len(content) <= maxCacheEntrySize {
		s.cache.Add(hash, content)
	}
	return content, nil
}

// Open returns a reader over the logical content. Chunked objects stream
// chunk by chunk with each chunk verified as it is read; the whole-content
// check is Get's job.
func (s *FileStore) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	meta, err := s.getMeta(hash)
	if err != nil {
		return nil, err
	}

	if !meta.Chunked {
		content, err := s.Get(ctx, hash)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(content)), nil
	}

	m, err := s.readManifest(hash)
	if err != nil {
		return nil, err
	}
	return &chunkReader{ctx: ctx, store: s, chunks: m.Chunks}, nil
}

func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	if !ValidHash(hash) {
		return false, nil
	}
	if s.cache.Contains(hash) {
		return true, nil
	}
	return s.metas.Exists(hash)
}

func (s *FileStore) Size(ctx context.Context, hash string) (int64, error) {
	meta, err := s.getMeta(hash)
	if err != nil {
		return 0, err
	}
	return meta.Size, nil
}

func (s *FileStore) getMeta(hash string) (*Meta, error) {
	var meta Meta
	if err := s.metas.Get(hash, &meta); err != nil {
		if tuskerr.IsType(err, tuskerr.ErrorTypeNotFound) {
			return nil, tuskerr.NotFound("object", hash)
		}
		return nil, fmt.Errorf("getting object metadata: %w", err)
	}
	return &meta, nil
}

func (s *FileStore) readObject(hash string, compressed bool) ([]byte, error) {
	encoded, err := os.ReadFile(s.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tuskerr.NotFound("object", hash)
		}
		return nil, fmt.Errorf("reading object %s: %w", hash, err)
	}
	if !compressed {
		return encoded, nil
	}
	return s.comp.decompress(encoded)
}

// readChunk loads one chunk of a chunked object through its own metadata
// row and verifies it still hashes to its name.
func (s *FileStore) readChunk(hash string) ([]byte, error) {
	meta, err := s.getMeta(hash)
	if err != nil {
		return nil, err
	}
	part, err := s.readObject(hash, meta.Compressed)
	if err != nil {
		return nil, err
	}
	if got := HashBytes(part); got != hash {
		return nil, tuskerr.IntegrityMismatch(hash, got)
	}
	return part, nil
}

func (s *FileStore) readManifest(hash string) (*manifest, error) {
	data, err := os.ReadFile(s.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tuskerr.NotFound("object", hash)
		}
		return nil, fmt.Errorf("reading manifest %s: %w", hash, err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", hash, err)
	}
	return &m, nil
}

func (s *FileStore) assemble(ctx context.Context, hash string, size int64) ([]byte, error) {
	m, err := s.readManifest(hash)
	if err != nil {
		return nil, err
	}

	content := make([]byte, 0, size)
	for _, ch := range m.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := s.readChunk(ch)
		if err != nil {
			return nil, fmt.Errorf("reading chunk of %s: %w", hash, err)
		}
		content = append(content, part...)
	}
	return content, nil
}

// objectPath fans objects out by hash prefix to bound directory size.
func (s *FileStore) objectPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

// chunkReader streams a chunked object's logical content.
type chunkReader struct {
	ctx    context.Context
	store  *FileStore
	chunks []string
	cur    *bytes.Reader
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for r.cur == nil || r.cur.Len() == 0 {
		if len(r.chunks) == 0 {
			return 0, io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		part, err := r.store.readChunk(r.chunks[0])
		if err != nil {
			return 0, err
		}
		r.chunks = r.chunks[1:]
		r.cur = bytes.NewReader(part)
	}
	return r.cur.Read(p)
}

func (r *chunkReader) Close() error { return nil }
