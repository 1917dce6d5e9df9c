// internal/remote/staging.go
package remote

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tusk/internal/commits"
	tuskerr "tusk/internal/errors"
	"tusk/internal/objects"
	"tusk/internal/refs"
	"tusk/internal/tree"
)

// entrySep separates branch from path in staging keys. NUL cannot appear
// in either, and it sorts before every printable byte so listings come
// back grouped by branch and ordered by path.
const entrySep = "\x00"

// Entry is one file pending in a branch's remote staging area.
type Entry struct {
	Branch    string    `json:"branch"`
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	Tabular   bool      `json:"tabular,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *Entry) GetID() string {
	return e.Branch + entrySep + e.Path
}

// Staging holds the per-branch server-side staging areas. Content goes to
// the object store the moment it is uploaded; the area itself is only the
// path -> hash mapping that a later CommitStaged folds into a tree. Areas
// come into existence on first upload and vanish on commit.
type Staging struct {
	entries *entryStore
	objects objects.Store
	commits *commits.Store
	refs    *refs.Store
	logger  *zap.Logger

	tables sync.Map // branch\x00path -> *sync.Mutex
}

func NewStaging(db *badger.DB, store objects.Store, cs *commits.Store, rs *refs.Store, logger *zap.Logger) *Staging {
	return &Staging{
		entries: newEntryStore(db),
		objects: store,
		commits: cs,
		refs:    rs,
		logger:  logger,
	}
}

// StageUpload stores content and records it in branch's staging area under
// a unique path. Concurrent uploads of the same filename to the same
// directory never collide: each gets its own uuid-prefixed name.
func (s *Staging) StageUpload(ctx context.Context, branch, dir, name string, content []byte) (*Entry, error) {
	if name == "" {
		return nil, tuskerr.Validation("upload name cannot be empty", nil)
	}
	if _, err := s.refs.Get(branch); err != nil {
		return nil, err
	}

	hash, err := s.objects.Put(ctx, content)
	if err != nil {
		return nil, err
	}

	unique := path.Join(cleanDir(dir), uuid.NewString()+"_"+path.Base(name))
	e := &Entry{
		Branch:    branch,
		Path:      unique,
		Hash:      hash,
		Size:      int64(len(content)),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.entries.put(e); err != nil {
		return nil, err
	}

	s.logger.Info("staged upload",
		zap.String("branch", branch),
		zap.String("path", unique),
		zap.Int("size", len(content)))
	return e, nil
}

// ListStaged returns branch's pending entries ordered by path.
func (s *Staging) ListStaged(branch string) ([]Entry, error) {
	return s.entries.listBranch(branch)
}

// GetStaged fetches the content of a single pending entry. Staged files
// are readable before they are committed.
func (s *Staging) GetStaged(ctx context.Context, branch, p string) ([]byte, error) {
	e, err := s.entries.get(branch, p)
	if err != nil {
		return nil, err
	}
	return s.objects.Get(ctx, e.Hash)
}

// CommitStaged folds every pending entry into a commit on top of the
// branch tip and clears the area. A concurrent direct push moves the tip
// between read and swap; the CAS catches that and the area stays intact
// for a retry.
func (s *Staging) CommitStaged(ctx context.Context, branch, message, author string) (*commits.Commit, error) {
	tip, err := s.refs.Get(branch)
	if err != nil {
		return nil, err
	}
	head, err := s.commits.Get(tip)
	if err != nil {
		return nil, err
	}

	entries, err := s.entries.listBranch(branch)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, tuskerr.EmptyCommit(branch)
	}

	edits := make([]tree.Edit, 0, len(entries))
	for _, e := range entries {
		edits = append(edits, tree.Edit{Path: e.Path, Hash: e.Hash, Size: e.Size})
	}

	newRoot, err := tree.Apply(ctx, s.objects, head.TreeHash, edits)
	if err != nil {
		return nil, fmt.Errorf("folding staged entries: %w", err)
	}
	if newRoot == head.TreeHash {
		return nil, tuskerr.EmptyCommit(branch)
	}

	c, err := s.commits.Create(&commits.Commit{
		TreeHash: newRoot,
		Parents:  []string{tip},
		Author:   author,
		Message:  message,
	})
	if err != nil {
		return nil, err
	}

	if err := s.refs.CompareAndSwap(branch, tip, c.ID); err != nil {
		return nil, err
	}
	if err := s.entries.clearBranch(branch); err != nil {
		return nil, err
	}

	s.logger.Info("committed staging area",
		zap.String("branch", branch),
		zap.String("commit", c.ID),
		zap.Int("entries", len(entries)))
	return c, nil
}

func cleanDir(dir string) string {
	dir = path.Clean(strings.Trim(dir, "/"))
	if dir == "." {
		return ""
	}
	return dir
}
