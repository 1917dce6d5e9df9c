// internal/refs/refs.go
package refs

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	tuskerr "tusk/internal/errors"
	"tusk/internal/storage"
)

const DefaultBranch = "main"

// Branch is the only mutable pointer in the commit graph.
type Branch struct {
	Name     string `json:"name"`
	CommitID string `json:"commit_id"`
}

func (b *Branch) GetID() string {
	return b.Name
}

type headRef struct {
	Name string `json:"name"`
}

func (h *headRef) GetID() string { return "current" }

// Store holds branch pointers and the HEAD pointer. Every branch update
// goes through a per-branch mutex so compare-and-swap is atomic without
// serializing unrelated branches.
type Store struct {
	branches *storage.BadgerStore
	head     *storage.BadgerStore
	locks    sync.Map // branch name -> *sync.Mutex
}

func NewStore(db *badger.DB) *Store {
	return &Store{
		branches: storage.NewBadgerStore(db, "branch"),
		head:     storage.NewBadgerStore(db, "head"),
	}
}

func (s *Store) lock(name string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Get resolves a branch to its commit id.
func (s *Store) Get(name string) (string, error) {
	var b Branch
	if err := s.branches.Get(name, &b); err != nil {
		if tuskerr.IsType(err, tuskerr.ErrorTypeNotFound) {
			return "", tuskerr.NotFound("branch", name)
		}
		return "", err
	}
	return b.CommitID, nil
}

func (s *Store) Exists(name string) (bool, error) {
	return s.branches.Exists(name)
}

func (s *Store) List() ([]Branch, error) {
	var branches []Branch
	if err := s.branches.List(&branches); err != nil {
		return nil, err
	}
	return branches, nil
}

// CompareAndSwap atomically advances a branch from expectedOld to newID.
// expectedOld == "" asserts the branch does not exist yet. A mismatch
// fails with NonFastForward and leaves the pointer untouched; that failure
// is the correctness mechanism for concurrent pushes, not an edge case.
func (s *Store) CompareAndSwap(name, expectedOld, newID string) error {
	if name == "" {
		return tuskerr.Validation("branch name cannot be empty", nil)
	}
	if newID == "" {
		return tuskerr.Validation(fmt.Sprintf("branch %s cannot point at nothing", name), nil)
	}

	mu := s.lock(name)
	mu.Lock()
	defer mu.Unlock()

	current := ""
	var b Branch
	err := s.branches.Get(name, &b)
	switch {
	case err == nil:
		current = b.CommitID
	case tuskerr.IsType(err, tuskerr.ErrorTypeNotFound):
		// Branch absent, current stays "".
	default:
		return err
	}

	if current != expectedOld {
		return tuskerr.NonFastForward(name, expectedOld, current)
	}

	return s.branches.Put(&Branch{Name: name, CommitID: newID})
}

// Set force-writes a branch pointer. Only local bookkeeping (checkout of a
// freshly pulled branch) uses this; everything contended goes through
// CompareAndSwap.
func (s *Store) Set(name, commitID string) error {
	mu := s.lock(name)
	mu.Lock()
	defer mu.Unlock()
	return s.branches.Put(&Branch{Name: name, CommitID: commitID})
}

func (s *Store) Head() (string, error) {
	var h headRef
	if err := s.head.Get("current", &h); err != nil {
		if tuskerr.IsType(err, tuskerr.ErrorTypeNotFound) {
			return "", tuskerr.NotFound("HEAD", "current branch")
		}
		return "", err
	}
	return h.Name, nil
}

func (s *Store) SetHead(name string) error {
	return s.head.Put(&headRef{Name: name})
}
