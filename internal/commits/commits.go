// internal/commits/commits.go
package commits

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	tuskerr "tusk/internal/errors"
	"tusk/internal/objects"
	"tusk/internal/storage"
)

// Commit is an immutable snapshot: a root tree hash plus parent links.
// Commits form a DAG; a commit's ID is a digest of its own content, so it
// can never name itself or a descendant as a parent.
type Commit struct {
	ID        string    `json:"id"`
	TreeHash  string    `json:"tree_hash"`
	Parents   []string  `json:"parents"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Commit) GetID() string {
	return c.ID
}

// ComputeID derives the commit id from everything but the id itself.
func (c *Commit) ComputeID() (string, error) {
	payload := struct {
		TreeHash  string    `json:"tree_hash"`
		Parents   []string  `json:"parents"`
		Author    string    `json:"author"`
		Message   string    `json:"message"`
		CreatedAt time.Time `json:"created_at"`
	}{c.TreeHash, c.Parents, c.Author, c.Message, c.CreatedAt.UTC()}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding commit metadata: %w", err)
	}
	return objects.HashBytes(data), nil
}

// Store is the append-only commit graph.
type Store struct {
	store *storage.BadgerStore
}

func NewStore(db *badger.DB) *Store {
	return &Store{store: storage.NewBadgerStore(db, "commit")}
}

// Create finalizes and persists a commit. History is append-only: an ID
// collision means the identical commit already exists, which is fine.
func (s *Store) Create(c *Commit) (*Commit, error) {
	if c.TreeHash == "" {
		return nil, tuskerr.Validation("commit requires a root tree hash", nil)
	}
	if c.Parents == nil {
		c.Parents = []string{}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	for _, p := range c.Parents {
		ok, err := s.store.Exists(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, tuskerr.NotFound("parent commit", p)
		}
	}

	id, err := c.ComputeID()
	if err != nil {
		return nil, err
	}
	c.ID = id

	if err := s.store.Put(c); err != nil {
		return nil, fmt.Errorf("storing commit %s: %w", id, err)
	}
	return c, nil
}

// Put stores a fully-formed commit received from a peer, after verifying
// its id really is a digest of its content.
func (s *Store) Put(c *Commit) error {
	id, err := c.ComputeID()
	if err != nil {
		return err
	}
	if id != c.ID {
		return tuskerr.IntegrityMismatch(c.ID, id)
	}
	return s.store.Put(c)
}

func (s *Store) Get(id string) (*Commit, error) {
	var c Commit
	if err := s.store.Get(id, &c); err != nil {
		if tuskerr.IsType(err, tuskerr.ErrorTypeNotFound) {
			return nil, tuskerr.NotFound("commit", id)
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) Exists(id string) (bool, error) {
	return s.store.Exists(id)
}

// Ancestors returns a restartable iterator over id and every commit
// reachable through parent links, breadth-first. The sequence is finite
// because the graph is acyclic by construction.
func (s *Store) Ancestors(id string) *Iter {
	it := &Iter{store: s, start: id}
	it.Reset()
	return it
}

// Iter walks ancestor chains. Next returns nil when exhausted.
type Iter struct {
	store *Store
	start string
	queue []string
	seen  map[string]bool
}

func (it *Iter) Reset() {
	it.queue = []string{it.start}
	it.seen = map[string]bool{it.start: true}
}

func (it *Iter) Next() (*Commit, error) {
	if len(it.queue) == 0 {
		return nil, nil
	}
	id := it.queue[0]
	it.queue = it.queue[1:]

	c, err := it.store.Get(id)
	if err != nil {
		return nil, err
	}
	for _, p := range c.Parents {
		if !it.seen[p] {
			it.seen[p] = true
			it.queue = append(it.queue, p)
		}
	}
	return c, nil
}

// MergeBase finds the lowest common ancestor of a and b: collect a's
// ancestor set, then walk b's ancestors breadth-first until one is in it.
func (s *Store) MergeBase(a, b string) (*Commit, error) {
	inA := map[string]bool{}
	it := s.Ancestors(a)
	for {
		c, err := it.Next()
		if err != nil {
			return nil, err
		}
		if c == nil {
			break
		}
		inA[c.ID] = true
	}

	it = s.Ancestors(b)
	for {
		c, err := it.Next()
		if err != nil {
			return nil, err
		}
		if c == nil {
			break
		}
		if inA[c.ID] {
			return c, nil
		}
	}
	return nil, tuskerr.NotFound("merge base", fmt.Sprintf("%s..%s", a, b))
}
