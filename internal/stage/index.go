// internal/stage/index.go
package stage

import (
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	tuskerr "tusk/internal/errors"
	"tusk/internal/storage"
)

type Status string

const (
	StatusAdded     Status = "added"
	StatusModified  Status = "modified"
	StatusRemoved   Status = "removed"
	StatusUnchanged Status = "unchanged"
)

// Entry is one pending change in the index, keyed by path.
type Entry struct {
	Path    string    `json:"path"`
	Status  Status    `json:"status"`
	Hash    string    `json:"hash,omitempty"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

func (e *Entry) GetID() string {
	return e.Path
}

type baseRef struct {
	CommitID string `json:"commit_id"`
}

func (b *baseRef) GetID() string { return "base" }

// Index is the local staging area: a transient ordered mapping keyed by
// path, persisted separately from the commit graph. Entries are valid only
// against the commit they were computed from; a branch switch clears the
// whole index.
type Index struct {
	entries *storage.BadgerStore
	meta    *storage.BadgerStore
}

func NewIndex(db *badger.DB) *Index {
	return &Index{
		entries: storage.NewBadgerStore(db, "stage"),
		meta:    storage.NewBadgerStore(db, "stagemeta"),
	}
}

// Base returns the commit id the current entries were diffed against, or
// "" when the index is empty.
func (i *Index) Base() (string, error) {
	var b baseRef
	if err := i.meta.Get("base", &b); err != nil {
		if tuskerr.IsType(err, tuskerr.ErrorTypeNotFound) {
			return "", nil
		}
		return "", err
	}
	return b.CommitID, nil
}

func (i *Index) SetBase(commitID string) error {
	return i.meta.Put(&baseRef{CommitID: commitID})
}

func (i *Index) Put(e *Entry) error {
	return i.entries.Put(e)
}

func (i *Index) Get(path string) (*Entry, error) {
	var e Entry
	if err := i.entries.Get(path, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns all entries ordered by path (badger key order).
func (i *Index) List() ([]Entry, error) {
	var entries []Entry
	if err := i.entries.List(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// RemovePath drops the entry at path and everything under it. Pure index
// metadata: the working directory and history are untouched.
func (i *Index) RemovePath(path string) (int, error) {
	entries, err := i.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.Path == path || strings.HasPrefix(e.Path, path+"/") || path == "." || path == "" {
			if err := i.entries.Delete(e.Path); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Pending reports whether any entry would actually change the tree.
func (i *Index) Pending() (bool, error) {
	entries, err := i.List()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Status != StatusUnchanged {
			return true, nil
		}
	}
	return false, nil
}

// Clear empties the index, folding or discarding whatever was pending.
func (i *Index) Clear() error {
	entries, err := i.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := i.entries.Delete(e.Path); err != nil {
			return err
		}
	}

	var b baseRef
	if err := i.meta.Get("base", &b); err == nil {
		if err := i.meta.Delete("base"); err != nil {
			return err
		}
	}
	return nil
}
