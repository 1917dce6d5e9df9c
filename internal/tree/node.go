// internal/tree/node.go
package tree

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"tusk/internal/objects"
)

type EntryKind string

const (
	KindFile EntryKind = "file"
	KindDir  EntryKind = "dir"
)

// Entry is one name in a directory: a file blob or a child tree, by hash.
type Entry struct {
	Name string    `json:"name"`
	Hash string    `json:"hash"`
	Kind EntryKind `json:"kind"`
	Size int64     `json:"size"`
}

// Node is a directory snapshot. Entries are kept sorted by name so the
// serialized form, and therefore the node's own hash, is a pure function
// of its contents: two directories with identical contents always hash
// identically, which is what lets diff and sync skip unchanged subtrees
// without descending.
type Node struct {
	Entries []Entry `json:"entries"`
}

func (n *Node) sort() {
	sort.Slice(n.Entries, func(i, j int) bool {
		return n.Entries[i].Name < n.Entries[j].Name
	})
}

// Lookup returns the entry with the given name, if present.
func (n *Node) Lookup(name string) (Entry, bool) {
	i := sort.Search(len(n.Entries), func(i int) bool {
		return n.Entries[i].Name >= name
	})
	if i < len(n.Entries) && n.Entries[i].Name == name {
		return n.Entries[i], true
	}
	return Entry{}, false
}

// Size is the total byte count of everything underneath.
func (n *Node) Size() int64 {
	var total int64
	for _, e := range n.Entries {
		total += e.Size
	}
	return total
}

// Encode returns the canonical serialized form and its hash.
func (n *Node) Encode() (hash string, encoded []byte, err error) {
	n.sort()
	encoded, err = json.Marshal(n)
	if err != nil {
		return "", nil, fmt.Errorf("encoding tree node: %w", err)
	}
	return objects.HashBytes(encoded), encoded, nil
}

// Save encodes the node and puts it in the object store.
func (n *Node) Save(ctx context.Context, store objects.Store) (string, error) {
	hash, encoded, err := n.Encode()
	if err != nil {
		return "", err
	}
	if _, err := store.Put(ctx, encoded); err != nil {
		return "", fmt.Errorf("storing tree node: %w", err)
	}
	return hash, nil
}

// Load fetches and decodes a tree node by hash.
func Load(ctx context.Context, store objects.Store, hash string) (*Node, error) {
	data, err := store.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decoding tree node %s: %w", hash, err)
	}
	n.sort()
	return &n, nil
}

// EmptyHash returns the hash of the empty tree, which every repository's
// initial commit points at.
func EmptyHash() string {
	hash, _, _ := (&Node{Entries: []Entry{}}).Encode()
	return hash
}
