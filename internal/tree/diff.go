// internal/tree/diff.go
package tree

import (
	"context"
	"path"
	"sort"

	"tusk/internal/objects"
)

type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

// Change is one differing file path between two trees.
type Change struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
	// OldHash/NewHash are the file hashes on each side; empty when the
	// side has no entry.
	OldHash string `json:"old_hash,omitempty"`
	NewHash string `json:"new_hash,omitempty"`
	Size    int64  `json:"size"`
}

// diffFrame is one pending subtree comparison on the explicit worklist.
// Directory depth is dataset-controlled, so no recursion here.
type diffFrame struct {
	prefix  string
	oldHash string // "" means the subtree is absent on that side
	newHash string
}

// Diff computes the file-level changes between two stored trees. Subtrees
// with equal hashes are skipped without loading, so cost is proportional
// to the number of changed paths rather than total path count.
func Diff(ctx context.Context, store objects.Store, oldRoot, newRoot string) ([]Change, error) {
	var changes []Change
	work := []diffFrame{{prefix: "", oldHash: oldRoot, newHash: newRoot}}

	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame := work[len(work)-1]
		work = work[:len(work)-1]

		if frame.oldHash == frame.newHash {
			continue
		}

		oldNode := &Node{}
		if frame.oldHash != "" {
			n, err := Load(ctx, store, frame.oldHash)
			if err != nil {
				return nil, err
			}
			oldNode = n
		}
		newNode := &Node{}
		if frame.newHash != "" {
			n, err := Load(ctx, store, frame.newHash)
			if err != nil {
				return nil, err
			}
			newNode = n
		}

		merged := mergeNames(oldNode, newNode)
		for _, name := range merged {
			oldEntry, inOld := oldNode.Lookup(name)
			newEntry, inNew := newNode.Lookup(name)
			p := path.Join(frame.prefix, name)

			switch {
			case inOld && !inNew:
				work = appendSide(work, &changes, p, oldEntry, Removed)
			case !inOld && inNew:
				work = appendSide(work, &changes, p, newEntry, Added)
			case oldEntry.Hash == newEntry.Hash && oldEntry.Kind == newEntry.Kind:
				// Identical subtree or file, skip.
			case oldEntry.Kind == KindDir && newEntry.Kind == KindDir:
				work = append(work, diffFrame{prefix: p, oldHash: oldEntry.Hash, newHash: newEntry.Hash})
			case oldEntry.Kind == KindFile && newEntry.Kind == KindFile:
				changes = append(changes, Change{
					Path:    p,
					Kind:    Modified,
					OldHash: oldEntry.Hash,
					NewHash: newEntry.Hash,
					Size:    newEntry.Size,
				})
			default:
				// Kind changed: everything under the old entry goes away,
				// everything under the new one appears.
				work = appendSide(work, &changes, p, oldEntry, Removed)
				work = appendSide(work, &changes, p, newEntry, Added)
			}
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes, nil
}

// appendSide records a one-sided change: a file directly, a directory as a
// frame with the other side absent so its files unroll through the same
// worklist.
func appendSide(work []diffFrame, changes *[]Change, p string, e Entry, kind ChangeKind) []diffFrame {
	if e.Kind == KindDir {
		if kind == Removed {
			return append(work, diffFrame{prefix: p, oldHash: e.Hash, newHash: ""})
		}
		return append(work, diffFrame{prefix: p, oldHash: "", newHash: e.Hash})
	}

	c := Change{Path: p, Kind: kind, Size: e.Size}
	if kind == Removed {
		c.OldHash = e.Hash
	} else {
		c.NewHash = e.Hash
	}
	*changes = append(*changes, c)
	return work
}

func mergeNames(a, b *Node) []string {
	seen := make(map[string]bool, len(a.Entries)+len(b.Entries))
	var names []string
	for _, e := range a.Entries {
		if !seen[e.Name] {
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	for _, e := range b.Entries {
		if !seen[e.Name] {
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Walk visits every entry reachable from root. fn receives the path and
// entry; returning false for a directory prunes descent (sync uses this to
// stop at subtrees the other side already has). Uses a worklist for the
// same reason Diff does.
func Walk(ctx context.Context, store objects.Store, root string, fn func(p string, e Entry) (bool, error)) error {
	type frame struct {
		prefix string
		hash   string
	}
	work := []frame{{prefix: "", hash: root}}

	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		f := work[len(work)-1]
		work = work[:len(work)-1]

		node, err := Load(ctx, store, f.hash)
		if err != nil {
			return err
		}
		for _, e := range node.Entries {
			p := path.Join(f.prefix, e.Name)
			descend, err := fn(p, e)
			if err != nil {
				return err
			}
			if e.Kind == KindDir && descend {
				work = append(work, frame{prefix: p, hash: e.Hash})
			}
		}
	}
	return nil
}
