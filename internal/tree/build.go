// internal/tree/build.go
package tree

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	tuskerr "tusk/internal/errors"
	"tusk/internal/objects"
)

// Build snapshots a working directory into a stored tree and returns the
// root hash. File content goes through the object store (and so through
// chunking and dedup); entry lists are hashed sorted-by-name. Directory
// depth is dataset-controlled, so the walk runs on explicit worklists
// rather than the call stack.
func Build(ctx context.Context, store objects.Store, dir string) (string, error) {
	// First pass lists every directory, parents before children.
	dirs := []string{dir}
	listings := map[string][]os.DirEntry{}
	for i := 0; i < len(dirs); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		d := dirs[i]
		dirents, err := os.ReadDir(d)
		if err != nil {
			return "", fmt.Errorf("reading directory %s: %w", d, err)
		}
		listings[d] = dirents
		for _, de := range dirents {
			if de.IsDir() && !Ignored(de.Name()) {
				dirs = append(dirs, filepath.Join(d, de.Name()))
			}
		}
	}

	// Second pass runs children before parents, so every child hash exists
	// when its parent's entry list is assembled.
	nodes := make(map[string]*Node, len(dirs))
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		d := dirs[i]
		node := &Node{Entries: []Entry{}}
		for _, de := range listings[d] {
			name := de.Name()
			if Ignored(name) {
				continue
			}

			full := filepath.Join(d, name)
			if de.IsDir() {
				child := nodes[full]
				if len(child.Entries) == 0 {
					continue
				}
				hash, err := child.Save(ctx, store)
				if err != nil {
					return "", err
				}
				node.Entries = append(node.Entries, Entry{
					Name: name,
					Hash: hash,
					Kind: KindDir,
					Size: child.Size(),
				})
				continue
			}

			if !de.Type().IsRegular() {
				continue
			}
			hash, size, err := store.PutFile(ctx, full)
			if err != nil {
				return "", fmt.Errorf("storing %s: %w", full, err)
			}
			node.Entries = append(node.Entries, Entry{
				Name: name,
				Hash: hash,
				Kind: KindFile,
				Size: size,
			})
		}
		node.sort()
		nodes[d] = node
	}

	return nodes[dir].Save(ctx, store)
}

// Ignored names stay out of snapshots: repository metadata and dotfiles.
func Ignored(name string) bool {
	return name == ".tusk" || strings.HasPrefix(name, ".")
}

// Resolve walks root down to p ("" means the root itself) and returns the
// entry found there.
func Resolve(ctx context.Context, store objects.Store, root, p string) (Entry, error) {
	entry := Entry{Name: "", Hash: root, Kind: KindDir}
	if p == "" || p == "." {
		return entry, nil
	}

	for _, part := range strings.Split(path.Clean(p), "/") {
		if entry.Kind != KindDir {
			return Entry{}, tuskerr.NotFound("path", p)
		}
		node, err := Load(ctx, store, entry.Hash)
		if err != nil {
			return Entry{}, err
		}
		child, ok := node.Lookup(part)
		if !ok {
			return Entry{}, tuskerr.NotFound("path", p)
		}
		entry = child
	}
	return entry, nil
}

// Edit is one staged change folded into a tree by Apply.
type Edit struct {
	Path   string
	Hash   string
	Size   int64
	Remove bool
}

// applyFrame is one directory being rewritten by Apply. Frames are
// indexed, not pointed to, so the slice may grow freely.
type applyFrame struct {
	parent int // index of the parent frame, -1 for the root
	name   string
	base   string
	edits  []Edit
	byName map[string]Entry
}

// Apply builds a new root from a base tree plus an overlay of edits,
// rewriting only the directories along edited paths. Empty directories
// are dropped. Path depth is dataset-controlled, so the rewrite runs on
// an explicit frame list rather than the call stack.
func Apply(ctx context.Context, store objects.Store, base string, edits []Edit) (string, error) {
	frames := []applyFrame{{parent: -1, base: base, edits: edits}}

	// Forward pass, parents before children: apply leaf edits into each
	// frame's entry map and open a child frame per nested path segment.
	for i := 0; i < len(frames); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		f := frames[i]

		byName := map[string]Entry{}
		if f.base != "" {
			node, err := Load(ctx, store, f.base)
			if err != nil {
				return "", err
			}
			for _, e := range node.Entries {
				byName[e.Name] = e
			}
		}

		nested := map[string][]Edit{}
		for _, ed := range f.edits {
			head, rest, found := strings.Cut(ed.Path, "/")
			if found {
				ed.Path = rest
				nested[head] = append(nested[head], ed)
				continue
			}
			if ed.Remove {
				delete(byName, head)
				continue
			}
			byName[head] = Entry{Name: head, Hash: ed.Hash, Kind: KindFile, Size: ed.Size}
		}
		frames[i].byName = byName

		names := make([]string, 0, len(nested))
		for name := range nested {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			childBase := ""
			if e, ok := byName[name]; ok && e.Kind == KindDir {
				childBase = e.Hash
			}
			frames = append(frames, applyFrame{
				parent: i,
				name:   name,
				base:   childBase,
				edits:  nested[name],
			})
		}
	}

	// Reverse pass, children before parents: save each rewritten node and
	// fold its hash into the parent's map, dropping emptied directories.
	for i := len(frames) - 1; i > 0; i-- {
		f := frames[i]
		if len(f.byName) == 0 {
			delete(frames[f.parent].byName, f.name)
			continue
		}
		node := nodeFromMap(f.byName)
		hash, err := node.Save(ctx, store)
		if err != nil {
			return "", err
		}
		frames[f.parent].byName[f.name] = Entry{
			Name: f.name,
			Hash: hash,
			Kind: KindDir,
			Size: node.Size(),
		}
	}

	return nodeFromMap(frames[0].byName).Save(ctx, store)
}

func nodeFromMap(byName map[string]Entry) *Node {
	node := &Node{Entries: make([]Entry, 0, len(byName))}
	for _, e := range byName {
		node.Entries = append(node.Entries, e)
	}
	sort.Slice(node.Entries, func(i, j int) bool {
		return node.Entries[i].Name < node.Entries[j].Name
	})
	return node
}
