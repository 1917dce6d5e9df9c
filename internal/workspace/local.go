// internal/workspace/local.go
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"tusk/internal/commits"
	tuskerr "tusk/internal/errors"
	"tusk/internal/objects"
	"tusk/internal/refs"
	"tusk/internal/stage"
	"tusk/internal/tree"
)

const metaDirName = ".tusk"

// LocalWorkspace ties a working directory to its repository state: the
// object store, commit graph, branch refs and staging index all live under
// <root>/.tusk.
type LocalWorkspace struct {
	Root    string
	DB      *badger.DB
	Objects objects.Store
	Commits *commits.Store
	Refs    *refs.Store
	Index   *stage.Index
	Logger  *zap.Logger

	hashes *hashCache
}

// Init creates a fresh repository at root: the metadata directory, an
// empty-tree initial commit, and the default branch pointing at it.
func Init(root string, logger *zap.Logger) (*LocalWorkspace, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}

	metaDir := filepath.Join(absRoot, metaDirName)
	if _, err := os.Stat(metaDir); err == nil {
		return nil, tuskerr.Conflict(metaDir, "repository already initialized")
	}
	for _, dir := range []string{filepath.Join(metaDir, "db"), filepath.Join(metaDir, "objects")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	w, err := open(absRoot, logger)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	emptyTree := &tree.Node{Entries: []tree.Entry{}}
	rootHash, err := emptyTree.Save(ctx, w.Objects)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("storing empty tree: %w", err)
	}

	initial, err := w.Commits.Create(&commits.Commit{
		TreeHash: rootHash,
		Message:  "Initialized repository",
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("creating initial commit: %w", err)
	}

	if err := w.Refs.CompareAndSwap(refs.DefaultBranch, "", initial.ID); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Refs.SetHead(refs.DefaultBranch); err != nil {
		w.Close()
		return nil, err
	}

	w.Logger.Info("initialized repository",
		zap.String("root", absRoot),
		zap.String("branch", refs.DefaultBranch))
	return w, nil
}

// Open finds the repository containing dir by walking upward and opens it.
func Open(dir string, logger *zap.Logger) (*LocalWorkspace, error) {
	root, err := FindRoot(dir)
	if err != nil {
		return nil, err
	}
	return open(root, logger)
}

func open(root string, logger *zap.Logger) (*LocalWorkspace, error) {
	metaDir := filepath.Join(root, metaDirName)

	opts := badger.DefaultOptions(filepath.Join(metaDir, "db"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store, err := objects.NewFileStore(db, objects.Options{
		Root: filepath.Join(metaDir, "objects"),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening object store: %w", err)
	}

	w := &LocalWorkspace{
		Root:    root,
		DB:      db,
		Objects: store,
		Commits: commits.NewStore(db),
		Refs:    refs.NewStore(db),
		Index:   stage.NewIndex(db),
		Logger:  logger,
		hashes:  newHashCache(root),
	}
	return w, nil
}

// FindRoot searches upward from startDir for the repository root.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, metaDirName)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("not inside a tusk repository (missing .tusk directory)")
}

func (w *LocalWorkspace) Close() error {
	if w.hashes != nil {
		w.hashes.close()
	}
	return w.DB.Close()
}

// Head returns the current branch name and its tip commit.
func (w *LocalWorkspace) Head() (string, *commits.Commit, error) {
	branch, err := w.Refs.Head()
	if err != nil {
		return "", nil, err
	}
	id, err := w.Refs.Get(branch)
	if err != nil {
		return "", nil, err
	}
	c, err := w.Commits.Get(id)
	if err != nil {
		return "", nil, err
	}
	return branch, c, nil
}

// Stage diffs the given paths against the HEAD tree and records the
// results in the index. File content is stored immediately so a later
// commit is pure bookkeeping.
func (w *LocalWorkspace) Stage(ctx context.Context, paths []string) ([]stage.Entry, error) {
	branch, head, err := w.Head()
	if err != nil {
		return nil, err
	}

	// Entries are only valid against the commit they were computed from.
	base, err := w.Index.Base()
	if err != nil {
		return nil, err
	}
	if base != "" && base != head.ID {
		w.Logger.Warn("staging index was computed against another commit, resetting",
			zap.String("stale_base", base),
			zap.String("head", head.ID))
		if err := w.Index.Clear(); err != nil {
			return nil, err
		}
	}

	var staged []stage.Entry
	for _, p := range paths {
		rel, err := w.relPath(p)
		if err != nil {
			return nil, err
		}

		changes, err := w.diffPathAgainstTree(ctx, head.TreeHash, rel, true)
		if err != nil {
			return nil, err
		}

		for _, c := range changes {
			e := stage.Entry{
				Path:   c.Path,
				Status: stage.Status(c.Kind),
				Hash:   c.NewHash,
				Size:   c.Size,
			}
			if err := w.Index.Put(&e); err != nil {
				return nil, err
			}
			staged = append(staged, e)
		}
	}

	if err := w.Index.SetBase(head.ID); err != nil {
		return nil, err
	}

	w.Logger.Info("staged changes",
		zap.String("branch", branch),
		zap.Int("count", len(staged)))
	return staged, nil
}

// Unstage removes entries for the given paths from the index. Pure
// metadata: the working directory and history are never touched.
func (w *LocalWorkspace) Unstage(paths []string) (int, error) {
	total := 0
	for _, p := range paths {
		rel, err := w.relPath(p)
		if err != nil {
			return total, err
		}
		n, err := w.Index.RemovePath(rel)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Commit folds the staged entries into a new commit and advances the
// current branch.
func (w *LocalWorkspace) Commit(ctx context.Context, message, author string) (*commits.Commit, error) {
	branch, head, err := w.Head()
	if err != nil {
		return nil, err
	}

	pending, err := w.Index.Pending()
	if err != nil {
		return nil, err
	}
	if !pending {
		return nil, tuskerr.EmptyCommit(branch)
	}

	entries, err := w.Index.List()
	if err != nil {
		return nil, err
	}

	var edits []tree.Edit
	for _, e := range entries {
		switch e.Status {
		case stage.StatusRemoved:
			edits = append(edits, tree.Edit{Path: e.Path, Remove: true})
		case stage.StatusAdded, stage.StatusModified:
			edits = append(edits, tree.Edit{Path: e.Path, Hash: e.Hash, Size: e.Size})
		}
	}

	newRoot, err := tree.Apply(ctx, w.Objects, head.TreeHash, edits)
	if err != nil {
		return nil, fmt.Errorf("building commit tree: %w", err)
	}
	if newRoot == head.TreeHash {
		return nil, tuskerr.EmptyCommit(branch)
	}

	c, err := w.Commits.Create(&commits.Commit{
		TreeHash: newRoot,
		Parents:  []string{head.ID},
		Author:   author,
		Message:  message,
	})
	if err != nil {
		return nil, err
	}

	if err := w.Refs.CompareAndSwap(branch, head.ID, c.ID); err != nil {
		return nil, err
	}
	if err := w.Index.Clear(); err != nil {
		return nil, err
	}

	w.Logger.Info("created commit",
		zap.String("branch", branch),
		zap.String("commit", c.ID),
		zap.String("tree", newRoot))
	return c, nil
}

// Status reports staged entries plus unstaged working-directory changes
// against HEAD. Hashing of unchanged files is skipped via the watcher-
// invalidated cache.
func (w *LocalWorkspace) Status(ctx context.Context) (staged []stage.Entry, unstaged []tree.Change, err error) {
	_, head, err := w.Head()
	if err != nil {
		return nil, nil, err
	}

	staged, err = w.Index.List()
	if err != nil {
		return nil, nil, err
	}
	stagedPaths := make(map[string]bool, len(staged))
	for _, e := range staged {
		stagedPaths[e.Path] = true
	}

	changes, err := w.diffPathAgainstTree(ctx, head.TreeHash, "", false)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range changes {
		if !stagedPaths[c.Path] {
			unstaged = append(unstaged, c)
		}
	}
	return staged, unstaged, nil
}

// Log returns the ancestors of HEAD, newest first.
func (w *LocalWorkspace) Log(limit int) ([]*commits.Commit, error) {
	_, head, err := w.Head()
	if err != nil {
		return nil, err
	}

	var out []*commits.Commit
	it := w.Commits.Ancestors(head.ID)
	for limit <= 0 || len(out) < limit {
		c, err := it.Next()
		if err != nil {
			return nil, err
		}
		if c == nil {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

// CreateBranch points a new branch at the current HEAD commit.
func (w *LocalWorkspace) CreateBranch(name string) error {
	_, head, err := w.Head()
	if err != nil {
		return err
	}
	return w.Refs.CompareAndSwap(name, "", head.ID)
}

// diffPathAgainstTree computes file-level changes between the working
// directory restricted to rel and the given tree restricted to rel.
// When store is true, new and modified file content is written to the
// object store as a side effect (staging); status runs with store=false
// and only hashes.
func (w *LocalWorkspace) diffPathAgainstTree(ctx context.Context, rootHash, rel string, storeContent bool) ([]tree.Change, error) {
	// Tracked files under rel.
	tracked := map[string]tree.Entry{}
	target, err := tree.Resolve(ctx, w.Objects, rootHash, rel)
	if err == nil {
		switch target.Kind {
		case tree.KindFile:
			tracked[rel] = target
		case tree.KindDir:
			err := tree.Walk(ctx, w.Objects, target.Hash, func(p string, e tree.Entry) (bool, error) {
				if e.Kind == tree.KindFile {
					full := p
					if rel != "" {
						full = rel + "/" + p
					}
					tracked[full] = e
				}
				return true, nil
			})
			if err != nil {
				return nil, err
			}
		}
	} else if !tuskerr.IsType(err, tuskerr.ErrorTypeNotFound) {
		return nil, err
	}

	// Working-directory files under rel.
	present := map[string]workFile{}
	if err := w.walkWorkdir(ctx, rel, present, storeContent); err != nil {
		return nil, err
	}

	var changes []tree.Change
	for p, f := range present {
		old, ok := tracked[p]
		switch {
		case !ok:
			changes = append(changes, tree.Change{Path: p, Kind: tree.Added, NewHash: f.hash, Size: f.size})
		case old.Hash != f.hash:
			changes = append(changes, tree.Change{Path: p, Kind: tree.Modified, OldHash: old.Hash, NewHash: f.hash, Size: f.size})
		}
	}
	for p, old := range tracked {
		if _, ok := present[p]; !ok {
			changes = append(changes, tree.Change{Path: p, Kind: tree.Removed, OldHash: old.Hash, Size: old.Size})
		}
	}

	sortChanges(changes)
	return changes, nil
}

type workFile struct {
	hash string
	size int64
}

func (w *LocalWorkspace) walkWorkdir(ctx context.Context, rel string, out map[string]workFile, storeContent bool) error {
	start := filepath.Join(w.Root, filepath.FromSlash(rel))
	info, err := os.Stat(start)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", start, err)
	}

	handleFile := func(abs, relPath string, size int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var hash string
		if storeContent {
			h, n, err := w.Objects.PutFile(ctx, abs)
			if err != nil {
				return err
			}
			hash, size = h, n
			w.hashes.put(relPath, abs, hash)
		} else {
			h, n, err := w.hashes.hash(relPath, abs)
			if err != nil {
				return err
			}
			hash, size = h, n
		}
		out[relPath] = workFile{hash: hash, size: size}
		return nil
	}

	if !info.IsDir() {
		return handleFile(start, rel, info.Size())
	}

	return filepath.WalkDir(start, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != start && tree.Ignored(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if tree.Ignored(name) || !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(w.Root, p)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		return handleFile(p, relPath, fi.Size())
	})
}

func (w *LocalWorkspace) relPath(p string) (string, error) {
	if p == "." || p == "" {
		return "", nil
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	if strings.HasPrefix(clean, "../") || filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(w.Root, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", tuskerr.Validation(fmt.Sprintf("path %s is outside the repository", p), nil)
		}
		return filepath.ToSlash(rel), nil
	}
	return clean, nil
}

func sortChanges(changes []tree.Change) {
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
}
