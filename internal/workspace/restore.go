// internal/workspace/restore.go
package workspace

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"go.uber.org/zap"

	tuskerr "tusk/internal/errors"
	"tusk/internal/tree"
)

// Restore brings the given paths back to the state of source. With staged
// set it instead drops the paths from the index and leaves the working
// directory alone. source may be a branch name, a commit id, or "" for
// HEAD. Files already matching the target content are never rewritten.
func (w *LocalWorkspace) Restore(ctx context.Context, paths []string, source string, staged bool) (int, error) {
	if staged {
		return w.Unstage(paths)
	}

	commitID, err := w.resolveSource(source)
	if err != nil {
		return 0, err
	}
	c, err := w.Commits.Get(commitID)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, p := range paths {
		rel, err := w.relPath(p)
		if err != nil {
			return total, err
		}
		n, err := w.materialize(ctx, c.TreeHash, rel)
		if err != nil {
			return total, err
		}
		total += n
	}

	w.Logger.Info("restored paths",
		zap.String("commit", commitID),
		zap.Int("files", total))
	return total, nil
}

// Checkout switches HEAD to branch and materializes its tree. Any staged
// entries are discarded; they were computed against the old branch tip.
func (w *LocalWorkspace) Checkout(ctx context.Context, branch string) error {
	commitID, err := w.Refs.Get(branch)
	if err != nil {
		return err
	}
	c, err := w.Commits.Get(commitID)
	if err != nil {
		return err
	}

	n, err := w.materialize(ctx, c.TreeHash, "")
	if err != nil {
		return err
	}
	if err := w.Refs.SetHead(branch); err != nil {
		return err
	}
	if err := w.Index.Clear(); err != nil {
		return err
	}

	w.Logger.Info("checked out branch",
		zap.String("branch", branch),
		zap.String("commit", commitID),
		zap.Int("files_updated", n))
	return nil
}

// resolveSource maps a user-supplied revision to a commit id: branch name
// first, then literal commit id, then HEAD for the empty string.
func (w *LocalWorkspace) resolveSource(source string) (string, error) {
	if source == "" {
		_, head, err := w.Head()
		if err != nil {
			return "", err
		}
		return head.ID, nil
	}

	if ok, err := w.Refs.Exists(source); err != nil {
		return "", err
	} else if ok {
		return w.Refs.Get(source)
	}

	if ok, err := w.Commits.Exists(source); err != nil {
		return "", err
	} else if ok {
		return source, nil
	}

	return "", tuskerr.NotFound("revision", source)
}

// materialize makes the working directory under rel match the tree under
// rel. Modified and missing files are written from the object store,
// files absent from the tree are deleted, matching files are untouched.
// Returns the number of files written or removed.
func (w *LocalWorkspace) materialize(ctx context.Context, rootHash, rel string) (int, error) {
	changes, err := w.diffPathAgainstTree(ctx, rootHash, rel, false)
	if err != nil {
		return 0, err
	}

	// diffPathAgainstTree reports the working directory relative to the
	// tree, so the actions here run in reverse: a Removed file is one the
	// tree has and the directory lacks.
	updated := 0
	for _, c := range changes {
		abs := filepath.Join(w.Root, filepath.FromSlash(c.Path))
		switch c.Kind {
		case tree.Added:
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return updated, fmt.Errorf("removing %s: %w", c.Path, err)
			}
			w.pruneEmptyDirs(filepath.Dir(abs))
		case tree.Modified:
			if err := w.writeFromStore(ctx, c.OldHash, abs); err != nil {
				return updated, err
			}
		case tree.Removed:
			if err := w.writeFromStore(ctx, c.OldHash, abs); err != nil {
				return updated, err
			}
		}
		updated++
	}
	return updated, nil
}

// writeFromStore streams an object to abs, replacing it atomically so a
// crash mid-restore never leaves a half-written file.
func (w *LocalWorkspace) writeFromStore(ctx context.Context, hash, abs string) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", abs, err)
	}

	rd, err := w.Objects.Open(ctx, hash)
	if err != nil {
		return err
	}
	defer rd.Close()

	t, err := renameio.TempFile("", abs)
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", abs, err)
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, rd); err != nil {
		return fmt.Errorf("writing %s: %w", abs, err)
	}
	return t.CloseAtomicallyReplace()
}

// pruneEmptyDirs removes now-empty directories up to the repository root.
// Trees have no notion of an empty directory, so none should survive a
// restore.
func (w *LocalWorkspace) pruneEmptyDirs(dir string) {
	for dir != w.Root && len(dir) > len(w.Root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
