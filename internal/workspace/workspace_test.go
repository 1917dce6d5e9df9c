package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	tuskerr "tusk/internal/errors"
	"tusk/internal/stage"
	"tusk/internal/tree"
)

func setupWorkspace(t *testing.T) *LocalWorkspace {
	t.Helper()

	w, err := Init(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func write(t *testing.T, w *LocalWorkspace, rel, content string) {
	t.Helper()
	full := filepath.Join(w.Root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func read(t *testing.T, w *LocalWorkspace, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(w.Root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func stageAndCommit(t *testing.T, w *LocalWorkspace, message string, paths ...string) string {
	t.Helper()
	if len(paths) == 0 {
		paths = []string{"."}
	}
	_, err := w.Stage(context.Background(), paths)
	require.NoError(t, err)
	c, err := w.Commit(context.Background(), message, "test@example.com")
	require.NoError(t, err)
	return c.ID
}

func TestInit(t *testing.T) {
	w := setupWorkspace(t)

	branch, head, err := w.Head()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	assert.Equal(t, tree.EmptyHash(), head.TreeHash)
	assert.Empty(t, head.Parents)

	_, err = Init(w.Root, zap.NewNop())
	assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeConflict))
}

func TestFindRoot(t *testing.T) {
	w := setupWorkspace(t)

	nested := filepath.Join(w.Root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	root, err := FindRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, w.Root, root)

	_, err = FindRoot(t.TempDir())
	assert.Error(t, err)
}

func TestStageCommitStatus(t *testing.T) {
	w := setupWorkspace(t)
	ctx := context.Background()

	write(t, w, "hi.txt", "hello\n")
	write(t, w, "data/train.csv", "a,b\n1,2\n")

	staged, err := w.Stage(ctx, []string{"."})
	require.NoError(t, err)
	require.Len(t, staged, 2)
	for _, e := range staged {
		assert.Equal(t, stage.StatusAdded, e.Status)
	}

	c, err := w.Commit(ctx, "first data", "test@example.com")
	require.NoError(t, err)

	_, head, err := w.Head()
	require.NoError(t, err)
	assert.Equal(t, c.ID, head.ID)

	t.Run("CleanAfterCommit", func(t *testing.T) {
		stagedNow, unstaged, err := w.Status(ctx)
		require.NoError(t, err)
		assert.Empty(t, stagedNow)
		assert.Empty(t, unstaged)
	})

	t.Run("EmptyCommitRefused", func(t *testing.T) {
		_, err := w.Commit(ctx, "nothing here", "test@example.com")
		assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeEmptyCommit))
	})

	t.Run("ModificationShowsUnstaged", func(t *testing.T) {
		write(t, w, "hi.txt", "hello again\n")

		stagedNow, unstaged, err := w.Status(ctx)
		require.NoError(t, err)
		assert.Empty(t, stagedNow)
		require.Len(t, unstaged, 1)
		assert.Equal(t, "hi.txt", unstaged[0].Path)
		assert.Equal(t, tree.Modified, unstaged[0].Kind)
	})

	t.Run("RemovalDetected", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(w.Root, "data", "train.csv")))

		_, err := w.Stage(ctx, []string{"."})
		require.NoError(t, err)

		entries, err := w.Index.List()
		require.NoError(t, err)

		byPath := map[string]stage.Status{}
		for _, e := range entries {
			byPath[e.Path] = e.Status
		}
		assert.Equal(t, stage.StatusRemoved, byPath["data/train.csv"])
		assert.Equal(t, stage.StatusModified, byPath["hi.txt"])

		_, err = w.Commit(ctx, "drop csv, tweak greeting", "test@example.com")
		require.NoError(t, err)
	})
}

func TestUnstage(t *testing.T) {
	w := setupWorkspace(t)
	ctx := context.Background()

	write(t, w, "a.txt", "a")
	write(t, w, "sub/b.txt", "b")

	_, err := w.Stage(ctx, []string{"."})
	require.NoError(t, err)

	n, err := w.Unstage([]string{"sub"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := w.Index.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Path)

	// The file itself is untouched.
	assert.Equal(t, "b", read(t, w, "sub/b.txt"))
}

func TestLog(t *testing.T) {
	w := setupWorkspace(t)

	write(t, w, "f.txt", "one")
	first := stageAndCommit(t, w, "one")
	write(t, w, "f.txt", "two")
	second := stageAndCommit(t, w, "two")

	history, err := w.Log(0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, second, history[0].ID)
	assert.Equal(t, first, history[1].ID)
	assert.Equal(t, "Initialized repository", history[2].Message)

	limited, err := w.Log(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRestore(t *testing.T) {
	w := setupWorkspace(t)
	ctx := context.Background()

	write(t, w, "a.txt", "v1")
	firstCommit := stageAndCommit(t, w, "v1")
	write(t, w, "a.txt", "v2 is longer")
	stageAndCommit(t, w, "v2")

	t.Run("FromHead", func(t *testing.T) {
		write(t, w, "a.txt", "scribbles")

		n, err := w.Restore(ctx, []string{"a.txt"}, "", false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "v2 is longer", read(t, w, "a.txt"))
	})

	t.Run("RestoredFileStagesAsNoChange", func(t *testing.T) {
		write(t, w, "a.txt", "dirty edit")

		n, err := w.Restore(ctx, []string{"a.txt"}, "", false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		// The restored content matches HEAD exactly, so staging it again
		// records nothing.
		staged, err := w.Stage(ctx, []string{"a.txt"})
		require.NoError(t, err)
		assert.Empty(t, staged)

		entries, err := w.Index.List()
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("FromCommit", func(t *testing.T) {
		n, err := w.Restore(ctx, []string{"a.txt"}, firstCommit, false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "v1", read(t, w, "a.txt"))
	})

	t.Run("DeletesUntracked", func(t *testing.T) {
		write(t, w, "junk/extra.txt", "not in any commit")

		_, err := w.Restore(ctx, []string{"."}, "", false)
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(w.Root, "junk", "extra.txt"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(w.Root, "junk"))
		assert.True(t, os.IsNotExist(err), "emptied directories are pruned")
	})

	t.Run("RewritesDeletedFile", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(w.Root, "a.txt")))

		n, err := w.Restore(ctx, []string{"a.txt"}, "", false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "v2 is longer", read(t, w, "a.txt"))
	})

	t.Run("StagedOnlyTouchesIndex", func(t *testing.T) {
		write(t, w, "a.txt", "draft edit")
		_, err := w.Stage(ctx, []string{"a.txt"})
		require.NoError(t, err)

		n, err := w.Restore(ctx, []string{"a.txt"}, "", true)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		entries, err := w.Index.List()
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Equal(t, "draft edit", read(t, w, "a.txt"))
	})

	t.Run("UnknownSource", func(t *testing.T) {
		_, err := w.Restore(ctx, []string{"a.txt"}, "no-such-revision", false)
		assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNotFound))
	})
}

func TestBranchAndCheckout(t *testing.T) {
	w := setupWorkspace(t)
	ctx := context.Background()

	write(t, w, "shared.txt", "on every branch")
	stageAndCommit(t, w, "shared")

	require.NoError(t, w.CreateBranch("dev"))
	require.NoError(t, w.Checkout(ctx, "dev"))

	write(t, w, "dev-only.txt", "feature work")
	stageAndCommit(t, w, "feature work")

	t.Run("SwitchBack", func(t *testing.T) {
		require.NoError(t, w.Checkout(ctx, "main"))

		branch, _, err := w.Head()
		require.NoError(t, err)
		assert.Equal(t, "main", branch)

		assert.Equal(t, "on every branch", read(t, w, "shared.txt"))
		_, err = os.Stat(filepath.Join(w.Root, "dev-only.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("SwitchForward", func(t *testing.T) {
		require.NoError(t, w.Checkout(ctx, "dev"))
		assert.Equal(t, "feature work", read(t, w, "dev-only.txt"))
	})

	t.Run("DuplicateBranch", func(t *testing.T) {
		err := w.CreateBranch("dev")
		assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNonFastForward))
	})

	t.Run("UnknownBranch", func(t *testing.T) {
		err := w.Checkout(ctx, "ghost")
		assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeNotFound))
	})
}

func TestPathsOutsideRepo(t *testing.T) {
	w := setupWorkspace(t)

	_, err := w.Stage(context.Background(), []string{"../elsewhere"})
	assert.True(t, tuskerr.IsType(err, tuskerr.ErrorTypeValidation))
}
