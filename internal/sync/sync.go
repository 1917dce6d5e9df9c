// internal/sync/sync.go
package sync

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"tusk/internal/commits"
	tuskerr "tusk/internal/errors"
	"tusk/internal/tree"
)

const defaultWorkers = 8

// Syncer moves history between a local repository and a peer. Transfers
// are content-negotiated: an object the other side already holds is never
// sent, so re-running a push or pull against an unchanged peer moves
// nothing.
type Syncer struct {
	Local   Repo
	Peer    Peer
	Logger  *zap.Logger
	Workers int
}

func New(local Repo, peer Peer, logger *zap.Logger) *Syncer {
	return &Syncer{
		Local:   local,
		Peer:    peer,
		Logger:  logger,
		Workers: defaultWorkers,
	}
}

// Push uploads branch's history the peer is missing, then compare-and-swaps
// the remote branch pointer. A NonFastForward from the final swap means
// someone else advanced the branch first; nothing already uploaded is
// wasted, the objects are content-addressed and a retry reuses them.
func (s *Syncer) Push(ctx context.Context, branch string) (Stats, error) {
	var stats Stats

	localTip, err := s.Local.Refs.Get(branch)
	if err != nil {
		return stats, err
	}

	remoteTip := ""
	switch id, err := s.Peer.GetBranch(ctx, branch); {
	case err == nil:
		remoteTip = id
	case tuskerr.IsType(err, tuskerr.ErrorTypeNotFound):
		// New branch on the remote.
	default:
		return stats, err
	}

	if remoteTip == localTip {
		return stats, nil
	}

	toSend, err := s.commitsMissingOnPeer(ctx, localTip)
	if err != nil {
		return stats, err
	}

	knownTrees := map[string]bool{}
	for _, c := range toSend {
		if err := s.pushTree(ctx, c.TreeHash, knownTrees, &stats); err != nil {
			return stats, err
		}
		if err := s.Peer.PutCommit(ctx, c); err != nil {
			return stats, err
		}
		stats.Commits++
	}

	if err := s.Peer.CompareAndSwapBranch(ctx, branch, remoteTip, localTip); err != nil {
		return stats, err
	}

	s.Logger.Info("pushed branch",
		zap.String("branch", branch),
		zap.String("tip", localTip),
		zap.Int("commits", stats.Commits),
		zap.Int("trees", stats.Trees),
		zap.Int("objects", stats.Objects))
	return stats, nil
}

// Pull downloads branch's history from the peer and fast-forwards the
// local branch pointer. Every received object is re-hashed on store, so a
// corrupt transfer fails with IntegrityMismatch instead of poisoning the
// repository.
func (s *Syncer) Pull(ctx context.Context, branch string) (Stats, error) {
	var stats Stats

	remoteTip, err := s.Peer.GetBranch(ctx, branch)
	if err != nil {
		return stats, err
	}

	localTip := ""
	switch id, err := s.Local.Refs.Get(branch); {
	case err == nil:
		localTip = id
	case tuskerr.IsType(err, tuskerr.ErrorTypeNotFound):
		// First pull of this branch.
	default:
		return stats, err
	}

	if remoteTip == localTip {
		return stats, nil
	}

	toFetch, err := s.commitsMissingLocally(ctx, remoteTip)
	if err != nil {
		return stats, err
	}

	knownTrees := map[string]bool{}
	for _, c := range toFetch {
		if err := s.pullTree(ctx, c.TreeHash, knownTrees, &stats); err != nil {
			return stats, err
		}
		if err := s.Local.Commits.Put(c); err != nil {
			return stats, err
		}
		stats.Commits++
	}

	if err := s.Local.Refs.CompareAndSwap(branch, localTip, remoteTip); err != nil {
		return stats, err
	}

	s.Logger.Info("pulled branch",
		zap.String("branch", branch),
		zap.String("tip", remoteTip),
		zap.Int("commits", stats.Commits),
		zap.Int("trees", stats.Trees),
		zap.Int("objects", stats.Objects))
	return stats, nil
}

// commitFrame tracks one commit during the missing-ancestry walk. A
// frame's commit is loaded on first visit; the second visit, after its
// parents were handled, emits it.
type commitFrame struct {
	id string
	c  *commits.Commit
}

// commitsMissingOnPeer walks ancestors from tip and returns the commits
// the peer lacks, parents before children. History length is unbounded,
// so the walk runs on an explicit stack.
func (s *Syncer) commitsMissingOnPeer(ctx context.Context, tip string) ([]*commits.Commit, error) {
	var out []*commits.Commit
	seen := map[string]bool{}

	stack := []commitFrame{{id: tip}}
	for len(stack) > 0 {
		i := len(stack) - 1
		if c := stack[i].c; c != nil {
			out = append(out, c)
			stack = stack[:i]
			continue
		}

		id := stack[i].id
		if seen[id] {
			stack = stack[:i]
			continue
		}
		seen[id] = true

		switch _, err := s.Peer.GetCommit(ctx, id); {
		case err == nil:
			stack = stack[:i]
			continue
		case tuskerr.IsType(err, tuskerr.ErrorTypeNotFound):
		default:
			return nil, err
		}

		c, err := s.Local.Commits.Get(id)
		if err != nil {
			return nil, err
		}
		stack[i].c = c
		for j := len(c.Parents) - 1; j >= 0; j-- {
			stack = append(stack, commitFrame{id: c.Parents[j]})
		}
	}
	return out, nil
}

// commitsMissingLocally mirrors commitsMissingOnPeer for pull.
func (s *Syncer) commitsMissingLocally(ctx context.Context, tip string) ([]*commits.Commit, error) {
	var out []*commits.Commit
	seen := map[string]bool{}

	stack := []commitFrame{{id: tip}}
	for len(stack) > 0 {
		i := len(stack) - 1
		if c := stack[i].c; c != nil {
			out = append(out, c)
			stack = stack[:i]
			continue
		}

		id := stack[i].id
		if seen[id] {
			stack = stack[:i]
			continue
		}
		seen[id] = true

		if ok, err := s.Local.Commits.Exists(id); err != nil {
			return nil, err
		} else if ok {
			stack = stack[:i]
			continue
		}

		c, err := s.Peer.GetCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		stack[i].c = c
		for j := len(c.Parents) - 1; j >= 0; j-- {
			stack = append(stack, commitFrame{id: c.Parents[j]})
		}
	}
	return out, nil
}

// treeFrame is one subtree on a push or pull stack. The node is loaded
// on first visit; the second visit, after its child directories were
// handled, transfers the blobs and the tree object itself.
type treeFrame struct {
	hash string
	node *tree.Node
}

// pushTree uploads the subtree at root, children before each tree node
// so the peer never holds a tree whose entries dangle. Tree depth is
// dataset-controlled, so the walk runs on an explicit stack. Blob
// uploads within one tree level run in a bounded pool.
func (s *Syncer) pushTree(ctx context.Context, root string, known map[string]bool, stats *Stats) error {
	stack := []treeFrame{{hash: root}}
	for len(stack) > 0 {
		i := len(stack) - 1
		hash := stack[i].hash
		if known[hash] {
			stack = stack[:i]
			continue
		}

		if stack[i].node == nil {
			have, err := s.Peer.HasObjects(ctx, []string{hash})
			if err != nil {
				return err
			}
			if have[hash] {
				known[hash] = true
				stack = stack[:i]
				continue
			}

			node, err := tree.Load(ctx, s.Local.Objects, hash)
			if err != nil {
				return err
			}
			stack[i].node = node
			for j := len(node.Entries) - 1; j >= 0; j-- {
				if e := node.Entries[j]; e.Kind == tree.KindDir {
					stack = append(stack, treeFrame{hash: e.Hash})
				}
			}
			continue
		}

		var blobHashes []string
		for _, e := range stack[i].node.Entries {
			if e.Kind == tree.KindFile {
				blobHashes = append(blobHashes, e.Hash)
			}
		}

		if len(blobHashes) > 0 {
			have, err := s.Peer.HasObjects(ctx, blobHashes)
			if err != nil {
				return err
			}

			var sent atomic.Int64
			p := pool.New().WithMaxGoroutines(s.workers()).WithContext(ctx).WithCancelOnError()
			for _, bh := range blobHashes {
				if have[bh] {
					continue
				}
				bh := bh
				p.Go(func(ctx context.Context) error {
					if err := s.pushObject(ctx, bh); err != nil {
						return err
					}
					sent.Add(1)
					return nil
				})
			}
			if err := p.Wait(); err != nil {
				return err
			}
			stats.Objects += int(sent.Load())
		}

		if err := s.pushObject(ctx, hash); err != nil {
			return err
		}
		stats.Trees++
		known[hash] = true
		stack = stack[:i]
	}
	return nil
}

func (s *Syncer) pushObject(ctx context.Context, hash string) error {
	content, err := s.Local.Objects.Get(ctx, hash)
	if err != nil {
		return err
	}
	got, err := s.Peer.PutObject(ctx, content)
	if err != nil {
		return err
	}
	if got != hash {
		return tuskerr.IntegrityMismatch(hash, got)
	}
	return nil
}

// pullTree downloads the subtree at root with the same explicit stack as
// pushTree. Each node is saved locally only after its children exist.
func (s *Syncer) pullTree(ctx context.Context, root string, known map[string]bool, stats *Stats) error {
	stack := []treeFrame{{hash: root}}
	for len(stack) > 0 {
		i := len(stack) - 1
		hash := stack[i].hash
		if known[hash] {
			stack = stack[:i]
			continue
		}

		if stack[i].node == nil {
			if ok, err := s.Local.Objects.Exists(ctx, hash); err != nil {
				return err
			} else if ok {
				known[hash] = true
				stack = stack[:i]
				continue
			}

			node, err := s.Peer.GetTree(ctx, hash)
			if err != nil {
				return err
			}
			stack[i].node = node
			for j := len(node.Entries) - 1; j >= 0; j-- {
				if e := node.Entries[j]; e.Kind == tree.KindDir {
					stack = append(stack, treeFrame{hash: e.Hash})
				}
			}
			continue
		}

		node := stack[i].node
		var missing []tree.Entry
		for _, e := range node.Entries {
			if e.Kind != tree.KindFile {
				continue
			}
			ok, err := s.Local.Objects.Exists(ctx, e.Hash)
			if err != nil {
				return err
			}
			if !ok {
				missing = append(missing, e)
			}
		}

		if len(missing) > 0 {
			var fetched atomic.Int64
			p := pool.New().WithMaxGoroutines(s.workers()).WithContext(ctx).WithCancelOnError()
			for _, e := range missing {
				e := e
				p.Go(func(ctx context.Context) error {
					content, err := s.Peer.GetObject(ctx, e.Hash)
					if err != nil {
						return err
					}
					got, err := s.Local.Objects.Put(ctx, content)
					if err != nil {
						return err
					}
					if got != e.Hash {
						return tuskerr.IntegrityMismatch(e.Hash, got)
					}
					fetched.Add(1)
					return nil
				})
			}
			if err := p.Wait(); err != nil {
				return err
			}
			stats.Objects += int(fetched.Load())
		}

		got, err := node.Save(ctx, s.Local.Objects)
		if err != nil {
			return err
		}
		if got != hash {
			return tuskerr.IntegrityMismatch(hash, got)
		}
		stats.Trees++
		known[hash] = true
		stack = stack[:i]
	}
	return nil
}

func (s *Syncer) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return defaultWorkers
}
