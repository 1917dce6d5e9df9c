// internal/sync/peer.go
package sync

import (
	"context"

	"tusk/internal/commits"
	"tusk/internal/objects"
	"tusk/internal/refs"
	"tusk/internal/tree"
)

// Peer is the remote side of a sync, transport-agnostic. The HTTP client
// implements it against a server; tests implement it in-process. Every
// mutation on the peer is hash-verified on arrival, so a peer never has to
// trust the sender.
type Peer interface {
	// GetBranch resolves a remote branch to its commit id. A missing
	// branch is a NotFound error.
	GetBranch(ctx context.Context, name string) (string, error)

	// CompareAndSwapBranch advances the remote branch pointer, with the
	// same semantics as refs.Store.CompareAndSwap.
	CompareAndSwapBranch(ctx context.Context, name, expectedOld, newID string) error

	GetCommit(ctx context.Context, id string) (*commits.Commit, error)
	PutCommit(ctx context.Context, c *commits.Commit) error

	// GetTree fetches a tree node by hash.
	GetTree(ctx context.Context, hash string) (*tree.Node, error)

	// HasObjects reports, for a batch of hashes, which the peer already
	// holds. Batching is what keeps negotiation at one round trip per
	// tree level instead of one per file.
	HasObjects(ctx context.Context, hashes []string) (map[string]bool, error)

	GetObject(ctx context.Context, hash string) ([]byte, error)
	PutObject(ctx context.Context, content []byte) (string, error)
}

// Repo is the local side of a sync: the three stores a repository is made
// of. Both the CLI workspace and the server assemble one of these.
type Repo struct {
	Objects objects.Store
	Commits *commits.Store
	Refs    *refs.Store
}

// Stats counts what a push or pull actually moved. Zero everywhere means
// the peers were already in sync.
type Stats struct {
	Commits int `json:"commits"`
	Trees   int `json:"trees"`
	Objects int `json:"objects"`
}

func (s Stats) Empty() bool {
	return s.Commits == 0 && s.Trees == 0 && s.Objects == 0
}
