// internal/workspace/watcher.go
package workspace

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"

	"tusk/internal/objects"
	"tusk/internal/tree"
)

// hashCache memoizes working-copy file hashes so status does not re-hash
// millions of unchanged files. Entries are keyed by path and validated
// against (size, mtime); an fsnotify watcher additionally evicts paths the
// moment they change, which catches same-second rewrites the stat check
// would miss.
type hashCache struct {
	root    string
	cache   *lru.Cache[string, hashEntry]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

type hashEntry struct {
	hash    string
	size    int64
	modTime time.Time
}

func newHashCache(root string) *hashCache {
	cache, err := lru.New[string, hashEntry](100_000)
	if err != nil {
		return &hashCache{root: root}
	}

	hc := &hashCache{root: root, cache: cache, done: make(chan struct{})}

	// Watching is best-effort: on platforms or trees where it fails the
	// cache still works off stat alone.
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return hc
	}
	hc.watcher = w
	hc.addDirs(root)
	go hc.run()
	return hc
}

func (hc *hashCache) addDirs(root string) {
	filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != root && tree.Ignored(d.Name()) {
			return filepath.SkipDir
		}
		hc.watcher.Add(p)
		return nil
	})
}

func (hc *hashCache) run() {
	for {
		select {
		case <-hc.done:
			return
		case ev, ok := <-hc.watcher.Events:
			if !ok {
				return
			}
			if rel, err := filepath.Rel(hc.root, ev.Name); err == nil {
				hc.cache.Remove(filepath.ToSlash(rel))
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					hc.addDirs(ev.Name)
				}
			}
		case _, ok := <-hc.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// hash returns the ContentHash of the file at abs, from cache when the
// stat signature still matches.
func (hc *hashCache) hash(rel, abs string) (string, int64, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return "", 0, err
	}

	if hc.cache != nil {
		if e, ok := hc.cache.Get(rel); ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
			return e.hash, e.size, nil
		}
	}

	h, n, err := objects.HashFile(abs)
	if err != nil {
		return "", 0, err
	}
	hc.store(rel, info, h)
	return h, n, nil
}

// put records a hash already computed elsewhere (staging stores content
// and knows the hash as a side effect).
func (hc *hashCache) put(rel, abs string, hash string) {
	info, err := os.Stat(abs)
	if err != nil {
		return
	}
	hc.store(rel, info, hash)
}

func (hc *hashCache) store(rel string, info os.FileInfo, hash string) {
	if hc.cache == nil {
		return
	}
	hc.cache.Add(rel, hashEntry{hash: hash, size: info.Size(), modTime: info.ModTime()})
}

func (hc *hashCache) close() {
	if hc.watcher != nil {
		close(hc.done)
		hc.watcher.Close()
	}
}
