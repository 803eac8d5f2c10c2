// Package ragcache implements the S3-backed LRU tree cache of spec.md
// §4.J: an insertion-ordered map of loaded retrieval trees, evicted by
// size and count, with single-flight downloads so concurrent callers
// racing to load the same tree only pay for one S3 fetch.
package ragcache

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/incidentfox/ifox-core/pkg/ragcache/treeformat"
)

// Downloader fetches a tree object from the backing object store. It is
// satisfied by S3Downloader in production and a fake in tests.
type Downloader interface {
	// Download returns the object body for key, or an error satisfying
	// errors.Is(err, ErrNotFound) if the key doesn't exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// ErrNotFound is returned by a Downloader when the requested key is absent.
var ErrNotFound = fmt.Errorf("ragcache: object not found")

// Config controls cache capacity.
type Config struct {
	// LocalRoot is the directory trees are cached to on local disk, under
	// trees/<name>.pkl or trees/<name>/<name>.pkl.
	LocalRoot string
	// MaxTrees caps the number of resident trees.
	MaxTrees int
	// MaxBytes caps total estimated resident size across all trees.
	MaxBytes int64
}

// entry is the value stored per cache slot; elem lets Cache relocate it to
// the MRU end of order in O(1).
type entry struct {
	name  string
	tree  *treeformat.Tree
	bytes int64
	elem  *list.Element
}

// Cache is the process-wide LRU tree cache described in spec.md §4.J.
// The zero value is not usable; construct with NewCache.
type Cache struct {
	cfg        Config
	downloader Downloader
	logger     *slog.Logger

	mu         sync.Mutex
	order      *list.List // list of string tree names; front = LRU, back = MRU
	entries    map[string]*entry
	totalBytes int64

	downloadGroup singleflight.Group
}

// NewCache constructs a Cache backed by local disk at cfg.LocalRoot,
// falling back to downloader for trees not yet present locally.
func NewCache(cfg Config, downloader Downloader) *Cache {
	return &Cache{
		cfg:        cfg,
		downloader: downloader,
		logger:     slog.Default(),
		order:      list.New(),
		entries:    make(map[string]*entry),
	}
}

// localPaths returns the two on-disk locations load_tree checks, in the
// priority order spec.md §4.J step 2 specifies.
func (c *Cache) localPaths(name string) []string {
	return []string{
		filepath.Join(c.cfg.LocalRoot, "trees", name+".pkl"),
		filepath.Join(c.cfg.LocalRoot, "trees", name, name+".pkl"),
	}
}

// s3Keys returns the two S3 key patterns tried on a cache miss, same order
// as localPaths.
func (c *Cache) s3Keys(name string) []string {
	return []string{
		fmt.Sprintf("trees/%s.pkl", name),
		fmt.Sprintf("trees/%s/%s.pkl", name, name),
	}
}

// LoadTree returns the named tree, loading it from local disk or S3 on a
// miss and evicting LRU entries to stay within the configured limits. It
// implements spec.md §4.J's load_tree operation.
func (c *Cache) LoadTree(ctx context.Context, name string) (*treeformat.Tree, error) {
	if t, ok := c.get(name); ok {
		return t, nil
	}

	path, err := c.ensureOnDisk(ctx, name)
	if err != nil {
		return nil, err
	}

	tree, err := c.loadFromDisk(path)
	if err != nil {
		return nil, fmt.Errorf("ragcache: decode tree %q: %w", name, err)
	}

	c.insert(name, tree)
	return tree, nil
}

// get returns the cached tree for name and promotes it to MRU, or
// (nil, false) on a miss.
func (c *Cache) get(name string) (*treeformat.Tree, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	c.order.MoveToBack(e.elem)
	return e.tree, true
}

// ensureOnDisk guarantees name is present under one of localPaths, loading
// it from S3 if necessary. Concurrent callers for the same name coalesce
// onto a single download via downloadGroup (spec.md §4.J / testable
// property 10).
func (c *Cache) ensureOnDisk(ctx context.Context, name string) (string, error) {
	if path, ok := c.existingLocalPath(name); ok {
		return path, nil
	}

	result, err, _ := c.downloadGroup.Do(name, func() (any, error) {
		// Re-check under the single-flight key: another goroutine may have
		// finished the download while we were waiting to enter Do.
		if path, ok := c.existingLocalPath(name); ok {
			return path, nil
		}
		return c.downloadToDisk(ctx, name)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Cache) existingLocalPath(name string) (string, bool) {
	for _, p := range c.localPaths(name) {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// downloadToDisk tries each S3 key pattern in turn, writing the first hit
// to a temp file and atomically renaming it into the primary local path.
func (c *Cache) downloadToDisk(ctx context.Context, name string) (string, error) {
	dest := c.localPaths(name)[0]
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("ragcache: create tree dir for %q: %w", name, err)
	}

	var lastErr error
	for _, key := range c.s3Keys(name) {
		body, err := c.downloader.Download(ctx, key)
		if err != nil {
			lastErr = err
			continue
		}
		if err := atomicWrite(dest, body); err != nil {
			body.Close()
			return "", fmt.Errorf("ragcache: write downloaded tree %q: %w", name, err)
		}
		body.Close()
		c.logger.Info("ragcache: downloaded tree from S3", "tree", name, "key", key)
		return dest, nil
	}
	return "", fmt.Errorf("ragcache: tree %q not found under any S3 key pattern: %w", name, lastErr)
}

func atomicWrite(dest string, body io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dest)
}

func (c *Cache) loadFromDisk(path string) (*treeformat.Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return treeformat.Decode(f)
}

// insert adds tree at the MRU end, evicting from the LRU end first to stay
// within cfg.MaxTrees and cfg.MaxBytes (spec.md §4.J step 5 / testable
// property 9). The entry just loaded is never evicted even if, by itself,
// it would exceed cfg.MaxBytes. Two loaders can race here after the
// single-flight download completes: the loser must promote the existing
// entry instead of inserting a duplicate order element and double-counting
// bytes.
func (c *Cache) insert(name string, tree *treeformat.Tree) {
	size := treeformat.EstimateSize(tree)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[name]; ok {
		c.order.MoveToBack(e.elem)
		return
	}

	for c.shouldEvict(name, size) {
		front := c.order.Front()
		if front == nil {
			break
		}
		lru := front.Value.(string)
		c.evictLocked(lru)
	}

	elem := c.order.PushBack(name)
	c.entries[name] = &entry{name: name, tree: tree, bytes: size, elem: elem}
	c.totalBytes += size

	c.logger.Info("ragcache: tree cached",
		"tree", name, "bytes", size,
		"cache_trees", len(c.entries), "cache_bytes", c.totalBytes)
}

func (c *Cache) shouldEvict(incomingName string, incomingSize int64) bool {
	if len(c.entries) == 0 {
		return false
	}
	wouldHaveTrees := len(c.entries) + 1
	wouldHaveBytes := c.totalBytes + incomingSize
	return wouldHaveTrees > c.cfg.MaxTrees || (c.cfg.MaxBytes > 0 && wouldHaveBytes > c.cfg.MaxBytes)
}

// evictLocked removes name; caller must hold c.mu.
func (c *Cache) evictLocked(name string) {
	e, ok := c.entries[name]
	if !ok {
		return
	}
	c.order.Remove(e.elem)
	delete(c.entries, name)
	c.totalBytes -= e.bytes
	c.logger.Info("ragcache: tree evicted", "tree", name)
}

// Stats reports current occupancy, for health/metrics endpoints.
type Stats struct {
	Trees     int
	Bytes     int64
	MaxTrees  int
	MaxBytes  int64
	TreeNames []string
}

// Stats returns a point-in-time snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		names = append(names, e.Value.(string))
	}
	return Stats{
		Trees:     len(c.entries),
		Bytes:     c.totalBytes,
		MaxTrees:  c.cfg.MaxTrees,
		MaxBytes:  c.cfg.MaxBytes,
		TreeNames: names,
	}
}
