package ragcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/incidentfox/ifox-core/pkg/ragcache/treeformat"
)

// ErrTreeExists is returned by CreateTree when a tree of that name is
// already on disk.
var ErrTreeExists = fmt.Errorf("ragcache: tree already exists")

// Tree-edit operations. These sit off the hot path: each serializes on the
// per-name download lock LoadTree uses, so an edit never interleaves with
// a concurrent first-use load of the same tree.

// CreateTree writes a new tree to local disk under the primary path
// pattern and inserts it into the cache.
func (c *Cache) CreateTree(_ context.Context, name string, nodes []treeformat.Node) error {
	_, err, _ := c.downloadGroup.Do(name, func() (interface{}, error) {
		if _, ok := c.existingLocalPath(name); ok {
			return nil, fmt.Errorf("%s: %w", name, ErrTreeExists)
		}
		tree := &treeformat.Tree{Name: name, Nodes: nodes}
		if err := c.writeTree(name, tree); err != nil {
			return nil, err
		}
		c.insert(name, tree)
		return nil, nil
	})
	return err
}

// AddDocuments appends nodes to an existing tree, rewriting the artifact
// and refreshing the cached copy.
func (c *Cache) AddDocuments(ctx context.Context, name string, nodes []treeformat.Node) error {
	tree, err := c.LoadTree(ctx, name)
	if err != nil {
		return err
	}

	_, err, _ = c.downloadGroup.Do(name, func() (interface{}, error) {
		updated := &treeformat.Tree{Name: tree.Name, Nodes: append(append([]treeformat.Node{}, tree.Nodes...), nodes...)}
		if err := c.writeTree(name, updated); err != nil {
			return nil, err
		}
		c.mu.Lock()
		if e, ok := c.entries[name]; ok {
			c.totalBytes -= e.bytes
			e.tree = updated
			e.bytes = treeformat.EstimateSize(updated)
			c.totalBytes += e.bytes
			c.mu.Unlock()
		} else {
			c.mu.Unlock()
			c.insert(name, updated)
		}
		return nil, nil
	})
	return err
}

// DeleteTree drops the tree from the cache and removes both on-disk path
// patterns. A tree that exists nowhere is not an error.
func (c *Cache) DeleteTree(_ context.Context, name string) error {
	_, err, _ := c.downloadGroup.Do(name, func() (interface{}, error) {
		c.mu.Lock()
		if _, ok := c.entries[name]; ok {
			c.evictLocked(name)
		}
		c.mu.Unlock()

		for _, path := range c.localPaths(name) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("remove tree file %s: %w", path, err)
			}
		}
		// The nested layout leaves an empty directory behind.
		_ = os.Remove(filepath.Join(c.cfg.LocalRoot, "trees", name))
		return nil, nil
	})
	return err
}

// writeTree encodes tree to a temp file and renames it into the primary
// path, the same atomic-rename move downloadToDisk makes.
func (c *Cache) writeTree(name string, tree *treeformat.Tree) error {
	path := c.localPaths(name)[0]
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create trees dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp tree file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := treeformat.Encode(tmp, tree); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode tree %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp tree file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move tree %s into place: %w", name, err)
	}
	return nil
}
