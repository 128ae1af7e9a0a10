// Package ingest implements the per-collection ingest pipeline: turning a
// document on disk into chunks, embeddings, and cache/index entries, and
// dumping them to durable storage once a key's in-memory shard grows past
// its threshold.
//
// A Manager owns one Collection per collection key, opened lazily and kept
// for the process lifetime. Each Collection serializes id allocation,
// cache mutation, and index mutation behind a single per-key mutex, per
// the concurrency discipline: memcache, memshard, and the id allocator are
// one unit of consistency.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/localdex/localdex/internal/chunk"
	"github.com/localdex/localdex/internal/embedclient"
	"github.com/localdex/localdex/internal/ingesterr"
	"github.com/localdex/localdex/internal/store"
	"github.com/localdex/localdex/internal/vectorindex"
)

// cacheEntry mirrors a metadata row for an id that has not yet been
// dumped to the store.
type cacheEntry struct {
	Source  string
	Content string
}

// Manager lazily opens and holds one Collection per collection key.
type Manager struct {
	mu            sync.Mutex
	root          string
	dumpThreshold int
	embed         *embedclient.Client
	chunkOpts     chunk.Options
	collections   map[string]*Collection
	onDump        func()
}

// SetDumpHook installs fn to be called after every successful memshard
// dump, across every collection this Manager opens from this point
// forward. It is used by internal/core to wire a dump counter without
// making this package depend on internal/metrics. A nil fn is a no-op.
func (m *Manager) SetDumpHook(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDump = fn
}

// NewManager constructs a Manager rooted at root (typically
// "<app_data>/embedding"), using embed to embed chunks and chunkOpts to
// bound chunk sizes.
func NewManager(root string, dumpThreshold int, embed *embedclient.Client, chunkOpts chunk.Options) *Manager {
	return &Manager{
		root:          root,
		dumpThreshold: dumpThreshold,
		embed:         embed,
		chunkOpts:     chunkOpts,
		collections:   make(map[string]*Collection),
	}
}

// Collection returns the Collection for key, opening its store and index
// on first use.
func (m *Manager) Collection(key string) (*Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.collections[key]; ok {
		return c, nil
	}

	dir := filepath.Join(m.root, key)
	docsDir := filepath.Join(dir, "Docs")
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		return nil, fmt.Errorf("ingest: create %s: %w", docsDir, err)
	}

	st, err := store.Open(filepath.Join(m.root, key+".db"))
	if err != nil {
		return nil, err
	}

	idx, err := vectorindex.Open(dir, m.dumpThreshold)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	c := &Collection{
		key:          key,
		dir:          dir,
		docsDir:      docsDir,
		store:        st,
		index:        idx,
		embed:        m.embed,
		chunkOpts:    m.chunkOpts,
		cache:        make(map[int64]cacheEntry),
		cacheSources: make(map[string]bool),
		onDump:       m.onDump,
	}
	m.collections[key] = c
	return c, nil
}

// Exists reports whether key has ever been opened as a collection on
// disk, without allocating any new state.
func (m *Manager) Exists(key string) bool {
	dir := filepath.Join(m.root, key)
	_, err := os.Stat(dir)
	return err == nil
}

// CloseAll flushes every collection opened during the process lifetime
// and closes its store handle. It collects and returns the first error
// encountered but always attempts every collection, so one bad shutdown
// does not leak the rest of the handles.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for key, c := range m.collections {
		if err := c.Flush(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("ingest: flush %s: %w", key, err)
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("ingest: close %s: %w", key, err)
		}
	}
	return firstErr
}

// Collection is the ingest pipeline for a single collection key: an
// in-memory cache of not-yet-dumped rows, a vector index, and a metadata
// store, all guarded by one mutex.
type Collection struct {
	mu sync.Mutex

	key     string
	dir     string
	docsDir string

	store *store.Store
	index *vectorindex.Index
	embed *embedclient.Client

	chunkOpts chunk.Options

	cache        map[int64]cacheEntry
	cacheSources map[string]bool

	onDump func()
}

// IndexDocument chunks, embeds, and indexes the file at path.
func (c *Collection) IndexDocument(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexPathLocked(ctx, path)
}

// IndexDocumentCopy copies path into this collection's Docs directory as
// read-only, then indexes the copy. On copy or chmod failure no state is
// mutated.
func (c *Collection) IndexDocumentCopy(ctx context.Context, path string) error {
	copied, err := c.copyIntoDocs(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexPathLocked(ctx, copied)
}

// copyIntoDocs copies src to <docsDir>/<basename(src)> with mode 444.
func (c *Collection) copyIntoDocs(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ingesterr.ErrFileNotFound
		}
		return "", fmt.Errorf("%w: %v", ingesterr.ErrCopyFailed, err)
	}
	defer in.Close()

	dst := filepath.Join(c.docsDir, filepath.Base(src))
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ingesterr.ErrCopyFailed, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("%w: %v", ingesterr.ErrCopyFailed, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("%w: %v", ingesterr.ErrCopyFailed, err)
	}

	if err := os.Chmod(dst, 0o444); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("%w: %v", ingesterr.ErrChmodFailed, err)
	}

	return dst, nil
}

// indexPathLocked performs the full ingest of path. Callers must hold c.mu.
func (c *Collection) indexPathLocked(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ingesterr.ErrFileNotFound
		}
		return fmt.Errorf("%w: %v", ingesterr.ErrUnparsableContent, err)
	}
	if !utf8.Valid(raw) {
		return ingesterr.ErrUnparsableContent
	}

	if c.cacheSources[path] {
		return ingesterr.ErrDuplicateSource
	}
	dup, err := c.store.IsDuplicate(ctx, path)
	if err != nil {
		return err
	}
	if dup {
		return ingesterr.ErrDuplicateSource
	}

	chunks := chunk.Split(string(raw), filepath.Base(path), c.chunkOpts)
	if len(chunks) == 0 {
		return ingesterr.ErrEmptyAfterChunking
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	vectors, err := c.embed.EmbedDocuments(ctx, chunks)
	if err != nil {
		return err
	}

	maxID, err := c.store.MaxID(ctx)
	if err != nil {
		return err
	}
	nextID := int64(len(c.cache)) + maxID + 1

	ids := make([]int64, len(chunks))
	for i := range chunks {
		ids[i] = nextID + int64(i)
	}

	if err := c.index.CreateIndex(len(vectors[0]), vectors, ids); err != nil {
		return err
	}

	for i, id := range ids {
		c.cache[id] = cacheEntry{Source: path, Content: chunks[i]}
	}
	c.cacheSources[path] = true

	if c.index.NeedsDump() {
		return c.dumpLocked(ctx)
	}
	return nil
}

// DumpIfNeeded flushes the in-memory shard to disk if it has crossed the
// dump threshold. It is a no-op otherwise.
func (c *Collection) DumpIfNeeded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.index.NeedsDump() {
		return nil
	}
	return c.dumpLocked(ctx)
}

// Flush unconditionally dumps the in-memory shard, if non-empty. Callers
// use this at teardown, since a collection must dump at least once when
// closed regardless of how few vectors it holds.
func (c *Collection) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index.Len() == 0 {
		return nil
	}
	return c.dumpLocked(ctx)
}

// dumpLocked writes the in-memory shard to disk and commits its rows to
// the store. Callers must hold c.mu.
func (c *Collection) dumpLocked(ctx context.Context) error {
	var dumpedIDs []int64
	err := c.index.Dump(func(ids []int64, file string) error {
		rows := make([]store.Row, len(ids))
		for i, id := range ids {
			entry := c.cache[id]
			rows[i] = store.Row{ID: id, Source: entry.Source, Content: entry.Content}
		}
		if err := c.store.InsertMany(ctx, rows); err != nil {
			return err
		}
		if err := c.store.InsertSegments(ctx, ids, file); err != nil {
			return err
		}
		dumpedIDs = ids
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range dumpedIDs {
		delete(c.cacheSources, c.cache[id].Source)
		delete(c.cache, id)
	}
	if c.onDump != nil {
		c.onDump()
	}
	return nil
}

// Delete removes every id belonging to each of paths, from both the cache
// and the persisted store. Persisted ids are tombstoned and their shard
// file rewritten via id-selector removal; no compaction is required.
func (c *Collection) Delete(ctx context.Context, paths []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.deletePathLocked(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// deletePathSnapshot captures enough state to reverse a delete.
type deletePathSnapshot struct {
	cacheRows     map[int64]cacheEntry
	tombstonedIDs []int64
}

// deletePathLocked removes every id for path from cache and store,
// returning a snapshot a caller can use to reverse the operation.
func (c *Collection) deletePathLocked(ctx context.Context, path string) (deletePathSnapshot, error) {
	snap := deletePathSnapshot{cacheRows: make(map[int64]cacheEntry)}

	var cacheIDs []int64
	for id, entry := range c.cache {
		if entry.Source == path {
			cacheIDs = append(cacheIDs, id)
			snap.cacheRows[id] = entry
		}
	}
	for _, id := range cacheIDs {
		delete(c.cache, id)
	}
	if len(cacheIDs) > 0 {
		delete(c.cacheSources, path)
		c.index.RemoveFromMem(cacheIDs)
	}

	persistedIDs, err := c.store.IDsForSource(ctx, path)
	if err != nil {
		return snap, err
	}
	if len(persistedIDs) == 0 {
		return snap, nil
	}

	byFile := make(map[string][]int64)
	for _, id := range persistedIDs {
		file, live, err := c.store.SegmentFile(ctx, id)
		if err != nil {
			return snap, err
		}
		if !live {
			continue
		}
		byFile[file] = append(byFile[file], id)
	}
	for file, ids := range byFile {
		if err := vectorindex.RemoveIDs(c.dir, file, ids); err != nil {
			return snap, err
		}
	}

	if err := c.store.Tombstone(ctx, persistedIDs); err != nil {
		return snap, err
	}
	snap.tombstonedIDs = persistedIDs
	return snap, nil
}

// restoreLocked undoes deletePathLocked's effect using its snapshot.
func (c *Collection) restoreLocked(ctx context.Context, path string, snap deletePathSnapshot) error {
	for id, entry := range snap.cacheRows {
		c.cache[id] = entry
	}
	if len(snap.cacheRows) > 0 {
		c.cacheSources[path] = true
	}
	if len(snap.tombstonedIDs) > 0 {
		if err := c.store.Restore(ctx, snap.tombstonedIDs); err != nil {
			return err
		}
	}
	return nil
}

// Update re-indexes each of paths: delete then insert. Each path is
// atomic — if the insert half fails, the path's prior state (cache rows
// and/or persisted rows) is restored rather than left half-deleted.
func (c *Collection) Update(ctx context.Context, paths []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		snap, err := c.deletePathLocked(ctx, p)
		if err != nil {
			return err
		}

		if err := c.indexPathLocked(ctx, p); err != nil {
			if restoreErr := c.restoreLocked(ctx, p, snap); restoreErr != nil {
				return fmt.Errorf("ingest: update %s: index failed (%v) and restore failed: %w", p, err, restoreErr)
			}
			return err
		}
	}
	return nil
}

// SearchMem searches the in-memory shard for topK nearest hits.
func (c *Collection) SearchMem(query []float32, topK int) []vectorindex.Hit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.SearchMem(query, topK)
}

// SearchDisk searches every persisted shard for topK nearest hits.
func (c *Collection) SearchDisk(query []float32, topK int) ([]vectorindex.Hit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.SearchDisk(query, topK)
}

// CacheEntry resolves an id against the in-memory cache.
func (c *Collection) CacheEntry(id int64) (source, content string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[id]
	return entry.Source, entry.Content, ok
}

// Fetch resolves an id against the persisted store.
func (c *Collection) Fetch(ctx context.Context, id int64) (row store.Row, ok bool, err error) {
	return c.store.Fetch(ctx, id)
}

// ListSources returns every live source in this collection, from both the
// cache and the persisted store.
func (c *Collection) ListSources(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	persisted, err := c.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(persisted)+len(c.cacheSources))
	var out []string
	for _, s := range persisted {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for s := range c.cacheSources {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// Close releases the collection's store handle. The vector index has no
// open resources of its own to release.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Close()
}

