// Package vectorindex implements the per-collection-key approximate
// nearest-neighbor index: a small in-memory flat shard that accumulates
// freshly ingested vectors, and zero or more flat+id-map shards persisted
// to disk once the in-memory shard crosses its dump threshold.
//
// There is no faiss dependency here — the corpus this module was built
// against never links libfaiss from Go, so the on-disk shard format is this
// package's own gob encoding rather than a byte-compatible faiss index
// file. See DESIGN.md for the reasoning.
package vectorindex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/localdex/localdex/internal/ingesterr"
)

// DefaultDumpThreshold is the in-memory vector count at which a shard is
// flushed to disk. Implementations may raise it, but every Index must dump
// at least once at teardown regardless of how few vectors it holds.
const DefaultDumpThreshold = 2

// ivfFlatCutoff and rejectCutoff bound the vector-count strategy selection
// in CreateIndex, matching the source's tiered index-type choice: flat for
// small collections, IVF-flat (unimplemented) beyond that, rejected past a
// million vectors in a single batch.
const (
	ivfFlatCutoff = 1000
	rejectCutoff  = 1_000_000
)

// Index is the per-key ANN index: one in-memory flat shard plus whatever
// shard files have already been dumped to dir. It is not safe for
// concurrent use on its own — callers serialize access with the same
// per-key mutex that guards the ingest cache, per the concurrency model.
type Index struct {
	dir           string
	dumpThreshold int
	mem           *MemShard
	dumpSeq       int
}

// Open returns an Index rooted at dir (created if absent) with the given
// dump threshold. It does not eagerly load any existing disk shards; they
// are read lazily on search.
func Open(dir string, dumpThreshold int) (*Index, error) {
	if dumpThreshold <= 0 {
		dumpThreshold = DefaultDumpThreshold
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vectorindex: create %s: %w", dir, err)
	}

	seq, err := existingShardCount(dir)
	if err != nil {
		return nil, err
	}

	return &Index{dir: dir, dumpThreshold: dumpThreshold, dumpSeq: seq}, nil
}

// existingShardCount counts flat_<n>.faiss files already on disk, so a
// reopened Index continues numbering shards rather than overwriting them.
func existingShardCount(dir string) (int, error) {
	files, err := listShardFiles(dir)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// Dim returns the dimension of the in-memory shard, or 0 if none has been
// created yet.
func (ix *Index) Dim() int {
	if ix.mem == nil {
		return 0
	}
	return ix.mem.Dim()
}

// Len returns the number of vectors currently held in memory (not yet
// dumped to disk).
func (ix *Index) Len() int {
	if ix.mem == nil {
		return 0
	}
	return ix.mem.Len()
}

// CreateIndex picks a sub-strategy by vector count and, if flat, seeds (or
// appends to) the in-memory shard. Only the flat strategy is implemented;
// larger batches surface ErrNotImplemented or ErrCollectionTooLarge rather
// than silently downgrading, so callers know a batch was rejected instead
// of partially indexed.
func (ix *Index) CreateIndex(d int, vectors [][]float32, ids []int64) error {
	n := len(vectors)
	if len(ids) != n {
		return fmt.Errorf("%w: %d ids, %d vectors", ingesterr.ErrVectorIDCountMismatch, len(ids), n)
	}
	if n == 0 {
		return ingesterr.ErrEmptyVectorSet
	}

	switch {
	case n < ivfFlatCutoff:
		return ix.Add(d, ids, vectors)
	case n < rejectCutoff:
		return fmt.Errorf("%w: IVF-flat for %d vectors", ingesterr.ErrNotImplemented, n)
	default:
		return fmt.Errorf("%w: %d vectors in one batch", ingesterr.ErrCollectionTooLarge, n)
	}
}

// Add appends ids/vectors to the in-memory shard, creating it at dimension
// d on first use.
func (ix *Index) Add(d int, ids []int64, vectors [][]float32) error {
	if ix.mem == nil {
		ix.mem = NewMemShard(d)
	}
	if d != ix.mem.Dim() {
		return fmt.Errorf("%w: got %d, want %d", ingesterr.ErrDimensionMismatch, d, ix.mem.Dim())
	}
	return ix.mem.Add(ids, vectors)
}

// NeedsDump reports whether the in-memory shard has crossed the dump
// threshold and should be flushed to disk.
func (ix *Index) NeedsDump() bool {
	return ix.Len() >= ix.dumpThreshold
}

// RemoveFromMem deletes ids from the in-memory shard, if present.
func (ix *Index) RemoveFromMem(ids []int64) {
	if ix.mem != nil {
		ix.mem.Remove(ids)
	}
}

// SearchMem searches the in-memory shard only. It returns nil if no
// in-memory shard has been created yet.
func (ix *Index) SearchMem(query []float32, topK int) []Hit {
	if ix.mem == nil {
		return nil
	}
	return ix.mem.Search(query, topK)
}

// SearchDisk searches every persisted shard under dir, unions the results
// by id (keeping the smallest distance per id across shards), and returns
// the topK smallest overall.
func (ix *Index) SearchDisk(query []float32, topK int) ([]Hit, error) {
	files, err := listShardFiles(ix.dir)
	if err != nil {
		return nil, err
	}

	best := make(map[int64]float32)
	for _, f := range files {
		hits, err := searchShard(f, query, topK)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if d, ok := best[h.ID]; !ok || h.Distance < d {
				best[h.ID] = h.Distance
			}
		}
	}

	merged := make([]Hit, 0, len(best))
	for id, d := range best {
		merged = append(merged, Hit{ID: id, Distance: d})
	}
	sortHits(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// Dump writes the in-memory shard to the next flat_<n>.faiss file and, on
// success, asks commit to durably record the (ids, filename) binding —
// typically a Store.InsertSegments call. If commit fails, the freshly
// written shard file is removed so the two stay consistent: a shard file
// only exists on disk once its segments rows are committed. On success the
// in-memory shard is cleared.
func (ix *Index) Dump(commit func(ids []int64, file string) error) error {
	if ix.mem == nil || ix.mem.Len() == 0 {
		return nil
	}

	ix.dumpSeq++
	name := fmt.Sprintf("flat_%d.faiss", ix.dumpSeq)
	path := filepath.Join(ix.dir, name)

	ids := append([]int64(nil), ix.mem.ids...)
	vectors := append([][]float32(nil), ix.mem.vectors...)

	if err := writeShard(path, ix.mem.Dim(), ids, vectors); err != nil {
		ix.dumpSeq--
		return err
	}

	if err := commit(ids, name); err != nil {
		_ = os.Remove(path)
		ix.dumpSeq--
		return err
	}

	ix.mem.Clear()
	return nil
}

// RemoveIDs removes the given ids from a specific dumped shard file,
// rewriting it in place. Callers resolve which file to target via the
// metadata store's per-id segment binding.
func RemoveIDs(dir, file string, ids []int64) error {
	return removeIDsFromShard(filepath.Join(dir, file), ids)
}
