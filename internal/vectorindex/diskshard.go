package vectorindex

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/localdex/localdex/internal/ingesterr"
)

// flatFile is the on-disk representation of one dumped flat+id-map shard.
// There is no interop requirement with any existing faiss file on disk (see
// DESIGN.md), so the format only needs to be self-consistent across writes
// and reads of this package.
type flatFile struct {
	Dim     int
	IDs     []int64
	Vectors [][]float32
}

// writeShard durably writes a shard to path: encode to a temp file in the
// same directory, then rename over the destination, so a crash mid-write
// never leaves a truncated shard file behind.
func writeShard(path string, dim int, ids []int64, vectors [][]float32) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".shard-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ingesterr.ErrDiskFull, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op once renamed away

	enc := gob.NewEncoder(tmp)
	if err := enc.Encode(flatFile{Dim: dim, IDs: ids, Vectors: vectors}); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: encode: %v", ingesterr.ErrDiskFull, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync: %v", ingesterr.ErrDiskFull, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ingesterr.ErrDiskFull, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename: %v", ingesterr.ErrDiskFull, err)
	}
	return nil
}

// readShard loads a shard previously written by writeShard.
func readShard(path string) (flatFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return flatFile{}, fmt.Errorf("%w: %v", ingesterr.ErrCorruptIndexFile, err)
	}
	defer f.Close()

	var ff flatFile
	if err := gob.NewDecoder(f).Decode(&ff); err != nil {
		return flatFile{}, fmt.Errorf("%w: %v", ingesterr.ErrCorruptIndexFile, err)
	}
	if len(ff.IDs) != len(ff.Vectors) {
		return flatFile{}, fmt.Errorf("%w: %s", ingesterr.ErrVectorIDCountMismatch, path)
	}
	return ff, nil
}

// searchShard loads the shard at path and returns its topK nearest hits to
// query by squared L2 distance.
func searchShard(path string, query []float32, topK int) ([]Hit, error) {
	ff, err := readShard(path)
	if err != nil {
		return nil, err
	}
	return bruteForceSearch(ff.IDs, ff.Vectors, query, topK), nil
}

// removeIDsFromShard loads the shard at path, drops every vector whose id
// is in ids, and rewrites the file in place. No compaction beyond this
// filtering happens; the file may shrink to zero vectors but is not
// deleted, matching the original's in-place remove_ids semantics.
func removeIDsFromShard(path string, ids []int64) error {
	ff, err := readShard(path)
	if err != nil {
		return err
	}

	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	keptIDs := ff.IDs[:0]
	keptVecs := ff.Vectors[:0]
	for i, id := range ff.IDs {
		if drop[id] {
			continue
		}
		keptIDs = append(keptIDs, id)
		keptVecs = append(keptVecs, ff.Vectors[i])
	}

	return writeShard(path, ff.Dim, keptIDs, keptVecs)
}

// listShardFiles returns every flat_<n>.faiss path in dir, in no
// particular order; callers searching across shards don't need an
// ordering since results are merged by distance afterward.
func listShardFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vectorindex: list shards in %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".faiss" {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out, nil
}
