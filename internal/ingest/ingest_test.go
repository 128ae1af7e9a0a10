package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/localdex/localdex/internal/chunk"
	"github.com/localdex/localdex/internal/embedclient"
	"github.com/localdex/localdex/internal/ingesterr"
)

// newTestManager returns a Manager backed by a fake embedding server that
// returns a fixed 2-dimensional vector per input text, and small chunk
// bounds so short test documents produce a handful of chunks.
func newTestManager(t *testing.T, dumpThreshold int) *Manager {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		type item struct {
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		for i := range req.Input {
			resp.Data = append(resp.Data, item{Embedding: []float32{float32(i), 1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	client := embedclient.New(embedclient.Config{BaseURL: srv.URL})
	root := t.TempDir()
	return NewManager(root, dumpThreshold, client, chunk.Options{MinChunk: 0, MaxChunk: 50})
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestIndexDocument_Success(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)
	ctx := context.Background()

	c, err := m.Collection("k1")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}

	srcDir := t.TempDir()
	path := writeTempFile(t, srcDir, "doc.txt", "hello, world. this is a test")

	if err := c.IndexDocument(ctx, path); err != nil {
		t.Fatalf("index_document: %v", err)
	}

	sources, err := c.ListSources(ctx)
	if err != nil {
		t.Fatalf("list_sources: %v", err)
	}
	if len(sources) != 1 || sources[0] != path {
		t.Fatalf("list_sources = %v, want [%s]", sources, path)
	}
}

func TestIndexDocument_RejectsDuplicate(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)
	ctx := context.Background()

	c, err := m.Collection("k1")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}

	srcDir := t.TempDir()
	path := writeTempFile(t, srcDir, "doc.txt", "hello, world")

	if err := c.IndexDocument(ctx, path); err != nil {
		t.Fatalf("first index: %v", err)
	}
	err = c.IndexDocument(ctx, path)
	if !errors.Is(err, ingesterr.ErrDuplicateSource) {
		t.Fatalf("got %v, want ErrDuplicateSource", err)
	}
}

func TestIndexDocument_RejectsMissingFile(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)
	ctx := context.Background()

	c, err := m.Collection("k1")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}

	err = c.IndexDocument(ctx, filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, ingesterr.ErrFileNotFound) {
		t.Fatalf("got %v, want ErrFileNotFound", err)
	}
}

func TestIndexDocument_EmptyAfterChunkingIsRejected(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)
	m.chunkOpts = chunk.Options{MinChunk: 1000, MaxChunk: 2000}
	ctx := context.Background()

	c, err := m.Collection("k1")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}

	srcDir := t.TempDir()
	// Only delimiters and whitespace: no fragment survives splitting. A short
	// non-empty text would still come back as one chunk, however large
	// MinChunk is.
	path := writeTempFile(t, srcDir, "doc.txt", ",. ,\n")

	err = c.IndexDocument(ctx, path)
	if !errors.Is(err, ingesterr.ErrEmptyAfterChunking) {
		t.Fatalf("got %v, want ErrEmptyAfterChunking", err)
	}
}

func TestIndexDocument_DumpThresholdCrossingPersists(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 2)
	ctx := context.Background()

	c, err := m.Collection("k1")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}

	srcDir := t.TempDir()
	path := writeTempFile(t, srcDir, "doc.txt", "one, two, three, four, five")

	if err := c.IndexDocument(ctx, path); err != nil {
		t.Fatalf("index_document: %v", err)
	}

	if c.index.Len() != 0 {
		t.Fatalf("expected mem shard to be dumped, len = %d", c.index.Len())
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		t.Fatalf("read collection dir: %v", err)
	}
	var sawShard bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".faiss" {
			sawShard = true
		}
	}
	if !sawShard {
		t.Fatal("expected at least one .faiss shard file after dump")
	}
}

func TestIndexDocumentCopy_CopiesReadOnly(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)
	ctx := context.Background()

	c, err := m.Collection("k1")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}

	srcDir := t.TempDir()
	path := writeTempFile(t, srcDir, "doc.txt", "hello, world. testing copy")

	if err := c.IndexDocumentCopy(ctx, path); err != nil {
		t.Fatalf("index_document_copy: %v", err)
	}

	copied := filepath.Join(c.docsDir, "doc.txt")
	info, err := os.Stat(copied)
	if err != nil {
		t.Fatalf("stat copied doc: %v", err)
	}
	if info.Mode().Perm() != 0o444 {
		t.Fatalf("copied doc mode = %v, want 0444", info.Mode().Perm())
	}

	sources, err := c.ListSources(ctx)
	if err != nil {
		t.Fatalf("list_sources: %v", err)
	}
	if len(sources) != 1 || sources[0] != copied {
		t.Fatalf("list_sources = %v, want [%s]", sources, copied)
	}
}

func TestDelete_RemovesFromCacheAndDisk(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 1)
	ctx := context.Background()

	c, err := m.Collection("k1")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}

	srcDir := t.TempDir()
	path := writeTempFile(t, srcDir, "doc.txt", "one, two, three")

	if err := c.IndexDocument(ctx, path); err != nil {
		t.Fatalf("index_document: %v", err)
	}

	if err := c.Delete(ctx, []string{path}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	sources, err := c.ListSources(ctx)
	if err != nil {
		t.Fatalf("list_sources: %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("expected no sources after delete, got %v", sources)
	}
}

func TestUpdate_ReindexesPath(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)
	ctx := context.Background()

	c, err := m.Collection("k1")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}

	srcDir := t.TempDir()
	path := writeTempFile(t, srcDir, "doc.txt", "one, two, three")

	if err := c.IndexDocument(ctx, path); err != nil {
		t.Fatalf("index_document: %v", err)
	}

	if err := os.WriteFile(path, []byte("four, five, six"), 0o644); err != nil {
		t.Fatalf("rewrite doc: %v", err)
	}

	if err := c.Update(ctx, []string{path}); err != nil {
		t.Fatalf("update: %v", err)
	}

	sources, err := c.ListSources(ctx)
	if err != nil {
		t.Fatalf("list_sources: %v", err)
	}
	if len(sources) != 1 || sources[0] != path {
		t.Fatalf("list_sources after update = %v, want [%s]", sources, path)
	}
}

func TestUpdate_RestoresOnReindexFailure(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)
	ctx := context.Background()

	c, err := m.Collection("k1")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}

	srcDir := t.TempDir()
	path := writeTempFile(t, srcDir, "doc.txt", "one, two, three")

	if err := c.IndexDocument(ctx, path); err != nil {
		t.Fatalf("index_document: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove doc: %v", err)
	}

	err = c.Update(ctx, []string{path})
	if !errors.Is(err, ingesterr.ErrFileNotFound) {
		t.Fatalf("got %v, want ErrFileNotFound", err)
	}

	sources, err := c.ListSources(ctx)
	if err != nil {
		t.Fatalf("list_sources: %v", err)
	}
	if len(sources) != 1 || sources[0] != path {
		t.Fatalf("expected restored source after failed update, got %v", sources)
	}
}
