package store

import (
	"context"
	"testing"
)

// openTestStore opens an in-memory Store for use in tests.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_InsertManyThenFetchRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rows := []Row{
		{ID: 0, Source: "/docs/a.txt", Content: "alpha"},
		{ID: 1, Source: "/docs/a.txt", Content: "beta"},
		{ID: 2, Source: "/docs/b.txt", Content: "gamma"},
	}
	if err := s.InsertMany(ctx, rows); err != nil {
		t.Fatalf("insert_many: %v", err)
	}
	ids := []int64{0, 1, 2}
	if err := s.InsertSegments(ctx, ids, "flat_0.faiss"); err != nil {
		t.Fatalf("insert_segments: %v", err)
	}

	for _, want := range rows {
		got, ok, err := s.Fetch(ctx, want.ID)
		if err != nil {
			t.Fatalf("fetch id=%d: %v", want.ID, err)
		}
		if !ok {
			t.Fatalf("fetch id=%d: not found", want.ID)
		}
		if got != want {
			t.Errorf("fetch id=%d: got %+v, want %+v", want.ID, got, want)
		}
	}
}

func Test_Store_InsertManyIsAtomic(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, nil); err != nil {
		t.Fatalf("insert_many(nil) should be a no-op, got %v", err)
	}

	sources, err := s.ListSources(ctx)
	if err != nil {
		t.Fatalf("list_sources: %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("expected no sources after empty insert, got %v", sources)
	}
}

func Test_Store_IsDuplicate(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	dup, err := s.IsDuplicate(ctx, "/docs/a.txt")
	if err != nil {
		t.Fatalf("is_duplicate: %v", err)
	}
	if dup {
		t.Fatal("expected no duplicate before insert")
	}

	if err := s.InsertMany(ctx, []Row{{ID: 0, Source: "/docs/a.txt", Content: "alpha"}}); err != nil {
		t.Fatalf("insert_many: %v", err)
	}
	if err := s.InsertSegments(ctx, []int64{0}, "flat_0.faiss"); err != nil {
		t.Fatalf("insert_segments: %v", err)
	}

	dup, err = s.IsDuplicate(ctx, "/docs/a.txt")
	if err != nil {
		t.Fatalf("is_duplicate: %v", err)
	}
	if !dup {
		t.Fatal("expected duplicate after insert")
	}
}

func Test_Store_IsDuplicateIgnoresTombstoned(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, []Row{{ID: 0, Source: "/docs/a.txt", Content: "alpha"}}); err != nil {
		t.Fatalf("insert_many: %v", err)
	}
	if err := s.InsertSegments(ctx, []int64{0}, "flat_0.faiss"); err != nil {
		t.Fatalf("insert_segments: %v", err)
	}
	if err := s.Tombstone(ctx, []int64{0}); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	dup, err := s.IsDuplicate(ctx, "/docs/a.txt")
	if err != nil {
		t.Fatalf("is_duplicate: %v", err)
	}
	if dup {
		t.Fatal("tombstoned source should not count as a duplicate")
	}
}

func Test_Store_IDsForSourceAndRestore(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, []Row{
		{ID: 0, Source: "/docs/a.txt", Content: "alpha"},
		{ID: 1, Source: "/docs/a.txt", Content: "beta"},
		{ID: 2, Source: "/docs/b.txt", Content: "gamma"},
	}); err != nil {
		t.Fatalf("insert_many: %v", err)
	}
	if err := s.InsertSegments(ctx, []int64{0, 1, 2}, "flat_0.faiss"); err != nil {
		t.Fatalf("insert_segments: %v", err)
	}

	ids, err := s.IDsForSource(ctx, "/docs/a.txt")
	if err != nil {
		t.Fatalf("ids_for_source: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids_for_source: got %v, want 2 ids", ids)
	}

	if err := s.Tombstone(ctx, ids); err != nil {
		t.Fatalf("tombstone: %v", err)
	}
	if ids2, err := s.IDsForSource(ctx, "/docs/a.txt"); err != nil || len(ids2) != 0 {
		t.Fatalf("ids_for_source after tombstone: got %v, err %v", ids2, err)
	}

	if err := s.Restore(ctx, ids); err != nil {
		t.Fatalf("restore: %v", err)
	}
	ids3, err := s.IDsForSource(ctx, "/docs/a.txt")
	if err != nil {
		t.Fatalf("ids_for_source after restore: %v", err)
	}
	if len(ids3) != 2 {
		t.Fatalf("ids_for_source after restore: got %v, want 2", ids3)
	}
}

func Test_Store_MaxID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	max, err := s.MaxID(ctx)
	if err != nil {
		t.Fatalf("max_id: %v", err)
	}
	if max != -1 {
		t.Fatalf("max_id on empty store: got %d, want -1", max)
	}

	if err := s.InsertMany(ctx, []Row{
		{ID: 0, Source: "/docs/a.txt", Content: "alpha"},
		{ID: 5, Source: "/docs/a.txt", Content: "beta"},
	}); err != nil {
		t.Fatalf("insert_many: %v", err)
	}

	max, err = s.MaxID(ctx)
	if err != nil {
		t.Fatalf("max_id: %v", err)
	}
	if max != 5 {
		t.Fatalf("max_id: got %d, want 5", max)
	}
}

func Test_Store_ListSourcesIsDistinctAndLiveOnly(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, []Row{
		{ID: 0, Source: "/docs/a.txt", Content: "alpha"},
		{ID: 1, Source: "/docs/a.txt", Content: "beta"},
		{ID: 2, Source: "/docs/b.txt", Content: "gamma"},
	}); err != nil {
		t.Fatalf("insert_many: %v", err)
	}
	if err := s.InsertSegments(ctx, []int64{0, 1, 2}, "flat_0.faiss"); err != nil {
		t.Fatalf("insert_segments: %v", err)
	}

	sources, err := s.ListSources(ctx)
	if err != nil {
		t.Fatalf("list_sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("list_sources: got %v, want 2 distinct sources", sources)
	}

	if err := s.Tombstone(ctx, []int64{0, 1}); err != nil {
		t.Fatalf("tombstone: %v", err)
	}
	sources, err = s.ListSources(ctx)
	if err != nil {
		t.Fatalf("list_sources after tombstone: %v", err)
	}
	if len(sources) != 1 || sources[0] != "/docs/b.txt" {
		t.Fatalf("list_sources after tombstone: got %v, want [/docs/b.txt]", sources)
	}
}

func Test_Store_TombstoneHidesFromFetch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, []Row{{ID: 0, Source: "/docs/a.txt", Content: "alpha"}}); err != nil {
		t.Fatalf("insert_many: %v", err)
	}
	if err := s.InsertSegments(ctx, []int64{0}, "flat_0.faiss"); err != nil {
		t.Fatalf("insert_segments: %v", err)
	}

	if err := s.Tombstone(ctx, []int64{0}); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	_, ok, err := s.Fetch(ctx, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ok {
		t.Fatal("expected tombstoned id to be invisible to fetch")
	}
}

func Test_Store_PurgeTombstonedRemovesRows(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, []Row{{ID: 0, Source: "/docs/a.txt", Content: "alpha"}}); err != nil {
		t.Fatalf("insert_many: %v", err)
	}
	if err := s.InsertSegments(ctx, []int64{0}, "flat_0.faiss"); err != nil {
		t.Fatalf("insert_segments: %v", err)
	}
	if err := s.Tombstone(ctx, []int64{0}); err != nil {
		t.Fatalf("tombstone: %v", err)
	}
	if err := s.PurgeTombstoned(ctx); err != nil {
		t.Fatalf("purge_tombstoned: %v", err)
	}

	file, live, err := s.SegmentFile(ctx, 0)
	if err != nil {
		t.Fatalf("segment_file: %v", err)
	}
	if live || file != "" {
		t.Fatalf("expected segment row to be purged, got file=%q live=%v", file, live)
	}
}

func Test_Store_SegmentFileTracksIndexFile(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, []Row{{ID: 0, Source: "/docs/a.txt", Content: "alpha"}}); err != nil {
		t.Fatalf("insert_many: %v", err)
	}
	if err := s.InsertSegments(ctx, []int64{0}, "flat_3.faiss"); err != nil {
		t.Fatalf("insert_segments: %v", err)
	}

	file, live, err := s.SegmentFile(ctx, 0)
	if err != nil {
		t.Fatalf("segment_file: %v", err)
	}
	if !live || file != "flat_3.faiss" {
		t.Fatalf("segment_file: got file=%q live=%v, want flat_3.faiss/true", file, live)
	}
}
