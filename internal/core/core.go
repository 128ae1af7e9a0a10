// Package core is the composition root of the indexing engine: it wires
// the ingest pipeline and the query path behind a single facade, and runs
// the long-lived ingest worker goroutine that every mutating operation is
// funneled through.
//
// The upstream design used per-collection worker threads communicating by
// Qt signals and slots. The Go-idiomatic replacement is a single worker
// goroutine reading typed command structs off a buffered channel; "emit
// indexDump" becomes an ordinary method call made by that goroutine once
// the dump threshold check passes. The embedding client itself needs no
// dedicated worker — it is safe for concurrent use and owns no cross-call
// state, so ingest and query call it directly from whichever goroutine
// is already running.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/localdex/localdex/internal/chunk"
	"github.com/localdex/localdex/internal/embedclient"
	"github.com/localdex/localdex/internal/ingest"
	"github.com/localdex/localdex/internal/ingesterr"
	"github.com/localdex/localdex/internal/logging"
	"github.com/localdex/localdex/internal/metrics"
	"github.com/localdex/localdex/internal/query"
)

// commandKind identifies the mutating operation carried by a command.
type commandKind int

const (
	cmdCreateIndex commandKind = iota
	cmdUpdateIndex
	cmdDeleteIndex
)

// command is one unit of ingest-worker work. reply carries the single
// error result back to the caller; every field not required by kind is
// left zero.
type command struct {
	kind  commandKind
	key   string
	files []string
	copy  bool
	reply chan error
}

// Core is the facade over the indexing engine. Callers only ever see the
// six operations in the Core API surface; everything about workers,
// per-key locking, and shard files is internal.
type Core struct {
	manager  *ingest.Manager
	searcher *query.Searcher
	metrics  *metrics.Metrics

	work chan command
	done chan struct{}
}

// New constructs a Core rooted at dataRoot (typically
// "<app_data>/embedding"), embedding through embed, chunking with
// chunkOpts, dumping a key's memshard to disk once it holds at least
// dumpThreshold vectors, and treating systemKey as the collection whose
// searches bypass the in-memory cache. The ingest worker goroutine is
// started immediately and stopped by Close.
func New(dataRoot string, dumpThreshold int, embed *embedclient.Client, chunkOpts chunk.Options, systemKey string, reg metrics.Registerer) *Core {
	manager := ingest.NewManager(dataRoot, dumpThreshold, embed, chunkOpts)
	m := metrics.New(reg)
	manager.SetDumpHook(m.DumpsTotal.Inc)
	embed.SetBatchHook(func(d time.Duration) { m.EmbedBatchDuration.Observe(d.Seconds()) })

	c := &Core{
		manager:  manager,
		searcher: query.NewSearcher(manager, embed, systemKey),
		metrics:  m,
		work:     make(chan command, 64),
		done:     make(chan struct{}),
	}
	go c.runIngestWorker()
	return c
}

// Close stops the ingest worker and flushes every open collection's
// in-memory shard to disk, so no un-dumped vectors are lost across a
// process restart. Collections are not required to be empty for Close to
// succeed; a flush failure is returned but does not prevent the worker
// from stopping. Calling Close again after it has returned is a no-op.
func (c *Core) Close(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.work)
	<-c.done
	return c.manager.CloseAll(ctx)
}

// runIngestWorker drains commands off c.work until it is closed. This is
// the single goroutine every create/update/delete funnels through, which
// is what makes the per-key mutex discipline inside ingest sufficient:
// only one mutation is ever in flight system-wide, though searches and
// concurrent embedding calls are unaffected and continue to run on their
// caller's own goroutine.
func (c *Core) runIngestWorker() {
	defer close(c.done)
	for cmd := range c.work {
		cmd.reply <- c.dispatch(cmd)
	}
}

func (c *Core) dispatch(cmd command) error {
	ctx := context.Background()
	col, err := c.manager.Collection(cmd.key)
	if err != nil {
		return err
	}

	switch cmd.kind {
	case cmdCreateIndex:
		return c.createIndex(ctx, col, cmd.files, cmd.copy)
	case cmdUpdateIndex:
		return col.Update(ctx, cmd.files)
	case cmdDeleteIndex:
		return col.Delete(ctx, cmd.files)
	default:
		return fmt.Errorf("core: unknown command kind %d", cmd.kind)
	}
}

// createIndex indexes every file in files under col, logging and skipping
// per-item recoverable errors (duplicate source, empty after chunking,
// unparsable content, missing file) rather than aborting the whole batch,
// per the recovery grouping in ingesterr.
func (c *Core) createIndex(ctx context.Context, col *ingest.Collection, files []string, copyIntoDocs bool) error {
	log := logging.FromContext(ctx)

	for _, f := range files {
		var err error
		if copyIntoDocs {
			err = col.IndexDocumentCopy(ctx, f)
		} else {
			err = col.IndexDocument(ctx, f)
		}
		if err == nil {
			c.metrics.IngestSucceeded.Inc()
			continue
		}
		if isRecoverablePerItem(err) {
			c.metrics.IngestSkipped.Inc()
			log.Warn("core: skipping document", "path", f, "err", err)
			continue
		}
		c.metrics.IngestFailed.Inc()
		log.Error("core: aborting create_index", "path", f, "err", err)
		return err
	}
	return nil
}

func isRecoverablePerItem(err error) bool {
	for _, sentinel := range []error{
		ingesterr.ErrDuplicateSource,
		ingesterr.ErrEmptyAfterChunking,
		ingesterr.ErrUnparsableContent,
		ingesterr.ErrFileNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// send submits cmd to the ingest worker and blocks for its result, or
// returns ctx's error if it is cancelled first.
func (c *Core) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.work <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateIndex indexes files into collection key, leaving the source files
// in place. Duplicate, empty, unparsable, and missing files are skipped
// with a logged warning rather than failing the whole call.
func (c *Core) CreateIndex(ctx context.Context, key string, files []string) error {
	return c.send(ctx, command{kind: cmdCreateIndex, key: key, files: files})
}

// CreateIndexCopy is CreateIndex, but stages a read-only copy of each file
// under the collection's Docs directory instead of indexing it in place.
func (c *Core) CreateIndexCopy(ctx context.Context, key string, files []string) error {
	return c.send(ctx, command{kind: cmdCreateIndex, key: key, files: files, copy: true})
}

// UpdateIndex re-indexes files already present in collection key,
// replacing their prior chunks and vectors. If re-embedding a file fails,
// its old entries are restored and the call returns the failure.
func (c *Core) UpdateIndex(ctx context.Context, key string, files []string) error {
	return c.send(ctx, command{kind: cmdUpdateIndex, key: key, files: files})
}

// DeleteIndex removes files from collection key. Their ids stop being
// returned by search immediately, whether or not they had reached disk.
func (c *Core) DeleteIndex(ctx context.Context, key string, files []string) error {
	return c.send(ctx, command{kind: cmdDeleteIndex, key: key, files: files})
}

// VectorSearch embeds query, searches collection key's cache and disk
// shards, and returns the merged, JSON-ready response. Search runs
// outside the ingest worker: it never blocks behind a concurrent
// create/update/delete, and per spec's ordering guarantee, once a mutating
// call for key has returned to its caller, a subsequent search for the
// same key observes it.
func (c *Core) VectorSearch(ctx context.Context, key, queryText string, topK int) (query.Response, error) {
	start := c.metrics.StartQuery()
	defer start()
	return c.searcher.Search(ctx, key, queryText, topK)
}

// IndexExists reports whether collection key has ever been opened (has an
// on-disk directory and database), without mutating anything.
func (c *Core) IndexExists(key string) bool {
	return c.manager.Exists(key)
}

// ListSources returns every live source path indexed under key, whether
// currently cached in memory or already persisted to disk.
func (c *Core) ListSources(ctx context.Context, key string) ([]string, error) {
	col, err := c.manager.Collection(key)
	if err != nil {
		return nil, err
	}
	return col.ListSources(ctx)
}
