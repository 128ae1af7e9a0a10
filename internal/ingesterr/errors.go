// Package ingesterr defines the sentinel errors shared across the indexing
// core, grouped by how a caller is expected to recover from them.
package ingesterr

import "errors"

// Recoverable per-item: logged, the item is skipped, the batch continues.
var (
	ErrDuplicateSource   = errors.New("ingest: duplicate source")
	ErrEmptyAfterChunking = errors.New("ingest: document produced no chunks")
	ErrUnparsableContent = errors.New("ingest: document content could not be parsed")
	ErrFileNotFound      = errors.New("ingest: file not found")
)

// Recoverable per-batch: the embed call fails, callers restore pre-call
// state, and the batch is abandoned.
var (
	ErrModelBatchMismatch = errors.New("embedclient: batch returned a different vector count than its input")
	ErrModelProtocolError = errors.New("embedclient: malformed response from embedding endpoint")
)

// Surface to caller: returned to the caller as an error; the caller decides
// whether to retry.
var (
	ErrModelUnavailable = errors.New("embedclient: embedding endpoint is unavailable")
	ErrDiskFull         = errors.New("vectorindex: disk full while writing shard")
	ErrDBLocked         = errors.New("store: database is locked")
	ErrCorruptIndexFile = errors.New("vectorindex: corrupt index file")
)

// Fatal: invariant violations. The current operation aborts and is logged;
// the core remains usable for other keys.
var (
	ErrDimensionMismatch     = errors.New("vectorindex: vector dimension mismatch")
	ErrVectorIDCountMismatch = errors.New("vectorindex: vector count does not match id count")
	ErrNotImplemented        = errors.New("vectorindex: index strategy not implemented")
	ErrCollectionTooLarge    = errors.New("vectorindex: collection size exceeds supported strategies")
	ErrEmptyVectorSet        = errors.New("vectorindex: cannot create an index from zero vectors")
)

// CopyFailed and ChmodFailed cover index_document_copy's file-staging step.
var (
	ErrCopyFailed  = errors.New("ingest: failed to copy document into collection docs directory")
	ErrChmodFailed = errors.New("ingest: failed to make copied document read-only")
)
