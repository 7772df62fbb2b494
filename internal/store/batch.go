package store

import (
	"context"

	"github.com/rotisserie/eris"
)

// DefaultMaxBatchSize sits under the transactional-write limits of typical
// document stores.
const DefaultMaxBatchSize = 400

// Batcher is the slice of Store that BatchWriter needs.
type Batcher interface {
	ApplyRecordOps(ctx context.Context, ops []RecordOp) error
}

// BatchWriter buffers ordered record ops and commits them in groups of at
// most maxBatchSize, one transaction per group. A failed commit surfaces to
// the caller; groups already committed stay committed, so callers rely on
// dedup and the replace pattern to make retries self-healing.
type BatchWriter struct {
	store Batcher
	max   int
	ops   []RecordOp
}

// NewBatchWriter creates a writer with the given ceiling. A non-positive
// ceiling falls back to DefaultMaxBatchSize.
func NewBatchWriter(s Batcher, maxBatchSize int) *BatchWriter {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &BatchWriter{store: s, max: maxBatchSize, ops: make([]RecordOp, 0, maxBatchSize)}
}

// Add buffers one op, committing the current group when it reaches the
// ceiling.
func (w *BatchWriter) Add(ctx context.Context, op RecordOp) error {
	w.ops = append(w.ops, op)
	if len(w.ops) >= w.max {
		return w.Flush(ctx)
	}
	return nil
}

// Flush commits any buffered ops. Safe to call with an empty buffer.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.ops) == 0 {
		return nil
	}
	ops := w.ops
	w.ops = w.ops[:0]
	if err := w.store.ApplyRecordOps(ctx, ops); err != nil {
		return eris.Wrap(err, "batch: commit")
	}
	return nil
}

// Pending returns the number of buffered, uncommitted ops.
func (w *BatchWriter) Pending() int {
	return len(w.ops)
}
