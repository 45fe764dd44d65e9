// Package chunk implements the time-partitioned chunk store.
//
// Samples are routed into fixed-width chunks keyed by their start time.
// Exactly one chunk per stream is ACTIVE at a time; elapsed chunks are
// SEALED, compressed to Parquet after an age threshold and finally expired
// by retention. Sealed chunks are never mutated in place: compression
// writes a new representation and atomically swaps it in.
package chunk

import (
	"sync"

	"github.com/velostore/velostore/internal/storage/types"
)

// rowKey identifies a sample inside a chunk for duplicate detection.
type rowKey struct {
	ts     int64
	series uint64
}

// chunk owns a contiguous [startMs, endMs) range of one stream's rows.
//
// The chunk mutex serializes structural transitions (seal, compress,
// expire) against appends. Readers copy the row slice under the read lock
// and release it before decoding or sorting.
type chunk[T types.Row[T]] struct {
	startMs int64 // inclusive
	endMs   int64 // exclusive

	mu          sync.RWMutex
	state       types.ChunkState
	rows        []T            // row representation (ACTIVE/SEALED)
	index       map[rowKey]int // position by key, nil once compressed
	count       int            // row count, survives compression
	path        string         // parquet file (COMPRESSED)
	quarantined bool
}

func newChunk[T types.Row[T]](startMs, endMs int64) *chunk[T] {
	return &chunk[T]{
		startMs: startMs,
		endMs:   endMs,
		state:   types.ChunkActive,
		index:   make(map[rowKey]int),
	}
}

// covers reports whether ts falls inside the chunk range.
func (c *chunk[T]) covers(ts int64) bool {
	return ts >= c.startMs && ts < c.endMs
}

// overlaps reports whether the chunk range intersects [fromMs, toMs).
func (c *chunk[T]) overlaps(fromMs, toMs int64) bool {
	return c.startMs < toMs && c.endMs > fromMs
}

// info returns a snapshot of the chunk metadata.
func (c *chunk[T]) info(stream types.Stream) types.ChunkInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return types.ChunkInfo{
		Stream:      stream,
		StartMs:     c.startMs,
		EndMs:       c.endMs,
		State:       c.state,
		Rows:        c.count,
		Quarantined: c.quarantined,
		Path:        c.path,
	}
}
