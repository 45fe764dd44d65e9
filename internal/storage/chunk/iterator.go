package chunk

import (
	"errors"
	"sort"

	"github.com/velostore/velostore/internal/storage/types"
)

// Iterator yields rows in (timestamp, series) ascending order across a
// snapshot of chunks. Chunks created after the scan started are not
// visited. Compressed chunks are decoded lazily, one chunk at a time.
type Iterator[T types.Row[T]] struct {
	store  *Store[T]
	chunks []*chunk[T]
	fromMs int64
	toMs   int64
	series *uint64

	buf  []T // rows of the current chunk, sorted and filtered
	pos  int
	next int // next chunk index
	cur  T
	errs []error
	done bool
}

// Scan returns an iterator over rows with timestamps in [from, to) in
// milliseconds. A non-nil series restricts the scan to that series.
// Quarantined or unreadable chunks are skipped; their errors surface via
// Err once iteration finishes.
func (s *Store[T]) Scan(fromMs, toMs int64, series *uint64) *Iterator[T] {
	var chunks []*chunk[T]
	for _, c := range s.snapshotChunks() {
		if c.overlaps(fromMs, toMs) {
			chunks = append(chunks, c)
		}
	}
	return &Iterator[T]{
		store:  s,
		chunks: chunks,
		fromMs: fromMs,
		toMs:   toMs,
		series: series,
	}
}

// Next advances to the next row. It returns false when the scan is
// exhausted.
func (it *Iterator[T]) Next() bool {
	if it.done {
		return false
	}
	for {
		if it.pos < len(it.buf) {
			it.cur = it.buf[it.pos]
			it.pos++
			return true
		}
		if it.next >= len(it.chunks) {
			it.done = true
			return false
		}
		it.loadChunk(it.chunks[it.next])
		it.next++
	}
}

// loadChunk snapshots one chunk's rows, reading the Parquet file for
// compressed chunks, then filters and sorts them into the buffer.
func (it *Iterator[T]) loadChunk(c *chunk[T]) {
	it.buf = it.buf[:0]
	it.pos = 0

	c.mu.RLock()
	if c.quarantined || c.state == types.ChunkExpired {
		c.mu.RUnlock()
		return
	}
	var rows []T
	if c.state == types.ChunkCompressed {
		path := c.path
		c.mu.RUnlock()
		var err error
		rows, err = it.store.codec.ReadFile(path)
		if err != nil {
			it.errs = append(it.errs, err)
			it.store.quarantine(c, err)
			return
		}
	} else {
		rows = make([]T, len(c.rows))
		copy(rows, c.rows)
		c.mu.RUnlock()
	}

	for _, v := range rows {
		if v.Ts() < it.fromMs || v.Ts() >= it.toMs {
			continue
		}
		if it.series != nil && v.Series() != *it.series {
			continue
		}
		it.buf = append(it.buf, v)
	}
	sort.Slice(it.buf, func(i, j int) bool {
		if it.buf[i].Ts() != it.buf[j].Ts() {
			return it.buf[i].Ts() < it.buf[j].Ts()
		}
		return it.buf[i].Series() < it.buf[j].Series()
	})
}

// Value returns the current row. Only valid after Next reported true.
func (it *Iterator[T]) Value() T { return it.cur }

// Err returns the errors from chunks the scan had to skip, joined.
func (it *Iterator[T]) Err() error {
	if len(it.errs) == 0 {
		return nil
	}
	return errors.Join(it.errs...)
}

// Close releases the iterator's buffer.
func (it *Iterator[T]) Close() {
	it.buf = nil
	it.chunks = nil
	it.done = true
}

// Collect drains the iterator into a slice.
func (it *Iterator[T]) Collect() ([]T, error) {
	defer it.Close()
	var out []T
	for it.Next() {
		out = append(out, it.Value())
	}
	return out, it.Err()
}

// quarantine marks a chunk unreadable so later scans and appends skip it.
func (s *Store[T]) quarantine(c *chunk[T], err error) {
	c.mu.Lock()
	already := c.quarantined
	c.quarantined = true
	c.mu.Unlock()
	if !already {
		s.log.Error("quarantined unreadable chunk", "start", c.startMs, "error", err)
	}
}
