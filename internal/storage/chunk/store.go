package chunk

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	verrors "github.com/velostore/velostore/internal/errors"
	"github.com/velostore/velostore/internal/storage/types"
	"github.com/velostore/velostore/internal/storage/wal"
)

// chunkTimeLayout names compressed chunk files by their UTC start time.
const chunkTimeLayout = "2006-01-02T15-04-05Z"

const parquetExt = ".parquet"

// Codec persists a chunk's rows to a columnar file and back.
type Codec[T any] interface {
	WriteFile(path string, rows []T) error
	ReadFile(path string) ([]T, error)
}

// Options configures a Store.
type Options[T types.Row[T]] struct {
	Stream types.Stream
	Dir    string        // chunk directory, created if missing
	Width  time.Duration // chunk width, defaults per stream
	Codec  Codec[T]

	// WALDir enables write-ahead durability when non-empty. Appends are
	// framed into segments under this directory before the in-memory
	// chunk is mutated, and replayed on Open.
	WALDir  string
	WALOpts wal.Options

	Encode func([]T) []byte
	Decode func([]byte) ([]T, error)

	Now    func() time.Time
	Logger *slog.Logger
}

// Store holds all chunks for a single stream.
type Store[T types.Row[T]] struct {
	stream  types.Stream
	dir     string
	widthMs int64
	codec   Codec[T]
	encode  func([]T) []byte
	decode  func([]byte) ([]T, error)
	now     func() time.Time
	log     *slog.Logger

	wal *wal.Writer // nil when durability is disabled

	mu              sync.RWMutex
	chunks          map[int64]*chunk[T] // by startMs
	starts          []int64             // sorted chunk starts
	expiredBeforeMs int64               // everything below has been expired
	closed          bool

	latestMu sync.RWMutex
	latest   map[uint64]T // newest sample per series
}

// Open loads chunk state from disk: compressed Parquet files are
// registered by filename and the write-ahead log is replayed into
// in-memory chunks. Replay is idempotent, duplicates and samples already
// covered by a compressed chunk are skipped.
func Open[T types.Row[T]](opts Options[T]) (*Store[T], error) {
	if opts.Dir == "" {
		return nil, verrors.Wrap(verrors.ErrInvalidConfig, "chunk store requires a directory")
	}
	if opts.Codec == nil {
		return nil, verrors.Wrap(verrors.ErrInvalidConfig, "chunk store requires a codec")
	}
	if opts.Width <= 0 {
		opts.Width = opts.Stream.DefaultChunkWidth()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, verrors.NewStorage("create chunk dir", err)
	}

	s := &Store[T]{
		stream:  opts.Stream,
		dir:     opts.Dir,
		widthMs: opts.Width.Milliseconds(),
		codec:   opts.Codec,
		encode:  opts.Encode,
		decode:  opts.Decode,
		now:     opts.Now,
		log:     opts.Logger.With("stream", opts.Stream.String()),
		chunks:  make(map[int64]*chunk[T]),
		latest:  make(map[uint64]T),
	}

	if err := s.discoverCompressed(); err != nil {
		return nil, err
	}

	if opts.WALDir != "" {
		if err := s.replayWAL(opts.WALDir); err != nil {
			return nil, err
		}
		w, err := wal.NewWriter(opts.WALDir, opts.WALOpts)
		if err != nil {
			return nil, err
		}
		s.wal = w
	}

	return s, nil
}

// discoverCompressed registers Parquet files already present in the
// chunk directory. Files with unparseable names are left in place and
// logged rather than deleted.
func (s *Store[T]) discoverCompressed() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return verrors.NewStorage("read chunk dir", err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, parquetExt) {
			continue
		}
		start, err := time.Parse(chunkTimeLayout, strings.TrimSuffix(name, parquetExt))
		if err != nil {
			s.log.Warn("skipping unrecognized chunk file", "file", name, "error", err)
			continue
		}
		startMs := start.UnixMilli()
		c := newChunk[T](startMs, startMs+s.widthMs)
		c.state = types.ChunkCompressed
		c.path = filepath.Join(s.dir, name)
		if rows, err := s.codec.ReadFile(c.path); err != nil {
			s.log.Warn("quarantining unreadable chunk", "file", name, "error", err)
			c.quarantined = true
		} else {
			c.count = len(rows)
			s.absorbLatest(rows)
		}
		s.chunks[startMs] = c
		s.starts = append(s.starts, startMs)
	}
	sort.Slice(s.starts, func(i, j int) bool { return s.starts[i] < s.starts[j] })
	return nil
}

// replayWAL re-applies logged samples. Conflicting records are expected
// across restarts and silently skipped.
func (s *Store[T]) replayWAL(dir string) error {
	if s.decode == nil {
		return verrors.Wrap(verrors.ErrInvalidConfig, "wal replay requires a decode function")
	}

	var replayed, skipped int
	err := wal.ReplayDir(dir, func(payload []byte) error {
		rows, err := s.decode(payload)
		if err != nil {
			skipped++
			return nil
		}
		for _, v := range rows {
			if err := s.apply(v, false); err != nil {
				skipped++
				continue
			}
			replayed++
		}
		return nil
	})
	if err != nil {
		return verrors.NewStorage("wal replay", err)
	}
	if replayed > 0 || skipped > 0 {
		s.log.Info("wal replay complete", "replayed", replayed, "skipped", skipped)
	}
	return nil
}

// absorbLatest folds rows into the latest-per-series pointers.
func (s *Store[T]) absorbLatest(rows []T) {
	s.latestMu.Lock()
	defer s.latestMu.Unlock()
	for _, v := range rows {
		if cur, ok := s.latest[v.Series()]; !ok || v.Ts() > cur.Ts() {
			s.latest[v.Series()] = v
		}
	}
}

// Append routes a sample into its chunk, creating the chunk on first
// write. The sample is logged to the WAL before any in-memory mutation.
//
// Returns ErrOutOfOrder for samples older than the retention boundary or
// targeting an already compressed chunk, ErrDuplicateKey for a key
// collision with different values, and nil for an identical resubmission.
func (s *Store[T]) Append(v T) error {
	return s.apply(v, true)
}

func (s *Store[T]) apply(v T, durable bool) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return verrors.ErrClosed
	}
	if v.Ts() < s.expiredBeforeMs {
		s.mu.RUnlock()
		return verrors.Wrapf(verrors.ErrOutOfOrder, "sample at %d precedes retention boundary %d", v.Ts(), s.expiredBeforeMs)
	}
	startMs := s.alignDown(v.Ts())
	c := s.chunks[startMs]
	s.mu.RUnlock()

	if c == nil {
		c = s.getOrCreate(startMs)
		if c == nil {
			return verrors.ErrClosed
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quarantined {
		return verrors.Wrapf(verrors.ErrChunkQuarantined, "chunk %d", c.startMs)
	}
	switch c.state {
	case types.ChunkCompressed, types.ChunkExpired:
		return verrors.Wrapf(verrors.ErrOutOfOrder, "chunk %d is %s", c.startMs, c.state)
	}

	key := rowKey{ts: v.Ts(), series: v.Series()}
	if i, ok := c.index[key]; ok {
		if c.rows[i].Equals(v) {
			return nil
		}
		return verrors.Wrapf(verrors.ErrDuplicateKey, "series %d at %d", v.Series(), v.Ts())
	}

	if durable && s.wal != nil {
		if err := s.wal.Append(s.encode([]T{v})); err != nil {
			return verrors.NewStorage("wal append", err)
		}
	}

	c.index[key] = len(c.rows)
	c.rows = append(c.rows, v)
	c.count = len(c.rows)

	s.latestMu.Lock()
	if cur, ok := s.latest[v.Series()]; !ok || v.Ts() > cur.Ts() {
		s.latest[v.Series()] = v
	}
	s.latestMu.Unlock()

	return nil
}

// getOrCreate inserts a chunk for startMs under the store write lock.
func (s *Store[T]) getOrCreate(startMs int64) *chunk[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if c, ok := s.chunks[startMs]; ok {
		return c
	}
	c := newChunk[T](startMs, startMs+s.widthMs)
	s.chunks[startMs] = c
	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] >= startMs })
	s.starts = append(s.starts, 0)
	copy(s.starts[i+1:], s.starts[i:])
	s.starts[i] = startMs
	return c
}

// alignDown truncates a timestamp to its chunk start.
func (s *Store[T]) alignDown(ts int64) int64 {
	r := ts % s.widthMs
	if r < 0 {
		r += s.widthMs
	}
	return ts - r
}

// SealElapsed transitions every ACTIVE chunk whose range has fully
// passed to SEALED. Returns the number of chunks sealed.
func (s *Store[T]) SealElapsed() int {
	nowMs := s.now().UnixMilli()

	var sealed int
	for _, c := range s.snapshotChunks() {
		if c.endMs > nowMs {
			continue
		}
		c.mu.Lock()
		if c.state == types.ChunkActive && !c.quarantined {
			c.state = types.ChunkSealed
			sealed++
		}
		c.mu.Unlock()
	}
	if sealed > 0 {
		s.log.Debug("sealed elapsed chunks", "count", sealed)
	}
	return sealed
}

// Compressible returns the start times of sealed chunks whose range ended
// before the cutoff, oldest first.
func (s *Store[T]) Compressible(cutoff time.Time) []int64 {
	cutoffMs := cutoff.UnixMilli()

	var out []int64
	for _, c := range s.snapshotChunks() {
		if c.endMs > cutoffMs {
			continue
		}
		c.mu.RLock()
		ok := c.state == types.ChunkSealed && !c.quarantined
		c.mu.RUnlock()
		if ok {
			out = append(out, c.startMs)
		}
	}
	return out
}

// Compress rewrites a sealed chunk as a Parquet file sorted by series
// ascending and time descending, then atomically swaps the file in and
// releases the row representation. Compressing an already compressed
// chunk is a no-op.
func (s *Store[T]) Compress(startMs int64) error {
	s.mu.RLock()
	c := s.chunks[startMs]
	s.mu.RUnlock()
	if c == nil {
		return verrors.Wrapf(verrors.ErrNotFound, "chunk %d", startMs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quarantined {
		return verrors.Wrapf(verrors.ErrChunkQuarantined, "chunk %d", startMs)
	}
	switch c.state {
	case types.ChunkCompressed:
		return nil
	case types.ChunkActive:
		return verrors.Wrapf(verrors.ErrInvalidTransition, "chunk %d is still active", startMs)
	case types.ChunkExpired:
		return verrors.Wrapf(verrors.ErrInvalidTransition, "chunk %d is expired", startMs)
	}

	rows := make([]T, len(c.rows))
	copy(rows, c.rows)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Series() != rows[j].Series() {
			return rows[i].Series() < rows[j].Series()
		}
		return rows[i].Ts() > rows[j].Ts()
	})

	path := s.chunkPath(startMs)
	tmp := path + ".tmp"
	if err := s.codec.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return verrors.NewStorage("write chunk file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return verrors.NewStorage("swap chunk file", err)
	}

	c.state = types.ChunkCompressed
	c.path = path
	c.rows = nil
	c.index = nil

	s.log.Info("compressed chunk",
		"start", time.UnixMilli(startMs).UTC().Format(time.RFC3339),
		"rows", c.count)
	return nil
}

func (s *Store[T]) chunkPath(startMs int64) string {
	name := time.UnixMilli(startMs).UTC().Format(chunkTimeLayout) + parquetExt
	return filepath.Join(s.dir, name)
}

// ExpireBefore drops every chunk whose entire range precedes the cutoff
// and deletes its on-disk file. Chunks that straddle the cutoff are kept
// whole. Returns metadata for the expired chunks.
func (s *Store[T]) ExpireBefore(cutoff time.Time) []types.ChunkInfo {
	cutoffMs := cutoff.UnixMilli()

	var expired []types.ChunkInfo
	for _, c := range s.snapshotChunks() {
		if c.endMs > cutoffMs {
			continue
		}

		c.mu.Lock()
		if c.state == types.ChunkExpired {
			c.mu.Unlock()
			continue
		}
		if c.path != "" {
			if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
				s.log.Warn("failed to remove expired chunk file", "path", c.path, "error", err)
				c.mu.Unlock()
				continue
			}
		}
		c.state = types.ChunkExpired
		c.rows = nil
		c.index = nil
		info := types.ChunkInfo{
			Stream:      s.stream,
			StartMs:     c.startMs,
			EndMs:       c.endMs,
			State:       c.state,
			Rows:        c.count,
			Quarantined: c.quarantined,
		}
		c.mu.Unlock()

		s.mu.Lock()
		delete(s.chunks, c.startMs)
		for i, st := range s.starts {
			if st == c.startMs {
				s.starts = append(s.starts[:i], s.starts[i+1:]...)
				break
			}
		}
		if c.endMs > s.expiredBeforeMs {
			s.expiredBeforeMs = c.endMs
		}
		boundary := s.expiredBeforeMs
		s.mu.Unlock()

		s.pruneLatest(boundary)
		expired = append(expired, info)
	}
	return expired
}

// pruneLatest drops latest pointers that now precede the retention
// boundary so reads never surface expired data.
func (s *Store[T]) pruneLatest(boundaryMs int64) {
	s.latestMu.Lock()
	defer s.latestMu.Unlock()
	for series, v := range s.latest {
		if v.Ts() < boundaryMs {
			delete(s.latest, series)
		}
	}
}

// Latest returns the newest sample for a series in O(1).
func (s *Store[T]) Latest(series uint64) (T, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	v, ok := s.latest[series]
	return v, ok
}

// AllLatest returns a copy of the newest sample for every series.
func (s *Store[T]) AllLatest() map[uint64]T {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	out := make(map[uint64]T, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}

// HasSeries reports whether any retained sample exists for the series.
func (s *Store[T]) HasSeries(series uint64) bool {
	_, ok := s.Latest(series)
	return ok
}

// EarliestRetainedMs returns the lower timestamp bound of retained data.
func (s *Store[T]) EarliestRetainedMs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiredBeforeMs
}

// snapshotChunks copies the chunk list in start order under the read lock.
func (s *Store[T]) snapshotChunks() []*chunk[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*chunk[T], 0, len(s.starts))
	for _, st := range s.starts {
		out = append(out, s.chunks[st])
	}
	return out
}

// Chunks returns metadata for every live chunk, oldest first.
func (s *Store[T]) Chunks() []types.ChunkInfo {
	chunks := s.snapshotChunks()
	out := make([]types.ChunkInfo, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.info(s.stream))
	}
	return out
}

// Stream returns the stream this store holds.
func (s *Store[T]) Stream() types.Stream { return s.stream }

// Width returns the chunk width.
func (s *Store[T]) Width() time.Duration {
	return time.Duration(s.widthMs) * time.Millisecond
}

// PruneWAL removes WAL segments whose contents are fully covered by
// compressed chunks older than the cutoff.
func (s *Store[T]) PruneWAL(cutoff time.Time) (int, error) {
	if s.wal == nil {
		return 0, nil
	}
	n, err := s.wal.PruneBefore(cutoff)
	if err != nil {
		return n, verrors.NewStorage("wal prune", err)
	}
	return n, nil
}

// Stats summarizes store state for observability.
type Stats struct {
	Stream     string `json:"stream"`
	Chunks     int    `json:"chunks"`
	Active     int    `json:"active"`
	Sealed     int    `json:"sealed"`
	Compressed int    `json:"compressed"`
	Quarantine int    `json:"quarantined"`
	Rows       int    `json:"rows"`
	Series     int    `json:"series"`
}

func (s *Store[T]) Stats() Stats {
	st := Stats{Stream: s.stream.String()}
	for _, info := range s.Chunks() {
		st.Chunks++
		st.Rows += info.Rows
		if info.Quarantined {
			st.Quarantine++
		}
		switch info.State {
		case types.ChunkActive:
			st.Active++
		case types.ChunkSealed:
			st.Sealed++
		case types.ChunkCompressed:
			st.Compressed++
		}
	}
	s.latestMu.RLock()
	st.Series = len(s.latest)
	s.latestMu.RUnlock()
	return st
}

// Close flushes and closes the WAL and rejects further appends.
func (s *Store[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.wal != nil {
		if err := s.wal.Close(); err != nil {
			return fmt.Errorf("close wal: %w", err)
		}
	}
	return nil
}
