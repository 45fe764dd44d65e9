package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Reader reads records from a WAL segment file.
type Reader struct {
	path string
	file *os.File

	stats ReaderStats
}

// ReaderStats holds WAL reader statistics.
type ReaderStats struct {
	RecordsRead    int64
	BytesRead      int64
	CorruptRecords int64
}

// NewReader creates a new WAL reader for a segment file.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic: expected %x, got %x", uint64(walMagic), magic)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	return &Reader{
		path: path,
		file: f,
	}, nil
}

// ReadRecord reads the next record payload from the segment.
// Returns io.EOF when there are no more records.
func (r *Reader) ReadRecord() ([]byte, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		// A short header at the tail means a torn write at crash time.
		return nil, io.EOF
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length > 100*1024*1024 {
		return nil, fmt.Errorf("record too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		// Torn tail record: treat as end of segment.
		return nil, io.EOF
	}

	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		r.stats.CorruptRecords++
		return nil, fmt.Errorf("CRC mismatch: expected %x, got %x", expectedCRC, actualCRC)
	}

	r.stats.RecordsRead++
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	return payload, nil
}

// ReadAll reads all record payloads from the segment, skipping corrupt ones.
func (r *Reader) ReadAll() ([][]byte, error) {
	var records [][]byte

	for {
		payload, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.stats.CorruptRecords++
			continue
		}
		records = append(records, payload)
	}

	return records, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadSegment reads all record payloads from a segment file.
func ReadSegment(path string) ([][]byte, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

// ReplayDir reads every segment in dir in sequence order and invokes fn for
// each record payload. Unreadable segments are skipped so one corrupt file
// cannot block recovery of the rest.
func ReplayDir(dir string, fn func(payload []byte) error) error {
	segments, err := listSegments(dir)
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}

	for _, seg := range segments {
		records, err := ReadSegment(seg.path)
		if err != nil {
			continue
		}
		for _, rec := range records {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}

	return nil
}
