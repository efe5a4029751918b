// Package store persists scanned directory entries as an append-only data log
// plus a small JSON index, and serves reads through a memory-mapped view with
// a bounded hot window of decoded entries.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrOutOfRange is returned when a record offset or its length prefix does not
// fit inside the mapped data log.
var ErrOutOfRange = errors.New("record offset out of mapped range")

const recordHeaderSize = 4

// AppendLog is the append-only record log backing the cache. Records are
// stored as a u32 little-endian payload length followed by the payload.
// Reads go through a read-only memory map of the file; appends go to the end
// of the file and become visible to readers after Remap.
type AppendLog struct {
	path string

	mu   sync.RWMutex
	data []byte // mmap'd view, nil when the file is empty
}

// OpenAppendLog opens or creates the data log at path and maps it read-only.
func OpenAppendLog(path string) (*AppendLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open data log: %w", err)
	}
	f.Close()

	l := &AppendLog{path: path}
	if err := l.Remap(); err != nil {
		return nil, err
	}
	return l, nil
}

// Append writes one length-prefixed record to the end of the log and returns
// the offset of its length prefix. The record is not visible through ReadAt
// until the next Remap. Safe for concurrent use.
func (l *AppendLog) Append(payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open data log for append: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat data log: %w", err)
	}
	offset := uint64(info.Size())

	buf := make([]byte, recordHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[recordHeaderSize:], payload)

	if _, err := f.Write(buf); err != nil {
		return 0, fmt.Errorf("failed to append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync data log: %w", err)
	}
	return offset, nil
}

// ReadAt returns the payload of the record whose length prefix starts at
// offset. The returned slice aliases the memory map; callers must not retain
// it across Remap or Close, and must not write to it.
func (l *AppendLog) ReadAt(offset uint64) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := uint64(len(l.data))
	if offset+recordHeaderSize > size || offset+recordHeaderSize < offset {
		return nil, fmt.Errorf("%w: offset %d, mapped %d bytes", ErrOutOfRange, offset, size)
	}
	n := uint64(binary.LittleEndian.Uint32(l.data[offset:]))
	start := offset + recordHeaderSize
	if start+n > size || start+n < start {
		return nil, fmt.Errorf("%w: record at %d claims %d bytes past end", ErrOutOfRange, offset, n)
	}
	return l.data[start : start+n], nil
}

// Size returns the number of currently mapped bytes.
func (l *AppendLog) Size() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.data))
}

// Remap refreshes the read-only view so records appended since the last map
// become readable.
func (l *AppendLog) Remap() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.data != nil {
		if err := unmapFile(l.data); err != nil {
			return fmt.Errorf("failed to unmap data log: %w", err)
		}
		l.data = nil
	}

	data, err := mapFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to map data log: %w", err)
	}
	l.data = data
	return nil
}

// Close releases the memory map. The log must not be used afterwards.
func (l *AppendLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.data == nil {
		return nil
	}
	err := unmapFile(l.data)
	l.data = nil
	if err != nil {
		return fmt.Errorf("failed to unmap data log: %w", err)
	}
	return nil
}
