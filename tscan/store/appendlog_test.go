package store

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")
	log, err := OpenAppendLog(path)
	require.NoError(t, err)
	defer log.Close()

	payloads := [][]byte{
		[]byte("first record"),
		[]byte(""),
		[]byte("a much longer third record with more bytes in it"),
	}

	var offsets []uint64
	for _, p := range payloads {
		off, err := log.Append(p)
		require.NoError(t, err)
		offsets = append(offsets, off)
	}

	// Appended records are invisible until the view is refreshed.
	_, err = log.ReadAt(offsets[0])
	assert.ErrorIs(t, err, ErrOutOfRange)

	require.NoError(t, log.Remap())
	for i, p := range payloads {
		got, err := log.ReadAt(offsets[i])
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestAppendLogOffsetsAreContiguous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")
	log, err := OpenAppendLog(path)
	require.NoError(t, err)
	defer log.Close()

	off1, err := log.Append([]byte("abc"))
	require.NoError(t, err)
	off2, err := log.Append([]byte("de"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), off1)
	assert.Equal(t, uint64(recordHeaderSize+3), off2)
}

func TestAppendLogOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")
	log, err := OpenAppendLog(path)
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Append([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, log.Remap())

	tests := []struct {
		name   string
		offset uint64
	}{
		{"past end", 1000},
		{"header straddles end", log.Size() - 2},
		{"overflowing offset", ^uint64(0) - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := log.ReadAt(tt.offset)
			assert.ErrorIs(t, err, ErrOutOfRange)
		})
	}
}

func TestAppendLogTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")

	// Simulate a crash mid-append: a length prefix claiming more bytes than
	// the file holds.
	torn := make([]byte, recordHeaderSize+2)
	binary.LittleEndian.PutUint32(torn, 500)
	require.NoError(t, os.WriteFile(path, torn, 0o644))

	log, err := OpenAppendLog(path)
	require.NoError(t, err)
	defer log.Close()

	_, err = log.ReadAt(0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	// The log still accepts new records after the torn one.
	off, err := log.Append([]byte("recovered"))
	require.NoError(t, err)
	require.NoError(t, log.Remap())
	got, err := log.ReadAt(off)
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), got)
}

func TestAppendLogEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")
	log, err := OpenAppendLog(path)
	require.NoError(t, err)
	defer log.Close()

	assert.Equal(t, uint64(0), log.Size())
	_, err = log.ReadAt(0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
