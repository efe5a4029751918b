package entry

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		entry DirEntry
	}{
		{
			name: "full entry",
			entry: DirEntry{
				Path:        "/home/user/projects",
				Name:        "projects",
				Modified:    time.Unix(1724580000, 123456789),
				ContentHash: ContentHash([]string{"alpha", "beta"}),
				Children:    []string{"alpha", "beta"},
				IsDir:       true,
			},
		},
		{
			name: "hidden symlink",
			entry: DirEntry{
				Path:          "/home/user/.link",
				Name:          ".link",
				Modified:      time.Unix(1700000000, 0),
				ContentHash:   1,
				Children:      []string{},
				SymlinkTarget: "/var/data",
				IsHidden:      true,
			},
		},
		{
			name: "no children",
			entry: DirEntry{
				Path:        "/empty",
				Name:        "empty",
				Modified:    time.Unix(0, 0),
				ContentHash: ContentHash(nil),
				Children:    []string{},
				IsDir:       true,
			},
		},
		{
			name: "unicode names",
			entry: DirEntry{
				Path:        "/données/été",
				Name:        "été",
				Modified:    time.Unix(1724580000, 0),
				ContentHash: ContentHash([]string{"café", "日本語"}),
				Children:    []string{"café", "日本語"},
				IsDir:       true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Encode(&tt.entry)
			got, err := Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.entry.Path, got.Path)
			assert.Equal(t, tt.entry.Name, got.Name)
			assert.True(t, tt.entry.Modified.Equal(got.Modified))
			assert.Equal(t, tt.entry.ContentHash, got.ContentHash)
			assert.Equal(t, tt.entry.Children, got.Children)
			assert.Equal(t, tt.entry.SymlinkTarget, got.SymlinkTarget)
			assert.Equal(t, tt.entry.IsHidden, got.IsHidden)
			assert.Equal(t, tt.entry.IsDir, got.IsDir)
		})
	}
}

func TestDecodeCanonicalizesChildren(t *testing.T) {
	// Nil and empty child slices share one wire form; both decode to a
	// non-nil empty slice, so round trips of childless entries compare
	// equal regardless of how the input was built.
	nilChildren := DirEntry{Path: "/p", Name: "p", Modified: time.Unix(1, 0), IsDir: true}
	got, err := Decode(Encode(&nilChildren))
	require.NoError(t, err)
	assert.NotNil(t, got.Children)
	assert.Empty(t, got.Children)

	empty := DirEntry{Path: "/p", Name: "p", Modified: time.Unix(1, 0), Children: []string{}, IsDir: true}
	got, err = Decode(Encode(&empty))
	require.NoError(t, err)
	assert.Equal(t, empty.Children, got.Children)
}

func TestDecodeTruncated(t *testing.T) {
	e := DirEntry{
		Path:        "/home/user",
		Name:        "user",
		Modified:    time.Now(),
		ContentHash: ContentHash([]string{"a", "b", "c"}),
		Children:    []string{"a", "b", "c"},
		IsDir:       true,
	}
	full := Encode(&e)

	// Every proper prefix must fail cleanly, never panic.
	for n := 0; n < len(full); n++ {
		_, err := Decode(full[:n])
		assert.ErrorIs(t, err, ErrCorruptRecord, "prefix of length %d", n)
	}
}

func TestDecodeAdversarialLengths(t *testing.T) {
	t.Run("huge string length", func(t *testing.T) {
		e := DirEntry{Path: "/p", Name: "p", IsDir: true}
		buf := Encode(&e)
		// Overwrite the path length prefix (after version, flags, modified, hash).
		binary.LittleEndian.PutUint32(buf[18:], 0xFFFFFFFF)
		_, err := Decode(buf)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})

	t.Run("huge child count", func(t *testing.T) {
		e := DirEntry{Path: "/p", Name: "p", IsDir: true}
		buf := Encode(&e)
		// The child count is the final 4 bytes of a childless record.
		binary.LittleEndian.PutUint32(buf[len(buf)-4:], 1<<30)
		_, err := Decode(buf)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})

	t.Run("unknown version", func(t *testing.T) {
		e := DirEntry{Path: "/p", Name: "p", IsDir: true}
		buf := Encode(&e)
		buf[0] = 99
		_, err := Decode(buf)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]string{"x", "y"})
	b := ContentHash([]string{"xy"})
	assert.NotEqual(t, a, b, "separator must keep concatenations distinct")
	assert.NotZero(t, ContentHash(nil), "zero is reserved for unknown")
	assert.Equal(t, a, ContentHash([]string{"x", "y"}))
}
