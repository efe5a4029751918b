package entry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrCorruptRecord is returned by Decode for truncated or malformed input.
// Every length prefix is validated against the remaining buffer before use,
// so adversarial prefixes can never cause an out-of-bounds read or a panic.
var ErrCorruptRecord = errors.New("corrupt directory record")

const (
	codecVersion = 1

	flagHidden  = 1 << 0
	flagDir     = 1 << 1
	flagSymlink = 1 << 2
)

// Encode serializes an entry to its little-endian binary block. The encoding
// is deterministic and total over valid entries.
func Encode(e *DirEntry) []byte {
	// version + flags + modified + hash + 3 string headers + child count
	size := 2 + 8 + 8 + 4 + len(e.Path) + 4 + len(e.Name) + 4
	if e.SymlinkTarget != "" {
		size += 4 + len(e.SymlinkTarget)
	}
	for _, c := range e.Children {
		size += 4 + len(c)
	}

	buf := make([]byte, 0, size)
	var flags byte
	if e.IsHidden {
		flags |= flagHidden
	}
	if e.IsDir {
		flags |= flagDir
	}
	if e.SymlinkTarget != "" {
		flags |= flagSymlink
	}

	buf = append(buf, codecVersion, flags)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Modified.UnixNano()))
	buf = binary.LittleEndian.AppendUint64(buf, e.ContentHash)
	buf = appendString(buf, e.Path)
	buf = appendString(buf, e.Name)
	if e.SymlinkTarget != "" {
		buf = appendString(buf, e.SymlinkTarget)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Children)))
	for _, c := range e.Children {
		buf = appendString(buf, c)
	}
	return buf
}

// Decode deserializes a binary block produced by Encode. It fails with
// ErrCorruptRecord on any truncated or malformed input.
func Decode(data []byte) (DirEntry, error) {
	var e DirEntry
	r := reader{buf: data}

	version, err := r.byte()
	if err != nil {
		return e, err
	}
	if version != codecVersion {
		return e, fmt.Errorf("%w: unsupported record version %d", ErrCorruptRecord, version)
	}

	flags, err := r.byte()
	if err != nil {
		return e, err
	}

	nanos, err := r.uint64()
	if err != nil {
		return e, err
	}
	e.Modified = time.Unix(0, int64(nanos))

	if e.ContentHash, err = r.uint64(); err != nil {
		return e, err
	}
	if e.Path, err = r.string(); err != nil {
		return e, err
	}
	if e.Name, err = r.string(); err != nil {
		return e, err
	}
	if flags&flagSymlink != 0 {
		if e.SymlinkTarget, err = r.string(); err != nil {
			return e, err
		}
	}

	count, err := r.uint32()
	if err != nil {
		return e, err
	}
	// Each child needs at least its 4-byte length prefix, so a count larger
	// than the remaining bytes over 4 cannot be valid. This bounds the
	// allocation below against adversarial counts.
	if int(count) > r.remaining()/4 {
		return e, fmt.Errorf("%w: child count %d exceeds remaining buffer", ErrCorruptRecord, count)
	}
	// The wire format cannot distinguish nil from empty, so decode
	// canonicalizes to a non-nil slice.
	e.Children = make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		c, err := r.string()
		if err != nil {
			return e, err
		}
		e.Children = append(e.Children, c)
	}

	e.IsHidden = flags&flagHidden != 0
	e.IsDir = flags&flagDir != 0
	return e, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// reader is a bounds-checked cursor over a record buffer.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrCorruptRecord
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrCorruptRecord
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrCorruptRecord
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) string() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if int(n) > r.remaining() {
		return "", fmt.Errorf("%w: string length %d exceeds remaining buffer", ErrCorruptRecord, n)
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}
