//go:build !unix

package store

import "os"

// mapFile on platforms without mmap support reads the file into memory. The
// view semantics are identical; only the zero-copy property is lost.
func mapFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func unmapFile(data []byte) error {
	return nil
}
