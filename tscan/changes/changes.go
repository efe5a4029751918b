// Package changes defines the optional change-feed capability a platform can
// provide to narrow rescans to directories that actually changed.
package changes

import "errors"

// ErrUnsupported is returned by sources on platforms without a change feed.
// Callers fall back to age-based freshness.
var ErrUnsupported = errors.New("change feed not supported on this platform")

// ChangeSource reports directories modified since an opaque cursor. The
// cursor is persisted in the cache index between runs; an empty cursor means
// "from the beginning of what the source can see".
type ChangeSource interface {
	// ChangedDirectories returns the directories changed since cursor and
	// the cursor to persist for the next call.
	ChangedDirectories(cursor string) (dirs []string, next string, err error)
	Close() error
}

// Unsupported is the ChangeSource for platforms without a change feed.
type Unsupported struct{}

func (Unsupported) ChangedDirectories(string) ([]string, string, error) {
	return nil, "", ErrUnsupported
}

func (Unsupported) Close() error { return nil }
