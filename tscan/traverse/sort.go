package traverse

import (
	"sort"

	"github.com/sourcegraph/conc"
)

// sortChildren sorts child names in place. Above the threshold the slice is
// split into chunks sorted concurrently and merged; below it a plain sort is
// cheaper than the goroutine overhead.
func sortChildren(names []string, threshold int) {
	if len(names) <= threshold || threshold <= 0 {
		sort.Strings(names)
		return
	}

	mid := len(names) / 2
	left := make([]string, mid)
	right := make([]string, len(names)-mid)
	copy(left, names[:mid])
	copy(right, names[mid:])

	var wg conc.WaitGroup
	wg.Go(func() { sort.Strings(left) })
	wg.Go(func() { sort.Strings(right) })
	wg.Wait()

	i, j := 0, 0
	for k := range names {
		switch {
		case i == len(left):
			names[k] = right[j]
			j++
		case j == len(right):
			names[k] = left[i]
			i++
		case left[i] <= right[j]:
			names[k] = left[i]
			i++
		default:
			names[k] = right[j]
			j++
		}
	}
}
