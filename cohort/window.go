package cohort

import "slices"

// Window holds the rows of one group, sorted. Prev and Next never look past
// the group's own rows, so neighbor lookups cannot leak across keys.
type Window[T any] struct {
	Key  string
	Rows []T
}

// Len returns the number of rows in the window.
func (w Window[T]) Len() int { return len(w.Rows) }

// Prev returns the row before i, or false at the start of the group.
func (w Window[T]) Prev(i int) (T, bool) {
	if i <= 0 || i > len(w.Rows) {
		var zero T
		return zero, false
	}
	return w.Rows[i-1], true
}

// Next returns the row after i, or false at the end of the group.
func (w Window[T]) Next(i int) (T, bool) {
	if i < 0 || i+1 >= len(w.Rows) {
		var zero T
		return zero, false
	}
	return w.Rows[i+1], true
}

// GroupBy partitions rows by key and stably sorts each group with cmp.
// Groups come back in order of each key's first appearance. Rows are copied;
// the input slice is not modified.
func GroupBy[T any](rows []T, key func(T) string, cmp func(a, b T) int) []Window[T] {
	index := make(map[string]int)
	var windows []Window[T]
	for _, r := range rows {
		k := key(r)
		i, ok := index[k]
		if !ok {
			i = len(windows)
			index[k] = i
			windows = append(windows, Window[T]{Key: k})
		}
		windows[i].Rows = append(windows[i].Rows, r)
	}
	if cmp != nil {
		for i := range windows {
			slices.SortStableFunc(windows[i].Rows, cmp)
		}
	}
	return windows
}

// flatten concatenates window rows back into one slice.
func flatten[T any](windows []Window[T]) []T {
	n := 0
	for _, w := range windows {
		n += len(w.Rows)
	}
	out := make([]T, 0, n)
	for _, w := range windows {
		out = append(out, w.Rows...)
	}
	return out
}
