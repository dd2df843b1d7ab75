package coordinator

// Partition splits items into n contiguous chunks whose sizes differ by at
// most one, larger chunks first. It never returns more chunks than items and
// never returns an empty chunk.
func Partition[T any](items []T, n int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if n > len(items) {
		n = len(items)
	}
	q, r := len(items)/n, len(items)%n
	out := make([][]T, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := q
		if i < r {
			size++
		}
		out = append(out, items[start:start+size:start+size])
		start += size
	}
	return out
}
