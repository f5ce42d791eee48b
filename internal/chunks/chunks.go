// Package chunks splits slices into bounded contiguous groups.
package chunks

// Split partitions items into contiguous groups of at most size elements.
// The last group may be smaller. A size below 1 is treated as 1.
func Split[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}

	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

// Count returns the number of groups Split would produce.
func Count(n, size int) int {
	if n <= 0 {
		return 0
	}
	if size < 1 {
		size = 1
	}
	return (n + size - 1) / size
}
