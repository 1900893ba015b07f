// Package tensorutils provides helpers for slicing tensors
package tensorutils

// Slice selects a range along one tensor axis. Given a tensor T,
// T.Slice(..., S, ...) is equivalent to T[..., S.start:S.end:S.step, ...].
type Slice struct {
	start, end, step int
}

// NewSlice returns a Slice covering [start, end) with the given step
func NewSlice(start, end, step int) Slice {
	return Slice{start, end, step}
}

// Prefix returns a Slice covering the first end elements of an axis
func Prefix(end int) Slice {
	return Slice{0, end, 1}
}

// Start returns the starting index of the Slice
func (s Slice) Start() int {
	return s.start
}

// End returns the ending index of the Slice
func (s Slice) End() int {
	return s.end
}

// Step returns the step of the Slice
func (s Slice) Step() int {
	return s.step
}
