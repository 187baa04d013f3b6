package column

import "fmt"

// Numeric is the set of element types View can address directly.
// StringEncoded columns are also read through View[uint64] (the
// dictionary codes); callers translate codes via Column.Dictionary().
type Numeric interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~float32 | ~float64
}

// View is a chunked cursor over a Column, matching spec.md §4.1's
// View<T>. A View must not outlive its Column.
type View[T Numeric] struct {
	col           *Column
	chunkElements int
	elemSize      int
	pos           int // element index of the start of the current chunk
}

// NewView creates a cursor over col with a nominal chunkElements-sized
// chunk. chunkElements must be > 0.
func NewView[T Numeric](col *Column, chunkElements int) (*View[T], error) {
	if chunkElements <= 0 {
		return nil, fmt.Errorf("column: view: chunkElements must be > 0")
	}
	var zero T
	elemSize := sizeOf(zero)
	return &View[T]{col: col, chunkElements: chunkElements, elemSize: elemSize}, nil
}

func sizeOf[T Numeric](_ T) int {
	var v T
	switch any(v).(type) {
	case int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32, float32:
		return 4
	default:
		return 8
	}
}

// totalElements returns the column's logical element count.
func (v *View[T]) totalElements() int {
	return v.col.Elements()
}

// Begin blocks until the current chunk's data is available (i.e.
// currentEnd has advanced past the chunk's end, or the column is
// complete), then returns the element index at which the chunk
// begins. Per spec.md §4.1: "must block until current_end >=
// begin+chunk_elements or current_end == end".
func (v *View[T]) Begin() int {
	need := (v.pos + v.chunkElements) * v.elemSize
	total := v.totalElements() * v.elemSize
	if need > total {
		need = total
	}
	v.col.waitWatermark(need)
	return v.pos
}

// End returns the end (exclusive) element index of the current chunk,
// clamped to the column's total element count.
func (v *View[T]) End() int {
	total := v.totalElements()
	end := v.pos + v.chunkElements
	if end > total {
		end = total
	}
	return end
}

// ChunkLen returns the number of valid elements in the current chunk:
// chunk_elements, or elements mod chunk_elements for a partial final
// chunk (chunk_elements when it divides the element count evenly).
func (v *View[T]) ChunkLen() int {
	return v.End() - v.pos
}

// IsLastChunk reports whether the current chunk is the final one.
func (v *View[T]) IsLastChunk() bool {
	return v.End() >= v.totalElements()
}

// Done reports whether the cursor has advanced past the last element.
func (v *View[T]) Done() bool {
	return v.pos >= v.totalElements()
}

// Advance moves the cursor forward by one chunk (post-advance `++`
// semantics in spec.md's C++ naming).
func (v *View[T]) Advance() {
	v.pos = v.End()
}

// AdvanceBy moves the cursor forward by i chunks (the `+= i` operator).
func (v *View[T]) AdvanceBy(i int) {
	for n := 0; n < i; n++ {
		v.Advance()
	}
}

// Chunk blocks until ready (as Begin does) and returns a []T slice
// over the current chunk's elements, decoded from the underlying
// byte buffer.
func (v *View[T]) Chunk() []T {
	v.Begin()
	start := v.pos * v.elemSize
	end := v.End() * v.elemSize
	raw := v.col.Bytes()[start:end]
	return bytesToSlice[T](raw)
}
