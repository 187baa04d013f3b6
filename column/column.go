package column

import (
	"sync"
	"unsafe"
)

// cacheLineSize is used to pad allocations so buffers start on a
// cache-line boundary and span whole cache lines, per spec.md §3
// ("contiguous, cache-line-aligned buffer").
const cacheLineSize = 64

// Column is a typed array with a progress cursor that allows readers
// to consume data concurrently with a single producer. See spec.md
// §3/§4.1/§4.6 for the full invariant set.
//
// A Column is created empty (via New) and then either:
//   - Allocate()'d with a known element count and filled via
//     AppendChunk + AdvanceEndPointer, or
//   - SetDataPtr()'d with an already-complete buffer (is_complete=true
//     at construction, so CurrentEnd == End immediately).
//
// Exactly one goroutine (the "producer") may call AppendChunk /
// AdvanceEndPointer / SetDataPtr / Allocate; any number of goroutines
// may read concurrently via View.
type Column struct {
	Name     string
	Type     DataType
	elements int

	// NUMA placement: Bound indicates the buffer is pinned to Node;
	// otherwise the column is unbound (may be placed anywhere).
	Node  int
	Bound bool

	mu   sync.Mutex
	cond *sync.Cond

	buf        []byte
	allocated  bool
	base       int // always 0 in this implementation; kept for naming parity with spec.md
	currentEnd int // bytes
	end        int // bytes (== len(buf) once sized)
	complete   bool

	// dict is non-nil only for StringEncoded columns.
	dict *Dictionary

	refcount int
}

// New creates an empty Column of the given name/type. It is not usable
// for reads or writes until Allocate or SetDataPtr is called.
func New(name string, t DataType) *Column {
	c := &Column{Name: name, Type: t, refcount: 1}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// NewUnbound is an alias of New kept for readability at call sites
// that care about NUMA semantics; placement is configured via Pin.
func NewUnbound(name string, t DataType) *Column { return New(name, t) }

// Pin marks the column as NUMA-bound to node.
func (c *Column) Pin(node int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Node = node
	c.Bound = true
}

// Elements returns the number of logical elements the column was
// allocated for (0 if not yet allocated).
func (c *Column) Elements() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elements
}

// SizeBytes returns the total backing buffer size in bytes.
func (c *Column) SizeBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.end
}

// Allocated reports whether Allocate or SetDataPtr has already been
// called, i.e. whether the backing buffer exists. Callers that may be
// handed an already-registered-but-not-yet-sized placeholder column
// (the grouper's pre-staged transfer destinations, cu.FrontEnd) use
// this to decide whether they still need to size it.
func (c *Column) Allocated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocated
}

// Allocate reserves a backing buffer sized for elementCount elements
// of Type. Calling Allocate a second time is a no-op (spec.md §4.1
// failure mode); the caller can detect this via the returned error,
// which is purely informational (ErrAlreadyAllocated).
func (c *Column) Allocate(elementCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allocated {
		return ErrAlreadyAllocated
	}
	width := c.Type.Size()
	if c.Type == Bitmask {
		width = 1 // packed bits, allocate by byte count below via elementCount as bits
	}
	var sizeBytes int
	if c.Type == Bitmask {
		sizeBytes = (elementCount + 7) / 8
	} else {
		sizeBytes = elementCount * width
	}
	// round the size up to whole cache lines and start the buffer on a
	// cache-line boundary inside a slightly larger allocation (the Go
	// heap does not move objects, so the alignment holds for the
	// buffer's lifetime).
	padded := ((sizeBytes + cacheLineSize - 1) / cacheLineSize) * cacheLineSize
	if padded == 0 {
		padded = cacheLineSize
	}
	raw := make([]byte, padded+cacheLineSize)
	off := int(-uintptr(unsafe.Pointer(&raw[0])) & (cacheLineSize - 1))
	c.buf = raw[off : off+padded : off+padded]
	c.elements = elementCount
	c.end = sizeBytes
	c.allocated = true
	c.currentEnd = 0
	c.complete = false
	return nil
}

// SetDataPtr installs an already-complete buffer (is_complete=true):
// CurrentEnd is set equal to End immediately and waiters are woken.
// This models the producer that computes its entire output eagerly
// rather than streaming it chunk by chunk.
func (c *Column) SetDataPtr(data []byte, elements int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = data
	c.elements = elements
	c.end = len(data)
	c.currentEnd = len(data)
	c.allocated = true
	c.complete = true
	c.cond.Broadcast()
}

// AppendChunk copies src into the backing buffer at byte offset
// `offset` and advances the readable watermark by len(src). This is a
// convenience that combines "write the bytes" with AdvanceEndPointer;
// operators that already write directly into Bytes() may instead call
// AdvanceEndPointer on its own.
func (c *Column) AppendChunk(offset int, src []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := copy(c.buf[offset:], src)
	_ = n
	c.advanceLocked(offset + len(src))
}

// AdvanceEndPointer advances the readable watermark to newEnd (an
// absolute byte offset, matching the C++ "advance_end_pointer(n)"
// naming where n is specified as the new cumulative end in the source
// system; see spec.md §4.1/§4.6). Readers blocked on View.Begin are
// woken. Calling with newEnd > End is a programmer error and is
// clamped rather than panicking, since the spec only guarantees
// "never observed"; a producer that over-advances has its own bug.
func (c *Column) AdvanceEndPointer(newEnd int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked(newEnd)
}

func (c *Column) advanceLocked(newEnd int) {
	if newEnd > c.end {
		newEnd = c.end
	}
	if newEnd < c.currentEnd {
		// progress monotonicity invariant (spec.md §8 invariant 1):
		// never move backward.
		return
	}
	c.currentEnd = newEnd
	if c.currentEnd >= c.end {
		c.complete = true
	}
	c.cond.Broadcast()
}

// MarkComplete finalizes the column at whatever CurrentEnd currently
// is, used by producers that know they've written everything but
// whose final AdvanceEndPointer call already reached End (this is a
// convenience no-op in that case, and a safety net otherwise).
func (c *Column) MarkComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.complete = true
	c.currentEnd = c.end
	c.cond.Broadcast()
}

// WaitDataAllocated blocks until Allocate or SetDataPtr has been
// called, i.e. until the backing buffer exists at all. This is
// distinct from waiting for a particular watermark (that's View's
// job): it only guarantees Bytes()/SizeBytes() are meaningful.
func (c *Column) WaitDataAllocated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.allocated {
		c.cond.Wait()
	}
}

// WaitComplete blocks until the producer has finished writing the
// column (spec.md §4.1's terminal watermark state), regardless of
// element type — byte-oriented consumers such as the grouper's
// DataTransfer operator use this instead of View, which requires
// picking a concrete element type up front.
func (c *Column) WaitComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.allocated {
		c.cond.Wait()
	}
	for !c.complete {
		c.cond.Wait()
	}
}

// waitWatermark blocks until currentEnd >= need or the column is
// complete, whichever comes first, then returns the current
// (end, complete) snapshot. Must be called without c.mu held.
func (c *Column) waitWatermark(need int) (currentEnd int, complete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.allocated {
		c.cond.Wait()
	}
	for c.currentEnd < need && !c.complete {
		c.cond.Wait()
	}
	return c.currentEnd, c.complete
}

// Bytes returns the full backing slice (cap == allocated size). Readers
// must only treat [0:CurrentEnd()) as valid; see View for the safe
// chunked-read API.
func (c *Column) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf
}

// CurrentEnd returns the current readable watermark in bytes.
func (c *Column) CurrentEnd() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentEnd
}

// IsComplete reports whether the producer has finished writing.
func (c *Column) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete
}

// Dictionary returns the column's string dictionary, or nil if this
// is not a StringEncoded column or none has been attached yet.
func (c *Column) Dictionary() *Dictionary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dict
}

// SetDictionary attaches a (possibly shared) dictionary to this
// column. Shared ownership is modeled by Go's garbage collector plus
// Dictionary's own ref count, matching spec.md §3's "owned by
// (possibly many) columns via shared ownership".
func (c *Column) SetDictionary(d *Dictionary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dict != nil {
		c.dict.unref()
	}
	c.dict = d
	if d != nil {
		d.ref()
	}
}

// Ref increments the column's reference count. Operators that hold a
// read-capability handle into the catalog call this; it lets the
// catalog reason about "is anyone still reading this" independent of
// Go's own GC (useful once a column's backing store may live off the
// Go heap, e.g. an mmap'd CXL region — see DESIGN.md).
func (c *Column) Ref() {
	c.mu.Lock()
	c.refcount++
	c.mu.Unlock()
}

// Unref decrements the reference count and reports whether this was
// the last reference.
func (c *Column) Unref() (last bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refcount--
	if c.refcount < 0 {
		c.refcount = 0
	}
	if c.refcount == 0 {
		if c.dict != nil {
			c.dict.unref()
		}
		return true
	}
	return false
}
