package column

import "unsafe"

// bytesToSlice reinterprets a byte slice as a []T without copying,
// matching the teacher's own use of unsafe.Slice in vm/bytecode.go to
// avoid per-element marshaling in hot paths. raw's length must be a
// multiple of sizeof(T); callers here always derive raw from
// chunk-aligned offsets so that holds by construction.
func bytesToSlice[T Numeric](raw []byte) []T {
	if len(raw) == 0 {
		return nil
	}
	var zero T
	width := sizeOf(zero)
	n := len(raw) / width
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), n)
}
