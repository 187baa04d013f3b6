package column

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/s2"
)

// Dictionary implements ColumnDictionaryEncoding from spec.md §3: a
// bidirectional string<->u64-code map shared by (possibly many)
// string_encoded columns, protected by a reader/writer lock, with a
// `ready` flag + condition variable that readers block on before
// translating codes from a dictionary that is still being filled in
// (e.g. one whose content is still streaming over the wire after a
// transfer).
type Dictionary struct {
	mu sync.RWMutex

	codeToStr map[uint64]string
	strToCode map[string]uint64
	next      uint64

	// sorted is a lazily-rebuilt sorted view of strToCode's keys, used
	// for range queries. dirty is set on every insert and cleared by
	// the next call that needs the sorted view.
	sorted []string
	dirty  bool

	initialized atomic.Bool // pointer/storage installed
	ready       atomic.Bool // content is final
	readyCond   *sync.Cond
	readyMu     sync.Mutex

	refcount int32
}

// NewDictionary creates an empty, not-yet-ready dictionary.
func NewDictionary() *Dictionary {
	d := &Dictionary{
		codeToStr: make(map[uint64]string),
		strToCode: make(map[string]uint64),
		refcount:  1,
	}
	d.readyCond = sync.NewCond(&d.readyMu)
	d.initialized.Store(true) // a freshly-constructed Dictionary has its maps installed
	return d
}

func (d *Dictionary) ref() {
	atomic.AddInt32(&d.refcount, 1)
}

func (d *Dictionary) unref() {
	atomic.AddInt32(&d.refcount, -1)
}

// Encode returns the code for s, inserting a new entry if s is not
// already present. This implements spec.md's "optimistic shared-lock
// lookup then writer-lock insert" protocol: the common case (string
// already known) only ever takes the read lock.
func (d *Dictionary) Encode(s string) uint64 {
	d.mu.RLock()
	if code, ok := d.strToCode[s]; ok {
		d.mu.RUnlock()
		return code
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	// re-check: another writer may have inserted it between our
	// RUnlock and Lock.
	if code, ok := d.strToCode[s]; ok {
		return code
	}
	code := d.next
	d.next++
	d.strToCode[s] = code
	d.codeToStr[code] = s
	d.dirty = true
	return code
}

// Lookup translates a code back to its string, reporting false if the
// code is unknown.
func (d *Dictionary) Lookup(code uint64) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.codeToStr[code]
	return s, ok
}

// Code returns the code already assigned to s without inserting,
// reporting false if s is unknown.
func (d *Dictionary) Code(s string) (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	code, ok := d.strToCode[s]
	return code, ok
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.strToCode)
}

// MarkReady signals that the dictionary's content is final; readers
// blocked in WaitReady wake up.
func (d *Dictionary) MarkReady() {
	d.ready.Store(true)
	d.readyMu.Lock()
	d.readyCond.Broadcast()
	d.readyMu.Unlock()
}

// IsReady reports whether MarkReady has been called.
func (d *Dictionary) IsReady() bool { return d.ready.Load() }

// IsInitialized reports whether the dictionary's backing storage has
// been installed (always true for dictionaries created via
// NewDictionary or DeserializeDictionary; false only for a zero-value
// Dictionary struct).
func (d *Dictionary) IsInitialized() bool { return d.initialized.Load() }

// WaitReady blocks until MarkReady has been called.
func (d *Dictionary) WaitReady() {
	if d.ready.Load() {
		return
	}
	d.readyMu.Lock()
	for !d.ready.Load() {
		d.readyCond.Wait()
	}
	d.readyMu.Unlock()
}

func (d *Dictionary) rebuildSorted() {
	if !d.dirty && d.sorted != nil {
		return
	}
	d.sorted = d.sorted[:0]
	for s := range d.strToCode {
		d.sorted = append(d.sorted, s)
	}
	sort.Strings(d.sorted)
	d.dirty = false
}

// Range returns every string s with lo <= s <= hi (inclusive), sorted.
func (d *Dictionary) Range(lo, hi string) []string {
	d.mu.Lock()
	d.rebuildSorted()
	sorted := d.sorted
	d.mu.Unlock()

	start := sort.SearchStrings(sorted, lo)
	out := make([]string, 0)
	for i := start; i < len(sorted); i++ {
		if sorted[i] > hi {
			break
		}
		out = append(out, sorted[i])
	}
	return out
}

// Like returns every string matching a SQL LIKE pattern using '%' as
// the only wildcard (spec.md §3: "multi-run" LIKE matching, i.e. a
// pattern may contain several '%' runs, e.g. "%foo%bar%").
func (d *Dictionary) Like(pattern string) []string {
	d.mu.RLock()
	candidates := make([]string, 0, len(d.strToCode))
	for s := range d.strToCode {
		candidates = append(candidates, s)
	}
	d.mu.RUnlock()

	out := make([]string, 0)
	for _, s := range candidates {
		if MatchLike(s, pattern) {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// MatchLike reports whether s matches a SQL LIKE pattern in which '%'
// matches any run of characters (including empty) and all other bytes
// must match literally. This is the multi-run matcher spec.md §3
// requires: a pattern may contain any number of '%' segments.
func MatchLike(s, pattern string) bool {
	segments := strings.Split(pattern, "%")
	anchoredStart := !strings.HasPrefix(pattern, "%")
	anchoredEnd := !strings.HasSuffix(pattern, "%")

	if len(segments) == 1 {
		// no '%' at all: exact literal match.
		return s == segments[0]
	}

	pos := 0
	last := len(segments) - 1
	for i, seg := range segments {
		switch {
		case i == 0 && anchoredStart:
			if !strings.HasPrefix(s[pos:], seg) {
				return false
			}
			pos += len(seg)
		case i == last && anchoredEnd:
			return strings.HasSuffix(s[pos:], seg)
		case seg == "":
			// an empty run between two '%' (or a leading/trailing
			// unanchored empty segment) matches trivially.
		default:
			idx := strings.Index(s[pos:], seg)
			if idx < 0 {
				return false
			}
			pos += idx + len(seg)
		}
	}
	return true
}

// serializeRaw writes a u64 entry count followed by one
// <code:u64, len:u64, bytes> record per entry (spec.md §3 layout).
func (d *Dictionary) serializeRaw(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(len(d.codeToStr)))
	if _, err := w.Write(hdr[0:8]); err != nil {
		return err
	}
	for code, s := range d.codeToStr {
		binary.LittleEndian.PutUint64(hdr[0:8], code)
		binary.LittleEndian.PutUint64(hdr[8:16], uint64(len(s)))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// Serialize encodes the dictionary in the byte-accurate wire format
// (u64 count, then <code,len,bytes> per entry) and compresses it with s2 (a
// snappy-compatible, streaming-friendly codec) so it is cheap to ship
// as part of a column transfer or catalog snapshot.
func (d *Dictionary) Serialize() ([]byte, error) {
	var raw bytes.Buffer
	if err := d.serializeRaw(&raw); err != nil {
		return nil, fmt.Errorf("column: dictionary serialize: %w", err)
	}
	return s2.Encode(nil, raw.Bytes()), nil
}

// DeserializeDictionary decodes a dictionary previously produced by
// Serialize. The returned dictionary is initialized but not yet
// marked ready; the caller should call MarkReady once it is safe for
// readers to proceed (e.g. once the whole transfer has landed).
func DeserializeDictionary(compressed []byte) (*Dictionary, error) {
	raw, err := s2.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("column: dictionary deserialize: s2: %w", err)
	}
	d := NewDictionary()
	buf := bytes.NewReader(raw)
	var countBuf [8]byte
	if _, err := io.ReadFull(buf, countBuf[:]); err != nil {
		return nil, fmt.Errorf("column: dictionary deserialize: count: %w", err)
	}
	count := binary.LittleEndian.Uint64(countBuf[:])
	var hdr [16]byte
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(buf, hdr[:]); err != nil {
			return nil, fmt.Errorf("column: dictionary deserialize: entry header %d: %w", i, err)
		}
		code := binary.LittleEndian.Uint64(hdr[0:8])
		slen := binary.LittleEndian.Uint64(hdr[8:16])
		strBytes := make([]byte, slen)
		if _, err := io.ReadFull(buf, strBytes); err != nil {
			return nil, fmt.Errorf("column: dictionary deserialize: entry body %d: %w", i, err)
		}
		s := string(strBytes)
		d.strToCode[s] = code
		d.codeToStr[code] = s
		if code >= d.next {
			d.next = code + 1
		}
	}
	d.dirty = true
	return d, nil
}
