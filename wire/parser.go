package wire

import (
	"golang.org/x/crypto/blake2b"
)

// StreamParser incrementally decodes frames from a byte stream that
// may deliver partial frames across Feed calls (spec.md §6's "Stream
// parser"): it advances until magic is found, reads the meta header,
// and if the full frame (meta+payload[+checksum]) isn't buffered yet,
// moves the unprocessed tail to the front of the buffer and reports
// how many bytes are still unprocessed.
type StreamParser struct {
	buf          []byte
	UseChecksum  bool
	onChecksumFn func([]byte) error // overridable in tests
}

// NewStreamParser creates an empty parser. withChecksum must match
// whatever the peer used when encoding frames.
func NewStreamParser(withChecksum bool) *StreamParser {
	return &StreamParser{UseChecksum: withChecksum}
}

// Feed appends data to the parser's internal buffer and returns every
// complete frame it can now decode, plus the count of bytes left
// unprocessed at the front of the (compacted) internal buffer.
func (p *StreamParser) Feed(data []byte) (frames []Frame, unprocessed int) {
	p.buf = append(p.buf, data...)

	for {
		// advance until magic is found (resync).
		idx := findMagic(p.buf)
		if idx < 0 {
			p.buf = p.buf[:0]
			return frames, 0
		}
		if idx > 0 {
			p.buf = p.buf[idx:]
		}

		frameMetaLen := HeaderSize
		if len(p.buf) < frameMetaLen {
			return frames, len(p.buf)
		}
		meta := decodeMeta(p.buf[4:HeaderSize])
		need := frameMetaLen + int(meta.PayloadSize)
		if p.UseChecksum {
			need += checksumSize
		}
		if len(p.buf) < need {
			return frames, len(p.buf)
		}

		payload := make([]byte, meta.PayloadSize)
		copy(payload, p.buf[frameMetaLen:frameMetaLen+int(meta.PayloadSize)])

		if p.UseChecksum {
			want := p.buf[frameMetaLen+int(meta.PayloadSize) : need]
			sum := blake2b.Sum256(payload)
			if !bytesEqual(want, sum[:]) {
				// drop just the magic byte and resync forward rather
				// than aborting the whole stream.
				p.buf = p.buf[1:]
				continue
			}
		}

		frames = append(frames, Frame{Meta: meta, Payload: payload})
		p.buf = p.buf[need:]
	}
}

func findMagic(buf []byte) int {
	if len(buf) < 4 {
		if len(buf) == 0 {
			return -1
		}
		// not enough bytes to confirm magic; treat as "not found yet"
		// so the caller waits for more data rather than skipping bytes
		// that might be the start of a valid magic once more data
		// arrives.
		return 0
	}
	for i := 0; i+4 <= len(buf); i++ {
		if buf[i] == byte(Magic) && buf[i+1] == byte(Magic>>8) &&
			buf[i+2] == byte(Magic>>16) && buf[i+3] == byte(Magic>>24) {
			return i
		}
	}
	// keep the last 3 bytes in case they're a prefix of magic split
	// across Feed calls.
	return len(buf) - 3
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
