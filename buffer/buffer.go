// Package buffer implements the composite byte buffer shared by every
// protocol codec: bytes are appended as they arrive off the wire and
// handed back out as refcounted slices so a codec can transfer an
// attachment straight into a Request/Response without copying it.
package buffer

import (
	"errors"
	"sync/atomic"
)

// ErrNotEnoughData is returned by Peek/Skip/ReadRetainedSlice/RetainedSlice when
// the store holds fewer readable bytes than requested.
var ErrNotEnoughData = errors.New("buffer: not enough data")

// Slice is a refcounted view of bytes read from a Store. When the
// requested range lies inside the Store's first unconsumed chunk the
// Slice shares that chunk's backing array; a range that spans more
// than one appended chunk is copied into a fresh array.
// Retain bumps the refcount and returns a Slice sharing the same
// backing bytes; Release drops it. The zero Slice is empty and safe to
// Release (a no-op).
type Slice struct {
	b    []byte
	refs *int32
}

// Bytes returns the slice's bytes. The caller must not retain them
// past the matching Release call.
func (s Slice) Bytes() []byte { return s.b }

// Len returns the number of bytes in the slice.
func (s Slice) Len() int { return len(s.b) }

// Retain increments the refcount and returns a new handle to the same
// backing bytes. The returned Slice must be Released independently.
func (s Slice) Retain() Slice {
	if s.refs != nil {
		atomic.AddInt32(s.refs, 1)
	}
	return s
}

// Release decrements the refcount. All handles of one Slice share a
// single counter, so Release panics once the total number of releases
// exceeds the number of retains (the initial one included), mirroring
// the double-release guard
// the original netty-based implementation enforces via
// IllegalReferenceCountException.
func (s Slice) Release() {
	if s.refs == nil {
		return
	}
	n := atomic.AddInt32(s.refs, -1)
	if n < 0 {
		panic("buffer: slice released more times than retained")
	}
}

// Sub narrows the view to b[off:off+n] while keeping the same
// refcount handle, for splitting a single retained Slice (e.g. a
// decoded body) into independently-releasable sub-regions (e.g. the
// user message and a trailing attachment) without an extra Retain.
// The caller is responsible for exactly one Release across however
// many Sub views it hands out of a given Retain.
func (s Slice) Sub(off, n int) Slice {
	return Slice{b: s.b[off : off+n], refs: s.refs}
}

func newSlice(b []byte) Slice {
	refs := new(int32)
	*refs = 1
	return Slice{b: b, refs: refs}
}

// Store is a composite byte buffer: bytes are appended to it as they
// arrive from a connection, and codecs consume them front-to-back.
// Store itself is not safe for concurrent use; per the framing engine
// contract (spec §4.4) it is only ever driven by the single goroutine
// that owns a connection.
type Store struct {
	chunks [][]byte
	off    int // offset into chunks[0]
	size   int // total readable bytes
}

// New returns an empty Store.
func New() *Store { return &Store{} }

// AppendSlice appends b to the accumulator. b is retained by
// reference, not copied; the caller must not mutate it afterwards.
func (s *Store) AppendSlice(b []byte) {
	if len(b) == 0 {
		return
	}
	s.chunks = append(s.chunks, b)
	s.size += len(b)
}

// ReadableBytes returns the number of unconsumed bytes.
func (s *Store) ReadableBytes() int { return s.size }

// Peek returns the first n readable bytes without consuming them. The
// returned slice is only valid until the next mutating call on s; if
// the caller needs to hold onto it, use ReadRetainedSlice or
// RetainedSlice instead.
func (s *Store) Peek(n int) ([]byte, error) {
	if n > s.size {
		return nil, ErrNotEnoughData
	}
	if n == 0 {
		return nil, nil
	}
	if len(s.chunks) > 0 && n <= len(s.chunks[0])-s.off {
		return s.chunks[0][s.off : s.off+n], nil
	}
	out := make([]byte, 0, n)
	remaining := n
	for _, c := range s.chunks {
		if remaining == 0 {
			break
		}
		start := 0
		if len(out) == 0 {
			start = s.off
		}
		avail := c[start:]
		if len(avail) > remaining {
			avail = avail[:remaining]
		}
		out = append(out, avail...)
		remaining -= len(avail)
	}
	return out, nil
}

// Skip discards n readable bytes without returning them.
func (s *Store) Skip(n int) error {
	if n > s.size {
		return ErrNotEnoughData
	}
	s.size -= n
	for n > 0 {
		head := s.chunks[0]
		avail := len(head) - s.off
		if n < avail {
			s.off += n
			return nil
		}
		n -= avail
		s.chunks = s.chunks[1:]
		s.off = 0
	}
	return nil
}

// ReadRetainedSlice consumes and returns the first n readable bytes as
// a retained Slice whose refcount starts at 1.
func (s *Store) ReadRetainedSlice(n int) (Slice, error) {
	b, err := s.Peek(n)
	if err != nil {
		return Slice{}, err
	}
	if err := s.Skip(n); err != nil {
		return Slice{}, err
	}
	return newSlice(b), nil
}

// RetainedSlice returns a retained Slice over [offset, offset+n) of
// the readable region without consuming it. offset and n must lie
// within the currently readable bytes.
func (s *Store) RetainedSlice(offset, n int) (Slice, error) {
	if offset+n > s.size {
		return Slice{}, ErrNotEnoughData
	}
	if n == 0 {
		return newSlice(nil), nil
	}
	if len(s.chunks) > 0 && offset+n <= len(s.chunks[0])-s.off {
		start := s.off + offset
		return newSlice(s.chunks[0][start : start+n]), nil
	}

	out := make([]byte, 0, n)
	skip := offset
	remaining := n
	for i, c := range s.chunks {
		start := 0
		if i == 0 {
			start = s.off
		}
		avail := c[start:]
		if skip > 0 {
			if skip >= len(avail) {
				skip -= len(avail)
				continue
			}
			avail = avail[skip:]
			skip = 0
		}
		if remaining == 0 {
			break
		}
		if len(avail) > remaining {
			avail = avail[:remaining]
		}
		out = append(out, avail...)
		remaining -= len(avail)
	}
	return newSlice(out), nil
}

// Wrap builds a retained Slice directly from caller-owned bytes, for
// codecs that construct an outgoing message rather than read one off
// the wire (e.g. encode paths, and tests).
func Wrap(b []byte) Slice { return newSlice(b) }
