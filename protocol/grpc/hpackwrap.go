package grpc

import (
	"bytes"

	"golang.org/x/net/http2/hpack"
)

// headerEncoder wraps hpack.Encoder over a reusable buffer, adapted
// from the teacher's utils/hpack_wrapper: a tiny adapter so callers
// write fields instead of juggling the encoder's io.Writer directly.
type headerEncoder struct {
	buf bytes.Buffer
	enc *hpack.Encoder
}

func newHeaderEncoder() *headerEncoder {
	h := &headerEncoder{}
	h.enc = hpack.NewEncoder(&h.buf)
	return h
}

func (h *headerEncoder) reset() {
	h.buf.Reset()
}

func (h *headerEncoder) writeField(name, value string) error {
	return h.enc.WriteField(hpack.HeaderField{Name: name, Value: value})
}

func (h *headerEncoder) bytes() []byte { return h.buf.Bytes() }
