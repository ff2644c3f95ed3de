// Package compress implements the compression adapter: a registry
// mapping a wire compression code to the (encode, decode) pair that
// sits between message objects and wire bytes (spec §4.2).
package compress

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"google.golang.org/protobuf/proto"
)

// Code is the wire compression code carried in request/response meta,
// identical across every protocol codec (spec §3, §6).
type Code int32

const (
	NONE Code = 0
	// SNAPPY is implemented with github.com/golang/snappy, the same
	// block-compression library the rest of the pack (luci-go) pulls
	// in for this purpose.
	SNAPPY Code = 1
	GZIP   Code = 2
	ZLIB   Code = 3
)

func (c Code) String() string {
	switch c {
	case NONE:
		return "NONE"
	case SNAPPY:
		return "SNAPPY"
	case GZIP:
		return "GZIP"
	case ZLIB:
		return "ZLIB"
	default:
		return fmt.Sprintf("Code(%d)", int32(c))
	}
}

// ErrUnknownCode is returned by Registry.Get for a code nobody
// registered; protocol codecs classify this as SERIALIZATION_FAILURE.
var ErrUnknownCode = errors.New("compress: unknown compression code")

// Codec compresses/uncompresses a protobuf message for one direction
// of travel (input = request body, output = response body). NONE
// still performs protobuf serialization — it is the identity
// transform on top of it, not a no-op on the message itself.
type Codec interface {
	CompressInput(msg proto.Message) ([]byte, error)
	UncompressInput(b []byte, msg proto.Message) error
	CompressOutput(msg proto.Message) ([]byte, error)
	UncompressOutput(b []byte, msg proto.Message) error
}

// Registry maps a compression Code to its Codec. The zero Registry is
// not usable; use NewRegistry. A Registry is read-only after
// construction and safe for concurrent use, matching the
// process-wide default discussed in spec §9 (no implicit global,
// but a convenience constructor for one).
type Registry struct {
	codecs map[Code]Codec
}

// NewRegistry returns a Registry pre-populated with NONE, SNAPPY,
// GZIP and ZLIB.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[Code]Codec, 4)}
	r.Register(NONE, identityCodec{})
	r.Register(SNAPPY, snappyCodec{})
	r.Register(GZIP, gzipCodec{})
	r.Register(ZLIB, zlibCodec{})
	return r
}

// Register adds or replaces the codec for code. Intended for tests
// and for adding vendor-specific compression schemes; production
// callers should rely on NewRegistry's defaults.
func (r *Registry) Register(code Code, c Codec) {
	r.codecs[code] = c
}

// Get returns the codec for code, or ErrUnknownCode.
func (r *Registry) Get(code Code) (Codec, error) {
	c, ok := r.codecs[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCode, code)
	}
	return c, nil
}

// CompressBytes and UncompressBytes apply a compression code's raw
// algorithm directly to an already-serialized byte payload, bypassing
// the protobuf marshal/unmarshal step Codec bakes in. The HTTP-JSON
// codec needs this: its body is JSON, not a protobuf wire message, so
// it compresses/uncompresses the marshaled bytes directly rather than
// through the Codec interface's proto.Message entrypoints.
func CompressBytes(code Code, raw []byte) ([]byte, error) {
	switch code {
	case NONE:
		return raw, nil
	case SNAPPY:
		return snappy.Encode(nil, raw), nil
	case GZIP:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	case ZLIB:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCode, code)
	}
}

func UncompressBytes(code Code, raw []byte) ([]byte, error) {
	switch code {
	case NONE:
		return raw, nil
	case SNAPPY:
		out, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, fmt.Errorf("snappy decode: %w", err)
		}
		return out, nil
	case GZIP:
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case ZLIB:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCode, code)
	}
}

type identityCodec struct{}

func (identityCodec) CompressInput(msg proto.Message) ([]byte, error)      { return proto.Marshal(msg) }
func (identityCodec) UncompressInput(b []byte, msg proto.Message) error    { return proto.Unmarshal(b, msg) }
func (identityCodec) CompressOutput(msg proto.Message) ([]byte, error)     { return proto.Marshal(msg) }
func (identityCodec) UncompressOutput(b []byte, msg proto.Message) error   { return proto.Unmarshal(b, msg) }

type snappyCodec struct{}

func (snappyCodec) CompressInput(msg proto.Message) ([]byte, error) {
	return compressSnappy(msg)
}
func (snappyCodec) UncompressInput(b []byte, msg proto.Message) error {
	return uncompressSnappy(b, msg)
}
func (snappyCodec) CompressOutput(msg proto.Message) ([]byte, error) {
	return compressSnappy(msg)
}
func (snappyCodec) UncompressOutput(b []byte, msg proto.Message) error {
	return uncompressSnappy(b, msg)
}

func compressSnappy(msg proto.Message) ([]byte, error) {
	raw, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func uncompressSnappy(b []byte, msg proto.Message) error {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return fmt.Errorf("snappy decode: %w", err)
	}
	return proto.Unmarshal(raw, msg)
}

type gzipCodec struct{}

func (gzipCodec) CompressInput(msg proto.Message) ([]byte, error)  { return compressGzip(msg) }
func (gzipCodec) UncompressInput(b []byte, msg proto.Message) error {
	return uncompressGzip(b, msg)
}
func (gzipCodec) CompressOutput(msg proto.Message) ([]byte, error) { return compressGzip(msg) }
func (gzipCodec) UncompressOutput(b []byte, msg proto.Message) error {
	return uncompressGzip(b, msg)
}

func compressGzip(msg proto.Message) ([]byte, error) {
	raw, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func uncompressGzip(b []byte, msg proto.Message) error {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("gzip read: %w", err)
	}
	return proto.Unmarshal(raw, msg)
}

type zlibCodec struct{}

func (zlibCodec) CompressInput(msg proto.Message) ([]byte, error)  { return compressZlib(msg) }
func (zlibCodec) UncompressInput(b []byte, msg proto.Message) error {
	return uncompressZlib(b, msg)
}
func (zlibCodec) CompressOutput(msg proto.Message) ([]byte, error) { return compressZlib(msg) }
func (zlibCodec) UncompressOutput(b []byte, msg proto.Message) error {
	return uncompressZlib(b, msg)
}

func compressZlib(msg proto.Message) ([]byte, error) {
	raw, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func uncompressZlib(b []byte, msg proto.Message) error {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("zlib reader: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("zlib read: %w", err)
	}
	return proto.Unmarshal(raw, msg)
}
