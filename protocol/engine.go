package protocol

import (
	"errors"

	"go.uber.org/zap"

	"github.com/brpc-go/brpc/buffer"
)

// Decoded pairs a RawPacket with the codec that produced it, since
// the caller (dispatch adapter or client) needs the same codec to
// turn the packet into a typed Request/Response.
type Decoded struct {
	Codec  Codec
	Packet *RawPacket
}

// Engine is the framing engine: one instance per connection (spec
// §4.4). It owns the accumulator, the candidate-codec detection list,
// and the Bound/Fatal state machine (spec §4.7). Engine is not safe
// for concurrent use — the contract is that exactly one goroutine
// drives a connection's reads.
type Engine struct {
	candidates []Codec
	bound      Codec
	store      *buffer.Store
	fatalErr   error
	log        *zap.Logger
}

// NewEngine returns an unbound Engine that will try candidates, in
// order, against the first bytes of the connection. The order should
// put the most specific binary magics first, then HTTP/1.1, then
// HTTP/2, matching spec §4.4's detection order.
func NewEngine(candidates []Codec, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		candidates: candidates,
		store:      buffer.New(),
		log:        log.Named("protocol.engine"),
	}
}

// BoundCodec returns the codec this connection latched onto, or nil
// if still unbound.
func (e *Engine) BoundCodec() Codec { return e.bound }

// Fatal reports whether the connection has transitioned to the Fatal
// sink and, if so, the error that caused it.
func (e *Engine) Fatal() (bool, error) { return e.fatalErr != nil, e.fatalErr }

// Feed appends chunk to the accumulator and decodes every whole
// packet it can find. It returns the packets decoded from this call
// (zero or more) and a non-nil error only once the connection has
// gone Fatal — after which every subsequent Feed call returns the
// same error without reading chunk.
func (e *Engine) Feed(chunk []byte) ([]Decoded, error) {
	if e.fatalErr != nil {
		return nil, e.fatalErr
	}

	e.store.AppendSlice(chunk)

	var out []Decoded
	for {
		pkt, codec, err := e.decodeOne()
		if err != nil {
			var perr *Error
			if errors.As(err, &perr) && perr.Kind == NotEnoughData {
				return out, nil
			}
			e.fatalErr = err
			e.log.Error("connection fatal", zap.Error(err))
			return out, err
		}
		if pkt == nil {
			return out, nil
		}
		if e.bound == nil {
			e.bound = codec
			e.log.Debug("protocol bound", zap.String("codec", codec.Name()))
		}
		out = append(out, Decoded{Codec: codec, Packet: pkt})
	}
}

// decodeOne attempts a single packet. While unbound it sweeps every
// candidate in order; bound, it only calls the bound codec. A nil
// packet with a nil error never happens in practice but is handled
// defensively by the Feed loop above.
func (e *Engine) decodeOne() (*RawPacket, Codec, error) {
	if e.bound != nil {
		pkt, err := e.bound.Decode(e.store)
		if err != nil {
			var perr *Error
			if errors.As(err, &perr) && perr.Kind == BadSchema {
				// Bound connections never get a second chance: a
				// BAD_SCHEMA here means the peer broke the contract
				// it established with its first packet.
				return nil, nil, Wrap(BadSchema, err)
			}
			return nil, nil, err
		}
		return pkt, e.bound, nil
	}

	var sawNotEnoughData bool
	for _, candidate := range e.candidates {
		pkt, err := candidate.Decode(e.store)
		if err == nil {
			return pkt, candidate, nil
		}

		var perr *Error
		if !errors.As(err, &perr) {
			return nil, nil, err
		}
		switch perr.Kind {
		case BadSchema:
			continue
		case NotEnoughData:
			sawNotEnoughData = true
			continue
		case TooBigData:
			return nil, nil, err
		default:
			return nil, nil, err
		}
	}

	if sawNotEnoughData {
		return nil, nil, ErrNotEnoughData
	}
	// Every candidate rejected the bytes outright: no protocol in the
	// detection list can ever claim this connection.
	return nil, nil, New(BadSchema, "no candidate protocol matched")
}
