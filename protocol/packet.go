// Package protocol defines the decoded packet types, the Codec
// contract every wire format implements, and the framing engine that
// drives a codec against one connection's accumulated bytes
// (spec §3, §4.4, §4.5, §6).
package protocol

import (
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/brpc-go/brpc/buffer"
	"github.com/brpc-go/brpc/compress"
	"github.com/brpc-go/brpc/meta"
)

// Request is the decoded form of an RPC call, common to every codec.
type Request struct {
	LogID       uint64
	ServiceName string
	MethodName  string
	// MethodIndex addresses a method by position instead of name
	// (Hulu); -1 when the codec addresses by MethodName.
	MethodIndex int
	Compression compress.Code

	// Descriptor is the method the registry resolved this request to,
	// or nil if (service, method) / (service, index) wasn't found.
	// Decoding never throws on a registry miss (spec §4.6): a nil
	// Descriptor means Args is empty and the dispatch adapter must
	// answer with a SERVICE_EXCEPTION response instead of invoking.
	Descriptor *meta.Descriptor

	Args []proto.Message

	HasAttachment bool
	Attachment    buffer.Slice
	KVAttachment  map[string]string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TraceIDs     []uint64
}

// Release drops the request's attachment slice, if any. Safe to call
// on a Request with no attachment.
func (r *Request) Release() {
	if r.HasAttachment {
		r.Attachment.Release()
		r.HasAttachment = false
	}
}

// Response is the decoded form of an RPC result, common to every
// codec. ErrorCode == 0 denotes success (spec §3); a non-zero code
// carries BaiduRpcErrno-style values unchanged from the wire.
type Response struct {
	LogID       uint64
	Compression compress.Code
	Result      proto.Message

	ErrorCode int32
	ErrorText string

	HasAttachment bool
	Attachment    buffer.Slice
}

func (r *Response) Release() {
	if r.HasAttachment {
		r.Attachment.Release()
		r.HasAttachment = false
	}
}

// Success reports whether the response carries a result rather than
// an application-level error.
func (r *Response) Success() bool { return r.ErrorCode == 0 }

// PushRequest inverts the client/server roles over the same codecs
// (spec §4.5.4): a server-push adapter routes it to a waiting
// client-side callback instead of a server method.
type PushRequest struct {
	Request
}

// GRPCFrame carries the HTTP/2-derived routing fields a gRPC packet
// needs that have no slot in MetaBuf (gRPC has no separate meta
// block: headers and trailers stand in for it, spec §4.5.3). nil for
// every other codec.
type GRPCFrame struct {
	StreamID uint32
	Headers  map[string]string
	Trailers map[string]string
}

// HTTPFrame carries the parsed HTTP/1.1 start-line and header block
// for the HTTP-JSON/PROTOBUF codec family (spec §4.5.2), which frames
// by HTTP/1.1 rules rather than a binary meta block. nil for every
// other codec.
type HTTPFrame struct {
	IsResponse bool
	Method     string
	Path       string
	StatusCode int
	Header     map[string][]string
}

// RawPacket is the opaque, still-encoded form a codec hands to the
// framing engine and back: two refcounted slices of the connection's
// accumulator, so decoding the body doesn't copy it.
type RawPacket struct {
	MetaBuf buffer.Slice
	BodyBuf buffer.Slice

	// NSHead carries the fixed header's routing fields for the NSHead
	// codec, which has no service/method strings on the wire (spec
	// §4.5.4). nil for every other codec.
	NSHead *meta.NSHeadMeta

	GRPC *GRPCFrame
	HTTP *HTTPFrame

	// Push carries the SPHead sub-header's msgType for a packet framed
	// by protocol/push (spec §4.5.4): nil for every codec that doesn't
	// wrap the length-prefixed family with a push sub-header.
	Push *PushFrame
}

// PushFrame names which side originated a push-framed packet: a
// normal client-originated request/response, or one the server
// originated and routed to a client-side callback instead of a
// server method.
type PushFrame struct {
	MsgType uint8
}

// Release drops both buffers exactly once; codecs call this on every
// exit path (success or failure), per spec §3's refcount invariant.
func (p *RawPacket) Release() {
	p.MetaBuf.Release()
	p.BodyBuf.Release()
}

// ConnContext is the minimal per-connection context a codec needs to
// decode a response: the set of requests still awaiting a reply, so
// the codec knows which method's response type to decode into.
type ConnContext interface {
	// PendingRequest resolves the method descriptor a given logID was
	// dispatched with. It does not remove the entry from the pending
	// set. ok is false for an unknown or already-delivered logID.
	PendingRequest(logID uint64) (descriptor *meta.Descriptor, ok bool)
}

// Codec is the contract every wire protocol implements (spec §4.5,
// §6). Codecs are stateless and reentrant; only the FramingEngine
// holds per-connection state.
type Codec interface {
	// Name identifies the codec for logging and for the framing
	// engine's protocol-bound diagnostics.
	Name() string

	EncodeRequest(req *Request) ([]byte, error)
	EncodeResponse(resp *Response) ([]byte, error)

	// Decode attempts to pull one whole packet off store. It must not
	// consume any bytes unless it returns a packet or a fatal error:
	// a *protocol.Error with Kind NotEnoughData always leaves the
	// store's cursor untouched.
	Decode(store *buffer.Store) (*RawPacket, error)

	// DecodeRequest resolves a RawPacket produced by Decode into a
	// Request, using reg to look up the target method descriptor.
	// Decoding never panics on an unknown method: DecodeRequest
	// returns a normal Request plus the registry miss is surfaced by
	// the caller as a SERVICE_EXCEPTION response, since "decoding
	// does not throw" (spec §4.6).
	DecodeRequest(pkt *RawPacket, reg *meta.Registry) (*Request, error)

	DecodeResponse(pkt *RawPacket, ctx ConnContext) (*Response, error)
}
