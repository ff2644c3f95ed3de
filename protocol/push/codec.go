// Package push implements the server-push variant of the
// length-prefixed codec family (spec §4.5.4): the same
// magic+bodySize+metaSize framing as Baidu-std/Hulu/SoFa, with a
// small sub-header ahead of the meta block that lets a server-
// originated request share the wire with ordinary client-originated
// ones on the same connection.
//
// push uses its own magic ("PUSH", big-endian) rather than
// Baidu-std's "PRPC": the framing engine latches onto whichever
// candidate codec's Decode first returns a packet (spec §4.4), and
// two codecs sharing one magic+order pair would make that latch
// order-dependent — the server's own default candidate list carries
// both baidustd and push on one listener, so they must be
// distinguishable before the SPHead sub-header is even inspected,
// not after.
//
// No SPHead byte layout survived into original_source, so this
// repo picks the smallest self-consistent layout and documents it as
// an assumption, not a discovery (SPEC_FULL.md §12 item 3):
//
//	[magicSub(2)="SP"][msgType(1)][reserved(1)]
//
// immediately ahead of the inner meta block, inside the same
// metaSize-accounted region the outer lenprefix header already
// frames — so a peer that doesn't understand push still frames the
// packet correctly, it just can't interpret the sub-header.
package push

import (
	"encoding/binary"

	"google.golang.org/protobuf/proto"

	"github.com/brpc-go/brpc/buffer"
	"github.com/brpc-go/brpc/compress"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
	"github.com/brpc-go/brpc/protocol/lenprefix"
	"github.com/brpc-go/brpc/protocol/rpcmeta"
)

// MsgType distinguishes a normal client-originated packet from one
// the server originated and routed to a client-side callback.
type MsgType uint8

const (
	Normal MsgType = 0
	Push    MsgType = 1
)

var magicSub = [2]byte{'S', 'P'}

const subHeaderSize = 4

// Codec wraps the Baidu-std framing shape (big-endian sizes,
// name-addressed meta) with the SPHead sub-header, under its own
// magic so it never collides with baidustd.Codec on the same
// listener. It is not parameterized over Hulu/SoFa's byte order
// because the spec names server-push as riding on whichever
// length-prefixed codec a deployment already uses for that
// connection; Baidu-std's byte order is the default and the one
// exercised here, same as the teacher exercises one dialect per
// format package rather than a generic framer.
type Codec struct {
	Magic    [4]byte
	Order    binary.ByteOrder
	Compress *compress.Registry
}

var defaultMagic = [4]byte{'P', 'U', 'S', 'H'}

// NewCodec returns a push codec framed like Baidu-std, under its own
// magic ("PUSH"). A nil reg gets the default compress.Registry.
func NewCodec(reg *compress.Registry) *Codec {
	if reg == nil {
		reg = compress.NewRegistry()
	}
	return &Codec{Magic: defaultMagic, Order: binary.BigEndian, Compress: reg}
}

func (c *Codec) Name() string { return "push" }

func subHeader(t MsgType) []byte {
	return []byte{magicSub[0], magicSub[1], byte(t), 0}
}

// EncodeRequest encodes an ordinary, client-originated request.
func (c *Codec) EncodeRequest(req *protocol.Request) ([]byte, error) {
	return c.encodeRequest(req, Normal)
}

// EncodePushRequest encodes a server-originated request, setting the
// sub-header's msgType to Push so that IsPush reports true for it on
// the decoding side. The decoded packet is not routed anywhere other
// than an ordinary request would be.
func (c *Codec) EncodePushRequest(req *protocol.PushRequest) ([]byte, error) {
	return c.encodeRequest(&req.Request, Push)
}

func (c *Codec) encodeRequest(req *protocol.Request, t MsgType) ([]byte, error) {
	if len(req.Args) == 0 {
		return nil, protocol.New(protocol.SerializationFailure, "push: request has no args")
	}
	codec, err := c.Compress.Get(req.Compression)
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	msgBytes, err := codec.CompressInput(req.Args[0])
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}

	var userMessageSize int32
	body := msgBytes
	if req.HasAttachment {
		userMessageSize = int32(len(msgBytes))
		body = append(body, req.Attachment.Bytes()...)
	}

	m := &rpcmeta.RequestMeta{
		CorrelationID:   req.LogID,
		ServiceName:     req.ServiceName,
		MethodName:      req.MethodName,
		MethodIndex:     -1,
		CompressType:    int32(req.Compression),
		UserMessageSize: userMessageSize,
		TraceIDs:        req.TraceIDs,
	}
	metaBytes := append(subHeader(t), rpcmeta.MarshalRequest(nil, m)...)
	return lenprefix.EncodeFrame(c.Magic, c.Order, metaBytes, body), nil
}

// EncodeResponse encodes an ordinary response to a client-originated
// request. A response to a server-originated push request travels
// back over the same dispatch path (spec §4.5.4: the push adapter
// only changes who initiates, not how a reply is framed), so no
// separate EncodePushResponse exists.
func (c *Codec) EncodeResponse(resp *protocol.Response) ([]byte, error) {
	var msgBytes []byte
	var err error
	if resp.Success() {
		codec, cerr := c.Compress.Get(resp.Compression)
		if cerr != nil {
			return nil, protocol.Wrap(protocol.SerializationFailure, cerr)
		}
		msgBytes, err = codec.CompressOutput(resp.Result)
		if err != nil {
			return nil, protocol.Wrap(protocol.SerializationFailure, err)
		}
	}

	var userMessageSize int32
	body := msgBytes
	if resp.HasAttachment {
		userMessageSize = int32(len(msgBytes))
		body = append(body, resp.Attachment.Bytes()...)
	}

	m := &rpcmeta.ResponseMeta{
		CorrelationID:   resp.LogID,
		CompressType:    int32(resp.Compression),
		ErrorCode:       resp.ErrorCode,
		ErrorText:       resp.ErrorText,
		UserMessageSize: userMessageSize,
	}
	metaBytes := append(subHeader(Normal), rpcmeta.MarshalResponse(nil, m)...)
	return lenprefix.EncodeFrame(c.Magic, c.Order, metaBytes, body), nil
}

func (c *Codec) Decode(store *buffer.Store) (*protocol.RawPacket, error) {
	pkt, err := lenprefix.DecodeFrame(store, c.Magic, c.Order)
	if err != nil {
		return nil, err
	}
	if pkt.MetaBuf.Len() < subHeaderSize {
		pkt.Release()
		return nil, protocol.New(protocol.SerializationFailure, "push: meta block shorter than SPHead sub-header")
	}
	sub := pkt.MetaBuf.Bytes()[:subHeaderSize]
	if sub[0] != magicSub[0] || sub[1] != magicSub[1] {
		pkt.Release()
		return nil, protocol.New(protocol.BadSchema, "push: SPHead magic mismatch")
	}
	msgType := sub[2]

	// Sub narrows the view over the same refcount handle; no extra
	// Retain/Release needed since pkt still owns exactly one reference.
	pkt.MetaBuf = pkt.MetaBuf.Sub(subHeaderSize, pkt.MetaBuf.Len()-subHeaderSize)
	pkt.Push = &protocol.PushFrame{MsgType: msgType}
	return pkt, nil
}

func (c *Codec) DecodeRequest(pkt *protocol.RawPacket, reg *meta.Registry) (*protocol.Request, error) {
	m, err := rpcmeta.UnmarshalRequest(pkt.MetaBuf.Bytes())
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}

	req := &protocol.Request{
		LogID:       m.CorrelationID,
		ServiceName: m.ServiceName,
		MethodName:  m.MethodName,
		MethodIndex: -1,
		Compression: compress.Code(m.CompressType),
		TraceIDs:    m.TraceIDs,
	}

	descriptor, ok := reg.LookupByName(m.ServiceName, m.MethodName)
	if !ok {
		return req, nil
	}
	req.Descriptor = descriptor

	message, attachment, hasAttachment, err := lenprefix.SplitBody(pkt.BodyBuf.Bytes(), m.UserMessageSize)
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}

	codec, err := c.Compress.Get(req.Compression)
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	arg := descriptor.NewRequest()
	if err := codec.UncompressInput(message, arg); err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	req.Args = []proto.Message{arg}

	if hasAttachment {
		req.HasAttachment = true
		req.Attachment = pkt.BodyBuf.Retain().Sub(len(message), len(attachment))
	}
	return req, nil
}

func (c *Codec) DecodeResponse(pkt *protocol.RawPacket, ctx protocol.ConnContext) (*protocol.Response, error) {
	m, err := rpcmeta.UnmarshalResponse(pkt.MetaBuf.Bytes())
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}

	resp := &protocol.Response{
		LogID:       m.CorrelationID,
		Compression: compress.Code(m.CompressType),
		ErrorCode:   m.ErrorCode,
		ErrorText:   m.ErrorText,
	}

	message, attachment, hasAttachment, err := lenprefix.SplitBody(pkt.BodyBuf.Bytes(), m.UserMessageSize)
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}

	if resp.Success() {
		descriptor, ok := ctx.PendingRequest(m.CorrelationID)
		if !ok {
			return nil, protocol.New(protocol.ServiceException, "push: response for unknown logId")
		}
		codec, err := c.Compress.Get(resp.Compression)
		if err != nil {
			return nil, protocol.Wrap(protocol.SerializationFailure, err)
		}
		result := descriptor.NewResponse()
		if err := codec.UncompressOutput(message, result); err != nil {
			return nil, protocol.Wrap(protocol.SerializationFailure, err)
		}
		resp.Result = result
	}

	if hasAttachment {
		resp.HasAttachment = true
		resp.Attachment = pkt.BodyBuf.Retain().Sub(len(message), len(attachment))
	}
	return resp, nil
}

// IsPush reports whether a decoded RawPacket's DecodeRequest result
// should be treated as a protocol.PushRequest rather than an ordinary
// client-originated Request, since the Codec interface has no room for
// a distinct push return type. Neither dispatch.Adapter nor client.Conn
// calls IsPush; a push packet is dispatched like any other request.
func IsPush(pkt *protocol.RawPacket) bool {
	return pkt.Push != nil && MsgType(pkt.Push.MsgType) == Push
}
