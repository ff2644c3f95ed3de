// Package nshead implements the NSHead wire protocol (spec §4.5.4): a
// fixed 36-byte header carrying a magic, a packet type, a provider
// name and a log id, ahead of an inner [metaSize][meta][body] block.
// Unlike Baidu-std/Hulu/SoFa, NSHead carries no service/method
// strings on the wire at all — routing is by (provider, packetType),
// configured into the meta registry out of band via
// meta.Descriptor.NSHead.
package nshead

import (
	"encoding/binary"

	"google.golang.org/protobuf/proto"

	"github.com/brpc-go/brpc/buffer"
	"github.com/brpc-go/brpc/compress"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
	"github.com/brpc-go/brpc/protocol/rpcmeta"
)

var magic = [6]byte{'N', 'S', 'H', 'E', 'A', 'D'}

// HeaderSize is the fixed NSHead header: 6-byte magic, 2-byte packet
// type, 16-byte provider, 4-byte log id, 4-byte body length, 4-byte
// reserved.
const HeaderSize = 36

const providerSize = 16

// Codec implements protocol.Codec for NSHead.
type Codec struct {
	Compress *compress.Registry
}

func NewCodec(reg *compress.Registry) *Codec {
	if reg == nil {
		reg = compress.NewRegistry()
	}
	return &Codec{Compress: reg}
}

func (c *Codec) Name() string { return "nshead" }

// EncodeRequest requires req.Descriptor's NSHead metadata (provider,
// packet type) to route the outgoing frame, since NSHead carries no
// service/method strings.
func (c *Codec) EncodeRequest(req *protocol.Request) ([]byte, error) {
	if req.Descriptor == nil || req.Descriptor.NSHead == nil {
		return nil, protocol.New(protocol.SerializationFailure, "nshead: request has no NSHead routing metadata")
	}
	if len(req.Args) == 0 {
		return nil, protocol.New(protocol.SerializationFailure, "nshead: request has no args")
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
		CompressType:    int32(req.Compression),
		UserMessageSize: userMessageSize,
		TraceIDs:        req.TraceIDs,
	}
	metaBytes := rpcmeta.MarshalRequest(nil, m)

	inner := encodeInner(metaBytes, body)
	return encodeHeader(req.Descriptor.NSHead.Provider, req.Descriptor.NSHead.PacketType, req.LogID, inner), nil
}

func (c *Codec) EncodeResponse(resp *protocol.Response) ([]byte, error) {
	return nil, protocol.New(protocol.SerializationFailure, "nshead: use EncodeResponseFor to supply routing metadata")
}

// EncodeResponseFor encodes resp using the provider/packetType the
// originating request carried, since NSHead's wire format has no room
// to carry them back independently.
func (c *Codec) EncodeResponseFor(resp *protocol.Response, provider string, packetType uint32) ([]byte, error) {
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
	metaBytes := rpcmeta.MarshalResponse(nil, m)

	inner := encodeInner(metaBytes, body)
	return encodeHeader(provider, packetType, resp.LogID, inner), nil
}

func encodeInner(metaBytes, body []byte) []byte {
	inner := make([]byte, 0, 4+len(metaBytes)+len(body))
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(metaBytes)))
	inner = append(inner, sizeBuf[:]...)
	inner = append(inner, metaBytes...)
	inner = append(inner, body...)
	return inner
}

func encodeHeader(provider string, packetType uint32, logID uint64, inner []byte) []byte {
	out := make([]byte, HeaderSize+len(inner))
	copy(out[0:6], magic[:])
	binary.BigEndian.PutUint16(out[6:8], uint16(packetType))
	var providerBuf [providerSize]byte
	copy(providerBuf[:], provider)
	copy(out[8:24], providerBuf[:])
	binary.BigEndian.PutUint32(out[24:28], uint32(logID))
	binary.BigEndian.PutUint32(out[28:32], uint32(len(inner)))
	// out[32:36] reserved, left zero.
	copy(out[HeaderSize:], inner)
	return out
}

func (c *Codec) Decode(store *buffer.Store) (*protocol.RawPacket, error) {
	header, err := store.Peek(HeaderSize)
	if err != nil {
		return nil, protocol.ErrNotEnoughData
	}
	if string(header[0:6]) != string(magic[:]) {
		return nil, protocol.New(protocol.BadSchema, "nshead: magic mismatch")
	}
	bodyLen := binary.BigEndian.Uint32(header[28:32])
	if bodyLen > protocol.MaxBodySize {
		return nil, protocol.New(protocol.TooBigData, "nshead: body length exceeds MaxBodySize")
	}
	total := HeaderSize + int(bodyLen)
	if store.ReadableBytes() < total {
		return nil, protocol.ErrNotEnoughData
	}

	// The packet type and provider live in the fixed header, which the
	// length-prefixed family has no slot for; stash them ahead of the
	// inner metaSize so DecodeRequest/DecodeResponse can recover them
	// without a second Store read.
	packetType := binary.BigEndian.Uint16(header[6:8])
	provider := trimProvider(header[8:24])

	if err := store.Skip(HeaderSize); err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	innerHeader, err := store.Peek(4)
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	metaSize := binary.BigEndian.Uint32(innerHeader)
	if uint32(4)+metaSize > bodyLen {
		return nil, protocol.Wrap(protocol.SerializationFailure, protocol.New(protocol.SerializationFailure, "nshead: metaSize exceeds inner body length"))
	}
	if err := store.Skip(4); err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	metaSlice, err := store.ReadRetainedSlice(int(metaSize))
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	bodySlice, err := store.ReadRetainedSlice(int(bodyLen) - 4 - int(metaSize))
	if err != nil {
		metaSlice.Release()
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}

	return &protocol.RawPacket{
		MetaBuf: metaSlice,
		BodyBuf: bodySlice,
		NSHead:  &meta.NSHeadMeta{Provider: provider, PacketType: uint32(packetType)},
	}, nil
}

func trimProvider(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return providers.intern(b[:i])
		}
	}
	return providers.intern(b)
}

func (c *Codec) DecodeRequest(pkt *protocol.RawPacket, reg *meta.Registry) (*protocol.Request, error) {
	m, err := rpcmeta.UnmarshalRequest(pkt.MetaBuf.Bytes())
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}

	req := &protocol.Request{
		LogID:       m.CorrelationID,
		MethodIndex: -1,
		Compression: compress.Code(m.CompressType),
		TraceIDs:    m.TraceIDs,
	}

	if pkt.NSHead == nil {
		return nil, protocol.New(protocol.SerializationFailure, "nshead: RawPacket missing routing metadata")
	}
	descriptor, ok := reg.LookupByNSHead(pkt.NSHead.Provider, pkt.NSHead.PacketType)
	if !ok {
		return req, nil
	}
	req.Descriptor = descriptor
	req.ServiceName = descriptor.ServiceName
	req.MethodName = descriptor.MethodName

	message, attachment, hasAttachment, err := splitBody(pkt.BodyBuf.Bytes(), m.UserMessageSize)
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

	message, attachment, hasAttachment, err := splitBody(pkt.BodyBuf.Bytes(), m.UserMessageSize)
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}

	if resp.Success() {
		descriptor, ok := ctx.PendingRequest(m.CorrelationID)
		if !ok {
			return nil, protocol.New(protocol.ServiceException, "nshead: response for unknown logId")
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

func splitBody(body []byte, userMessageSize int32) (message, attachment []byte, hasAttachment bool, err error) {
	if userMessageSize <= 0 || int(userMessageSize) >= len(body) {
		return body, nil, false, nil
	}
	return body[:userMessageSize], body[userMessageSize:], true, nil
}
