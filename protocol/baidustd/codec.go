// Package baidustd implements the Baidu-std wire protocol (spec
// §4.5.1): big-endian length-prefixed framing with methods addressed
// by (serviceName, methodName).
package baidustd

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

var magic = [4]byte{'P', 'R', 'P', 'C'}

// Codec implements protocol.Codec for Baidu-std.
type Codec struct {
	Compress *compress.Registry
}

// NewCodec returns a Baidu-std codec. A nil reg gets the default
// compress.Registry (NONE/SNAPPY/GZIP/ZLIB).
func NewCodec(reg *compress.Registry) *Codec {
	if reg == nil {
		reg = compress.NewRegistry()
	}
	return &Codec{Compress: reg}
}

func (c *Codec) Name() string { return "baidu-std" }

func (c *Codec) EncodeRequest(req *protocol.Request) ([]byte, error) {
	if len(req.Args) == 0 {
		return nil, protocol.New(protocol.SerializationFailure, "baidustd: request has no args")
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
	metaBytes := rpcmeta.MarshalRequest(nil, m)
	return lenprefix.EncodeFrame(magic, binary.BigEndian, metaBytes, body), nil
}

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
	metaBytes := rpcmeta.MarshalResponse(nil, m)
	return lenprefix.EncodeFrame(magic, binary.BigEndian, metaBytes, body), nil
}

func (c *Codec) Decode(store *buffer.Store) (*protocol.RawPacket, error) {
	return lenprefix.DecodeFrame(store, magic, binary.BigEndian)
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
		// Decoding does not throw on a registry miss: dispatch answers
		// with SERVICE_EXCEPTION. Args stay empty since there's no
		// known message type to decode the body with.
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
			return nil, protocol.New(protocol.ServiceException, "baidustd: response for unknown logId")
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
