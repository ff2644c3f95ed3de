// Package rpcmeta encodes and decodes the protobuf meta block shared
// by the Baidu-std/Hulu/SoFa length-prefixed codec family (spec
// §4.5.1). It talks the protobuf wire format directly via
// google.golang.org/protobuf/encoding/protowire rather than a
// generated .pb.go, so the framing engine doesn't need a
// RpcMeta.proto compiled in: the field layout below is this repo's
// own, chosen to carry exactly what spec §3's method descriptor and
// wire packet need.
package rpcmeta

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldCorrelationID    = protowire.Number(1)
	fieldServiceName      = protowire.Number(2)
	fieldMethodName       = protowire.Number(3)
	fieldMethodIndex      = protowire.Number(4)
	fieldCompressType     = protowire.Number(5)
	fieldUserMessageSize  = protowire.Number(6)
	fieldTraceIDs         = protowire.Number(7)
	fieldErrorCode        = protowire.Number(8)
	fieldErrorText        = protowire.Number(9)
)

// RequestMeta is the decoded form of a request's meta block.
type RequestMeta struct {
	CorrelationID   uint64
	ServiceName     string
	MethodName      string
	MethodIndex     int32 // Hulu addresses by index; 0 is a valid index, so codecs track "by index" separately
	CompressType    int32
	UserMessageSize int32
	TraceIDs        []uint64
}

// MarshalRequest appends the wire encoding of m to b.
func MarshalRequest(b []byte, m *RequestMeta) []byte {
	b = protowire.AppendTag(b, fieldCorrelationID, protowire.VarintType)
	b = protowire.AppendVarint(b, m.CorrelationID)
	if m.ServiceName != "" {
		b = protowire.AppendTag(b, fieldServiceName, protowire.BytesType)
		b = protowire.AppendString(b, m.ServiceName)
	}
	if m.MethodName != "" {
		b = protowire.AppendTag(b, fieldMethodName, protowire.BytesType)
		b = protowire.AppendString(b, m.MethodName)
	}
	b = protowire.AppendTag(b, fieldMethodIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(m.MethodIndex)))
	b = protowire.AppendTag(b, fieldCompressType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(m.CompressType)))
	if m.UserMessageSize > 0 {
		b = protowire.AppendTag(b, fieldUserMessageSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.UserMessageSize)))
	}
	for _, id := range m.TraceIDs {
		b = protowire.AppendTag(b, fieldTraceIDs, protowire.VarintType)
		b = protowire.AppendVarint(b, id)
	}
	return b
}

// UnmarshalRequest decodes b into a new RequestMeta, skipping any
// field number it doesn't recognize (forward compatibility).
func UnmarshalRequest(b []byte) (*RequestMeta, error) {
	m := &RequestMeta{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("rpcmeta: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldCorrelationID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: correlation_id: %w", protowire.ParseError(n))
			}
			m.CorrelationID = v
			b = b[n:]
		case fieldServiceName:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: service_name: %w", protowire.ParseError(n))
			}
			m.ServiceName = string(v)
			b = b[n:]
		case fieldMethodName:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: method_name: %w", protowire.ParseError(n))
			}
			m.MethodName = string(v)
			b = b[n:]
		case fieldMethodIndex:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: method_index: %w", protowire.ParseError(n))
			}
			m.MethodIndex = int32(uint32(v))
			b = b[n:]
		case fieldCompressType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: compress_type: %w", protowire.ParseError(n))
			}
			m.CompressType = int32(uint32(v))
			b = b[n:]
		case fieldUserMessageSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: user_message_size: %w", protowire.ParseError(n))
			}
			m.UserMessageSize = int32(uint32(v))
			b = b[n:]
		case fieldTraceIDs:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: trace_ids: %w", protowire.ParseError(n))
			}
			m.TraceIDs = append(m.TraceIDs, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

// ResponseMeta is the decoded form of a response's meta block.
type ResponseMeta struct {
	CorrelationID   uint64
	CompressType    int32
	ErrorCode       int32
	ErrorText       string
	UserMessageSize int32
}

func MarshalResponse(b []byte, m *ResponseMeta) []byte {
	b = protowire.AppendTag(b, fieldCorrelationID, protowire.VarintType)
	b = protowire.AppendVarint(b, m.CorrelationID)
	b = protowire.AppendTag(b, fieldCompressType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(m.CompressType)))
	if m.ErrorCode != 0 {
		b = protowire.AppendTag(b, fieldErrorCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.ErrorCode)))
	}
	if m.ErrorText != "" {
		b = protowire.AppendTag(b, fieldErrorText, protowire.BytesType)
		b = protowire.AppendString(b, m.ErrorText)
	}
	if m.UserMessageSize > 0 {
		b = protowire.AppendTag(b, fieldUserMessageSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.UserMessageSize)))
	}
	return b
}

func UnmarshalResponse(b []byte) (*ResponseMeta, error) {
	m := &ResponseMeta{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("rpcmeta: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldCorrelationID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: correlation_id: %w", protowire.ParseError(n))
			}
			m.CorrelationID = v
			b = b[n:]
		case fieldCompressType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: compress_type: %w", protowire.ParseError(n))
			}
			m.CompressType = int32(uint32(v))
			b = b[n:]
		case fieldErrorCode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: error_code: %w", protowire.ParseError(n))
			}
			m.ErrorCode = int32(uint32(v))
			b = b[n:]
		case fieldErrorText:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: error_text: %w", protowire.ParseError(n))
			}
			m.ErrorText = string(v)
			b = b[n:]
		case fieldUserMessageSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: user_message_size: %w", protowire.ParseError(n))
			}
			m.UserMessageSize = int32(uint32(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("rpcmeta: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}
