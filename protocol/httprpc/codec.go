// Package httprpc implements the HTTP-JSON and HTTP-PROTOBUF wire
// protocols (spec §4.5.2): standard HTTP/1.1 framing, the URL path
// identifying the target service and method, content-type
// distinguishing a JSON from a protobuf body, and a small set of
// vendor headers carrying the fields the binary protocols put in
// their meta block (log id, compression, attachment length).
//
// The JSON body is marshaled with protojson rather than the pack's
// easyjson (which the kv-attachment codec in the meta package uses):
// easyjson's generated Marshal/Unmarshal methods are tied to a
// concrete Go struct known at compile time, but this codec has to
// serialize whatever proto.Message a method descriptor names at
// runtime — exactly the case protojson exists for. easyjson still
// carries the vendor kv-attachment encoding, consistent with the
// length-prefixed family.
package httprpc

import (
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/brpc-go/brpc/buffer"
	"github.com/brpc-go/brpc/compress"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
)

// BodyFormat selects JSON or protobuf wire body encoding. A Codec
// handles both simultaneously (content-type decides per message, as
// spec §4.5.2 describes); BodyFormat only controls what this Codec's
// own Encode* calls produce.
type BodyFormat int

const (
	JSON BodyFormat = iota
	PROTOBUF
)

const (
	contentTypeJSON  = "application/json"
	contentTypePB    = "application/proto"
	hdrLogID         = "x-brpc-log-id"
	hdrCompress      = "x-brpc-compress"
	hdrAttachmentLen = "x-brpc-attachment-size"
	hdrErrorCode     = "x-brpc-error-code"
	hdrErrorText     = "x-brpc-error-text"
)

// Codec implements protocol.Codec for the HTTP-JSON/HTTP-PROTOBUF
// family. Stateless and reentrant like the length-prefixed codecs —
// HTTP/1.1 has no connection-scoped decode state beyond the shared
// accumulator.
// Compress is kept for constructor symmetry with the other codecs;
// the JSON/protobuf HTTP body compresses through compress.CompressBytes
// directly (raw bytes, not a proto.Message), so a custom Registry
// entry registered here isn't consulted — only NONE/SNAPPY/GZIP/ZLIB
// are reachable over HTTP.
type Codec struct {
	Compress *compress.Registry
	Format   BodyFormat
}

// NewCodec returns an HTTP-JSON codec (Format == JSON) by default. A
// nil reg gets the default compress.Registry.
func NewCodec(reg *compress.Registry, format BodyFormat) *Codec {
	if reg == nil {
		reg = compress.NewRegistry()
	}
	return &Codec{Compress: reg, Format: format}
}

func (c *Codec) Name() string {
	if c.Format == PROTOBUF {
		return "http-protobuf"
	}
	return "http-json"
}

func (c *Codec) contentType() string {
	if c.Format == PROTOBUF {
		return contentTypePB
	}
	return contentTypeJSON
}

func (c *Codec) marshalBody(msg proto.Message) ([]byte, error) {
	if c.Format == PROTOBUF {
		return proto.Marshal(msg)
	}
	return protojson.Marshal(msg)
}

func (c *Codec) unmarshalBody(b []byte, msg proto.Message) error {
	if c.Format == PROTOBUF {
		return proto.Unmarshal(b, msg)
	}
	return protojson.Unmarshal(b, msg)
}

// --- encode ---------------------------------------------------------

func (c *Codec) EncodeRequest(req *protocol.Request) ([]byte, error) {
	if len(req.Args) == 0 {
		return nil, protocol.New(protocol.SerializationFailure, "httprpc: request has no args")
	}
	payload, err := c.marshalBody(req.Args[0])
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	if req.Compression != compress.NONE {
		payload, err = compress.CompressBytes(req.Compression, payload)
		if err != nil {
			return nil, protocol.Wrap(protocol.SerializationFailure, err)
		}
	}

	body := payload
	attachmentLen := 0
	if req.HasAttachment {
		attachmentLen = req.Attachment.Len()
		body = append(append([]byte(nil), body...), req.Attachment.Bytes()...)
	}

	var b strings.Builder
	path := "/" + req.ServiceName + "/" + req.MethodName
	fmt.Fprintf(&b, "POST %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: brpc\r\n")
	fmt.Fprintf(&b, "Content-Type: %s\r\n", c.contentType())
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(&b, "X-Brpc-Log-Id: %d\r\n", req.LogID)
	fmt.Fprintf(&b, "X-Brpc-Compress: %d\r\n", int32(req.Compression))
	if attachmentLen > 0 {
		fmt.Fprintf(&b, "X-Brpc-Attachment-Size: %d\r\n", attachmentLen)
	}
	b.WriteString("\r\n")

	return append([]byte(b.String()), body...), nil
}

func (c *Codec) EncodeResponse(resp *protocol.Response) ([]byte, error) {
	var payload []byte
	status := 200
	if resp.Success() {
		msg, err := c.marshalBody(resp.Result)
		if err != nil {
			return nil, protocol.Wrap(protocol.SerializationFailure, err)
		}
		payload = msg
		if resp.Compression != compress.NONE {
			payload, err = compress.CompressBytes(resp.Compression, payload)
			if err != nil {
				return nil, protocol.Wrap(protocol.SerializationFailure, err)
			}
		}
	} else {
		status = 500
		payload = []byte(resp.ErrorText)
	}

	body := payload
	attachmentLen := 0
	if resp.HasAttachment {
		attachmentLen = resp.Attachment.Len()
		body = append(append([]byte(nil), body...), resp.Attachment.Bytes()...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, statusText(status))
	fmt.Fprintf(&b, "Content-Type: %s\r\n", c.contentType())
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(&b, "X-Brpc-Log-Id: %d\r\n", resp.LogID)
	fmt.Fprintf(&b, "X-Brpc-Compress: %d\r\n", int32(resp.Compression))
	fmt.Fprintf(&b, "X-Brpc-Error-Code: %d\r\n", resp.ErrorCode)
	if resp.ErrorText != "" && resp.Success() {
		fmt.Fprintf(&b, "X-Brpc-Error-Text: %s\r\n", resp.ErrorText)
	}
	if attachmentLen > 0 {
		fmt.Fprintf(&b, "X-Brpc-Attachment-Size: %d\r\n", attachmentLen)
	}
	b.WriteString("\r\n")

	return append([]byte(b.String()), body...), nil
}

func statusText(code int) string {
	if code == 200 {
		return "OK"
	}
	return "Internal Server Error"
}

// --- decode -----------------------------------------------------------

func (c *Codec) Decode(store *buffer.Store) (*protocol.RawPacket, error) {
	return decodeFrame(store)
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "json")
}

func headerFirst(h map[string][]string, key string) string {
	v := h[key]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func (c *Codec) formatFor(frame *protocol.HTTPFrame) BodyFormat {
	if isJSON(headerFirst(frame.Header, "content-type")) {
		return JSON
	}
	return PROTOBUF
}

func (c *Codec) decodeBody(format BodyFormat, b []byte, msg proto.Message) error {
	if format == PROTOBUF {
		return proto.Unmarshal(b, msg)
	}
	return protojson.Unmarshal(b, msg)
}

func (c *Codec) DecodeRequest(pkt *protocol.RawPacket, reg *meta.Registry) (*protocol.Request, error) {
	if pkt.HTTP == nil || pkt.HTTP.IsResponse {
		return nil, protocol.New(protocol.SerializationFailure, "httprpc: RawPacket is not a request")
	}
	service, method, ok := splitHTTPPath(pkt.HTTP.Path)
	if !ok {
		return nil, protocol.New(protocol.SerializationFailure, "httprpc: malformed path "+pkt.HTTP.Path)
	}

	logID, _ := strconv.ParseUint(headerFirst(pkt.HTTP.Header, hdrLogID), 10, 64)
	compressType, _ := strconv.Atoi(headerFirst(pkt.HTTP.Header, hdrCompress))
	attachmentLen, _ := strconv.Atoi(headerFirst(pkt.HTTP.Header, hdrAttachmentLen))

	req := &protocol.Request{
		LogID:       logID,
		ServiceName: service,
		MethodName:  method,
		MethodIndex: -1,
		Compression: compress.Code(compressType),
	}

	descriptor, ok := reg.LookupByName(service, method)
	if !ok {
		return req, nil
	}
	req.Descriptor = descriptor

	body := pkt.BodyBuf.Bytes()
	message := body
	if attachmentLen > 0 && attachmentLen < len(body) {
		message = body[:len(body)-attachmentLen]
	}

	payload := message
	if req.Compression != compress.NONE {
		raw, err := compress.UncompressBytes(req.Compression, message)
		if err != nil {
			return nil, protocol.Wrap(protocol.SerializationFailure, err)
		}
		payload = raw
	}

	arg := descriptor.NewRequest()
	format := c.formatFor(pkt.HTTP)
	if err := c.decodeBody(format, payload, arg); err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	req.Args = []proto.Message{arg}

	if attachmentLen > 0 && attachmentLen <= len(body) {
		req.HasAttachment = true
		req.Attachment = pkt.BodyBuf.Retain().Sub(len(message), attachmentLen)
	}
	return req, nil
}

func (c *Codec) DecodeResponse(pkt *protocol.RawPacket, ctx protocol.ConnContext) (*protocol.Response, error) {
	if pkt.HTTP == nil || !pkt.HTTP.IsResponse {
		return nil, protocol.New(protocol.SerializationFailure, "httprpc: RawPacket is not a response")
	}

	logID, _ := strconv.ParseUint(headerFirst(pkt.HTTP.Header, hdrLogID), 10, 64)
	compressType, _ := strconv.Atoi(headerFirst(pkt.HTTP.Header, hdrCompress))
	errorCode, _ := strconv.Atoi(headerFirst(pkt.HTTP.Header, hdrErrorCode))
	attachmentLen, _ := strconv.Atoi(headerFirst(pkt.HTTP.Header, hdrAttachmentLen))

	resp := &protocol.Response{
		LogID:       logID,
		Compression: compress.Code(compressType),
		ErrorCode:   int32(errorCode),
	}

	body := pkt.BodyBuf.Bytes()
	if pkt.HTTP.StatusCode != 200 || resp.ErrorCode != 0 {
		resp.ErrorText = headerFirst(pkt.HTTP.Header, hdrErrorText)
		if resp.ErrorText == "" {
			resp.ErrorText = string(body)
		}
		if resp.ErrorCode == 0 {
			resp.ErrorCode = int32(protocol.ServiceException)
		}
		return resp, nil
	}

	message := body
	if attachmentLen > 0 && attachmentLen < len(body) {
		message = body[:len(body)-attachmentLen]
	}
	payload := message
	if resp.Compression != compress.NONE {
		raw, err := compress.UncompressBytes(resp.Compression, message)
		if err != nil {
			return nil, protocol.Wrap(protocol.SerializationFailure, err)
		}
		payload = raw
	}

	descriptor, ok := ctx.PendingRequest(logID)
	if !ok {
		return nil, protocol.New(protocol.ServiceException, "httprpc: response for unknown logId")
	}
	result := descriptor.NewResponse()
	format := c.formatFor(pkt.HTTP)
	if err := c.decodeBody(format, payload, result); err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	resp.Result = result

	if attachmentLen > 0 && attachmentLen <= len(body) {
		resp.HasAttachment = true
		resp.Attachment = pkt.BodyBuf.Retain().Sub(len(message), attachmentLen)
	}
	return resp, nil
}

func splitHTTPPath(path string) (service, method string, ok bool) {
	path = strings.TrimPrefix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}
