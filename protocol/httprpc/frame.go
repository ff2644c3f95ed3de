package httprpc

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/brpc-go/brpc/buffer"
	"github.com/brpc-go/brpc/protocol"
)

var crlfcrlf = []byte("\r\n\r\n")

// decodeFrame parses one HTTP/1.1 message (request or response) off
// store: start-line, headers up to the blank line, and a body sized
// by Content-Length or reassembled from chunked transfer-encoding
// (spec §4.5.2). It never consumes bytes unless it returns a packet
// or a fatal error.
func decodeFrame(store *buffer.Store) (*protocol.RawPacket, error) {
	head, err := peekUntil(store, crlfcrlf)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(head), "\r\n")
	startLine := lines[0]
	header := make(map[string][]string)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, protocol.New(protocol.BadSchema, "httprpc: malformed header line")
		}
		name := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		key := strings.ToLower(name)
		header[key] = append(header[key], val)
	}

	frame, err := parseStartLine(startLine)
	if err != nil {
		return nil, err
	}
	frame.Header = header

	headerLen := len(head) + len(crlfcrlf)

	if isChunked(header) {
		body, wireLen, err := decodeChunkedFrom(store, headerLen)
		if err != nil {
			return nil, err
		}
		if err := store.Skip(headerLen + wireLen); err != nil {
			return nil, protocol.Wrap(protocol.SerializationFailure, err)
		}
		return &protocol.RawPacket{MetaBuf: buffer.Wrap(nil), BodyBuf: buffer.Wrap(body), HTTP: frame}, nil
	}

	contentLength := contentLengthOf(header)
	if contentLength > protocol.MaxBodySize {
		return nil, protocol.New(protocol.TooBigData, "httprpc: Content-Length exceeds MaxBodySize")
	}
	total := headerLen + contentLength
	if store.ReadableBytes() < total {
		return nil, protocol.ErrNotEnoughData
	}
	if err := store.Skip(headerLen); err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	slice, err := store.ReadRetainedSlice(contentLength)
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	return &protocol.RawPacket{MetaBuf: buffer.Wrap(nil), BodyBuf: slice, HTTP: frame}, nil
}

func parseStartLine(line string) (*protocol.HTTPFrame, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, protocol.New(protocol.BadSchema, "httprpc: malformed start line")
	}
	if strings.HasPrefix(fields[0], "HTTP/") {
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, protocol.New(protocol.BadSchema, "httprpc: malformed status code")
		}
		return &protocol.HTTPFrame{IsResponse: true, StatusCode: code}, nil
	}
	if !isHTTPMethod(fields[0]) || len(fields) < 3 || !strings.HasPrefix(fields[2], "HTTP/") {
		return nil, protocol.New(protocol.BadSchema, "httprpc: not an HTTP/1.1 request line")
	}
	return &protocol.HTTPFrame{Method: fields[0], Path: fields[1]}, nil
}

func isHTTPMethod(m string) bool {
	switch m {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
		return true
	default:
		return false
	}
}

func contentLengthOf(header map[string][]string) int {
	v := header["content-length"]
	if len(v) == 0 {
		return 0
	}
	n, err := strconv.Atoi(v[0])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func isChunked(header map[string][]string) bool {
	for _, v := range header["transfer-encoding"] {
		if strings.EqualFold(strings.TrimSpace(v), "chunked") {
			return true
		}
	}
	return false
}

// peekUntil returns the bytes up to (not including) the first
// occurrence of sep, without consuming them. ErrNotEnoughData if sep
// hasn't arrived yet.
func peekUntil(store *buffer.Store, sep []byte) ([]byte, error) {
	// Bound the header scan the same way this codec bounds bodies,
	// so a peer that never sends a blank line can't grow the
	// accumulator without limit.
	const maxHeaderScan = 64 * 1024
	n := store.ReadableBytes()
	if n > maxHeaderScan {
		n = maxHeaderScan
	}
	if n == 0 {
		return nil, protocol.ErrNotEnoughData
	}
	chunk, err := store.Peek(n)
	if err != nil {
		return nil, protocol.ErrNotEnoughData
	}
	idx := bytes.Index(chunk, sep)
	if idx < 0 {
		if n >= maxHeaderScan {
			return nil, protocol.New(protocol.BadSchema, "httprpc: header block exceeds scan limit")
		}
		return nil, protocol.ErrNotEnoughData
	}
	return chunk[:idx], nil
}

// decodeChunkedFrom reassembles a chunked body that starts headerLen
// bytes into store, returning the joined payload and the number of
// bytes the whole chunked body (including size lines and the final
// 0-size terminator) occupies on the wire.
func decodeChunkedFrom(store *buffer.Store, headerLen int) ([]byte, int, error) {
	readable := store.ReadableBytes() - headerLen
	if readable < 0 {
		return nil, 0, protocol.ErrNotEnoughData
	}
	raw, err := store.RetainedSlice(headerLen, readable)
	if err != nil {
		return nil, 0, protocol.ErrNotEnoughData
	}
	defer raw.Release()
	buf := raw.Bytes()

	var out []byte
	pos := 0
	for {
		lineEnd := bytes.Index(buf[pos:], []byte("\r\n"))
		if lineEnd < 0 {
			return nil, 0, protocol.ErrNotEnoughData
		}
		sizeLine := string(buf[pos : pos+lineEnd])
		if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeLine = sizeLine[:idx]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			return nil, 0, protocol.New(protocol.BadSchema, "httprpc: malformed chunk size")
		}
		pos += lineEnd + 2
		if size > protocol.MaxBodySize {
			return nil, 0, protocol.New(protocol.TooBigData, "httprpc: chunk size exceeds MaxBodySize")
		}
		if pos+int(size)+2 > len(buf) {
			return nil, 0, protocol.ErrNotEnoughData
		}
		if size == 0 {
			pos += 2
			break
		}
		out = append(out, buf[pos:pos+int(size)]...)
		pos += int(size) + 2
	}
	return out, pos, nil
}
