package grpc

import "time"

// Wire constants for the gRPC-over-HTTP/2 codec, adapted from the
// teacher's consts package (trimmed to what a unary-only codec
// needs; flow-control window bookkeeping is out of scope per spec
// §1's non-goal of streaming bidirectional RPC).
const (
	defaultMaxFrameSize = 16384
	defaultReadTimeout  = 11 * time.Second

	clientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
)

// grpcMessagePrefixSize is the 5-byte length-delimited message
// framing inside a DATA frame (spec §4.5.3): 1-byte compressed flag
// plus a 4-byte big-endian length.
const grpcMessagePrefixSize = 5
