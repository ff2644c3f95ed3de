// Package lenprefix implements the on-wire framing shared by the
// Baidu-std, Hulu and SoFa codecs (spec §4.5.1):
//
//	[MAGIC(4)][bodySize(u32)][metaSize(u32)][meta][message(+attachment)?]
//
// Byte order is the one asymmetry between the three: Baidu-std is
// big-endian, Hulu and SoFa are little-endian (spec §4.5.1, §6
// "do not normalize"). Everything else — header size, the meta/body
// split, the userMessageSize attachment boundary — is identical, so
// the three concrete codecs share this package and differ only in
// their magic, byte order and meta-field addressing convention.
package lenprefix

import (
	"encoding/binary"

	"github.com/brpc-go/brpc/buffer"
	"github.com/brpc-go/brpc/protocol"
)

// HeaderSize is the fixed 12-byte header: 4-byte magic plus two u32 size fields.
const HeaderSize = 12

// EncodeFrame builds a full wire packet from an already-marshaled meta
// block and body (user message, optionally followed by an attachment).
func EncodeFrame(magic [4]byte, order binary.ByteOrder, metaBytes, body []byte) []byte {
	bodySize := len(metaBytes) + len(body)
	out := make([]byte, 0, HeaderSize+bodySize)
	out = append(out, magic[:]...)

	var sizeBuf [8]byte
	order.PutUint32(sizeBuf[0:4], uint32(bodySize))
	order.PutUint32(sizeBuf[4:8], uint32(len(metaBytes)))
	out = append(out, sizeBuf[:]...)

	out = append(out, metaBytes...)
	out = append(out, body...)
	return out
}

// DecodeFrame pulls one whole frame off store, matching magic and byte
// order exactly. It never consumes bytes unless it returns a packet or
// a fatal (non-NotEnoughData) error.
func DecodeFrame(store *buffer.Store, magic [4]byte, order binary.ByteOrder) (*protocol.RawPacket, error) {
	header, err := store.Peek(HeaderSize)
	if err != nil {
		return nil, protocol.ErrNotEnoughData
	}

	if header[0] != magic[0] || header[1] != magic[1] || header[2] != magic[2] || header[3] != magic[3] {
		return nil, protocol.New(protocol.BadSchema, "lenprefix: magic mismatch")
	}

	bodySize := order.Uint32(header[4:8])
	metaSize := order.Uint32(header[8:12])
	if metaSize > bodySize {
		return nil, protocol.New(protocol.BadSchema, "lenprefix: metaSize exceeds bodySize")
	}
	if bodySize > protocol.MaxBodySize {
		return nil, protocol.New(protocol.TooBigData, "lenprefix: bodySize exceeds MaxBodySize")
	}

	total := HeaderSize + int(bodySize)
	if store.ReadableBytes() < total {
		return nil, protocol.ErrNotEnoughData
	}

	if err := store.Skip(HeaderSize); err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	metaSlice, err := store.ReadRetainedSlice(int(metaSize))
	if err != nil {
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}
	bodySlice, err := store.ReadRetainedSlice(int(bodySize - metaSize))
	if err != nil {
		metaSlice.Release()
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}

	return &protocol.RawPacket{MetaBuf: metaSlice, BodyBuf: bodySlice}, nil
}

// SplitBody divides a decoded body into the user message and, if
// userMessageSize names a boundary short of the whole body, the
// trailing attachment bytes (spec §4.5.1, §8 scenario 5). A
// userMessageSize of 0 means "no attachment": the whole body is the
// message.
func SplitBody(body []byte, userMessageSize int32) (message, attachment []byte, hasAttachment bool, err error) {
	if userMessageSize <= 0 || int(userMessageSize) >= len(body) {
		return body, nil, false, nil
	}
	return body[:userMessageSize], body[userMessageSize:], true, nil
}
