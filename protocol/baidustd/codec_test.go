package baidustd_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/brpc-go/brpc/buffer"
	"github.com/brpc-go/brpc/compress"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
	"github.com/brpc-go/brpc/protocol/baidustd"
)

func registry(t *testing.T) *meta.Registry {
	t.Helper()
	reg := meta.NewRegistry()
	require.NoError(t, reg.Register(&meta.Descriptor{
		ServiceName:  "echo.EchoService",
		MethodName:   "Echo",
		MethodIndex:  -1,
		RequestType:  &wrapperspb.StringValue{},
		ResponseType: &wrapperspb.StringValue{},
	}))
	return reg
}

func TestRoundTripRequestNoAttachment(t *testing.T) {
	reg := registry(t)
	codec := baidustd.NewCodec(nil)

	req := &protocol.Request{
		LogID:       42,
		ServiceName: "echo.EchoService",
		MethodName:  "Echo",
		MethodIndex: -1,
		Compression: compress.NONE,
		Args:        []proto.Message{&wrapperspb.StringValue{Value: "hi"}},
		TraceIDs:    []uint64{1, 2, 3},
	}

	wire, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	store := buffer.New()
	store.AppendSlice(wire)

	pkt, err := codec.Decode(store)
	require.NoError(t, err)
	defer pkt.Release()

	decoded, err := codec.DecodeRequest(pkt, reg)
	require.NoError(t, err)

	assert.Equal(t, uint64(42), decoded.LogID)
	require.NotNil(t, decoded.Descriptor)
	require.Len(t, decoded.Args, 1)
	assert.True(t, proto.Equal(&wrapperspb.StringValue{Value: "hi"}, decoded.Args[0]))
	assert.False(t, decoded.HasAttachment)
	assert.Equal(t, []uint64{1, 2, 3}, decoded.TraceIDs)
}

func TestRoundTripRequestWithAttachment(t *testing.T) {
	reg := registry(t)
	codec := baidustd.NewCodec(nil)

	att := buffer.Wrap([]byte("sixteen-byte-att"))
	req := &protocol.Request{
		ServiceName:   "echo.EchoService",
		MethodName:    "Echo",
		MethodIndex:   -1,
		Args:          []proto.Message{&wrapperspb.StringValue{Value: "hi"}},
		HasAttachment: true,
		Attachment:    att,
	}

	wire, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	store := buffer.New()
	store.AppendSlice(wire)
	pkt, err := codec.Decode(store)
	require.NoError(t, err)
	defer pkt.Release()

	decoded, err := codec.DecodeRequest(pkt, reg)
	require.NoError(t, err)
	require.True(t, decoded.HasAttachment)
	assert.Equal(t, "sixteen-byte-att", string(decoded.Attachment.Bytes()))
	decoded.Release()
}

func TestRoundTripResponse(t *testing.T) {
	codec := baidustd.NewCodec(nil)
	stub := &stubConnContext{desc: &meta.Descriptor{ResponseType: &wrapperspb.StringValue{}}}

	resp := &protocol.Response{
		LogID:       7,
		Compression: compress.NONE,
		Result:      &wrapperspb.StringValue{Value: "pong"},
	}
	wire, err := codec.EncodeResponse(resp)
	require.NoError(t, err)

	store := buffer.New()
	store.AppendSlice(wire)
	pkt, err := codec.Decode(store)
	require.NoError(t, err)
	defer pkt.Release()

	decoded, err := codec.DecodeResponse(pkt, stub)
	require.NoError(t, err)
	assert.True(t, decoded.Success())
	assert.True(t, proto.Equal(&wrapperspb.StringValue{Value: "pong"}, decoded.Result))
}

func TestDecodeAwaitsMoreBytesOnPartialFrame(t *testing.T) {
	codec := baidustd.NewCodec(nil)
	req := &protocol.Request{
		ServiceName: "echo.EchoService",
		MethodName:  "Echo",
		MethodIndex: -1,
		Args:        []proto.Message{&wrapperspb.StringValue{Value: "hi"}},
	}
	wire, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	store := buffer.New()
	store.AppendSlice(wire[:len(wire)-1])
	_, err = codec.Decode(store)
	assert.ErrorIs(t, err, protocol.ErrNotEnoughData)
}

func TestDecodeRejectsWrongMagic(t *testing.T) {
	codec := baidustd.NewCodec(nil)
	store := buffer.New()
	store.AppendSlice([]byte("HULU\x00\x00\x00\x0c\x00\x00\x00\x00ignored-body"))
	_, err := codec.Decode(store)
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.BadSchema, perr.Kind)
}

type stubConnContext struct {
	desc *meta.Descriptor
}

func (s *stubConnContext) PendingRequest(uint64) (*meta.Descriptor, bool) {
	return s.desc, true
}
