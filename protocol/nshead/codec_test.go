package nshead_test

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
	"github.com/brpc-go/brpc/protocol/nshead"
)

func registry(t *testing.T) *meta.Registry {
	t.Helper()
	reg := meta.NewRegistry()
	require.NoError(t, reg.Register(&meta.Descriptor{
		ServiceName:  "echo.EchoService",
		MethodName:   "Echo",
		MethodIndex:  -1,
		NSHead:       &meta.NSHeadMeta{Provider: "echo-provider", PacketType: 7},
		RequestType:  &wrapperspb.StringValue{},
		ResponseType: &wrapperspb.StringValue{},
	}))
	return reg
}

func TestRoundTripRequestRoutesByProviderAndPacketType(t *testing.T) {
	reg := registry(t)
	codec := nshead.NewCodec(nil)

	req := &protocol.Request{
		LogID: 42,
		Descriptor: &meta.Descriptor{
			NSHead: &meta.NSHeadMeta{Provider: "echo-provider", PacketType: 7},
		},
		Compression: compress.NONE,
		Args:        []proto.Message{&wrapperspb.StringValue{Value: "hi"}},
		TraceIDs:    []uint64{9, 8},
	}

	wire, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	store := buffer.New()
	store.AppendSlice(wire)

	pkt, err := codec.Decode(store)
	require.NoError(t, err)
	defer pkt.Release()
	require.NotNil(t, pkt.NSHead)
	assert.Equal(t, "echo-provider", pkt.NSHead.Provider)
	assert.Equal(t, uint32(7), pkt.NSHead.PacketType)

	decoded, err := codec.DecodeRequest(pkt, reg)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), decoded.LogID)
	require.NotNil(t, decoded.Descriptor)
	assert.Equal(t, "echo.EchoService", decoded.ServiceName)
	require.Len(t, decoded.Args, 1)
	assert.True(t, proto.Equal(&wrapperspb.StringValue{Value: "hi"}, decoded.Args[0]))
	assert.False(t, decoded.HasAttachment)
	assert.Equal(t, []uint64{9, 8}, decoded.TraceIDs)
}

func TestRoundTripRequestWithAttachment(t *testing.T) {
	codec := nshead.NewCodec(nil)
	att := buffer.Wrap([]byte("attached-bytes"))

	req := &protocol.Request{
		Descriptor: &meta.Descriptor{
			NSHead: &meta.NSHeadMeta{Provider: "echo-provider", PacketType: 7},
		},
		Compression:   compress.NONE,
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

	decoded, err := codec.DecodeRequest(pkt, registry(t))
	require.NoError(t, err)
	require.True(t, decoded.HasAttachment)
	assert.Equal(t, "attached-bytes", string(decoded.Attachment.Bytes()))
	decoded.Release()
}

func TestEncodeRequestRejectsMissingNSHeadMetadata(t *testing.T) {
	codec := nshead.NewCodec(nil)
	_, err := codec.EncodeRequest(&protocol.Request{
		Args: []proto.Message{&wrapperspb.StringValue{Value: "hi"}},
	})
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.SerializationFailure, perr.Kind)
}

func TestRoundTripResponseViaEncodeResponseFor(t *testing.T) {
	codec := nshead.NewCodec(nil)
	stub := &stubConnContext{desc: &meta.Descriptor{ResponseType: &wrapperspb.StringValue{}}}

	resp := &protocol.Response{
		LogID:       7,
		Compression: compress.NONE,
		Result:      &wrapperspb.StringValue{Value: "pong"},
	}
	wire, err := codec.EncodeResponseFor(resp, "echo-provider", 7)
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

func TestEncodeResponseIsUnsupportedDirectly(t *testing.T) {
	codec := nshead.NewCodec(nil)
	_, err := codec.EncodeResponse(&protocol.Response{})
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.SerializationFailure, perr.Kind)
}

func TestDecodeAwaitsMoreBytesOnPartialFrame(t *testing.T) {
	codec := nshead.NewCodec(nil)
	req := &protocol.Request{
		Descriptor: &meta.Descriptor{
			NSHead: &meta.NSHeadMeta{Provider: "echo-provider", PacketType: 7},
		},
		Args: []proto.Message{&wrapperspb.StringValue{Value: "hi"}},
	}
	wire, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	store := buffer.New()
	store.AppendSlice(wire[:len(wire)-1])
	_, err = codec.Decode(store)
	assert.ErrorIs(t, err, protocol.ErrNotEnoughData)
}

func TestDecodeRejectsWrongMagic(t *testing.T) {
	codec := nshead.NewCodec(nil)
	store := buffer.New()
	bad := make([]byte, nshead.HeaderSize)
	copy(bad, "BADMAG")
	store.AppendSlice(bad)
	_, err := codec.Decode(store)
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.BadSchema, perr.Kind)
}

func TestDecodeRequestUnroutedProviderReturnsBareRequest(t *testing.T) {
	codec := nshead.NewCodec(nil)
	req := &protocol.Request{
		LogID: 1,
		Descriptor: &meta.Descriptor{
			NSHead: &meta.NSHeadMeta{Provider: "unknown-provider", PacketType: 99},
		},
		Args: []proto.Message{&wrapperspb.StringValue{Value: "hi"}},
	}
	wire, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	store := buffer.New()
	store.AppendSlice(wire)
	pkt, err := codec.Decode(store)
	require.NoError(t, err)
	defer pkt.Release()

	decoded, err := codec.DecodeRequest(pkt, registry(t))
	require.NoError(t, err)
	assert.Nil(t, decoded.Descriptor)
	assert.Equal(t, uint64(1), decoded.LogID)
}

type stubConnContext struct {
	desc *meta.Descriptor
}

func (s *stubConnContext) PendingRequest(uint64) (*meta.Descriptor, bool) {
	return s.desc, true
}
