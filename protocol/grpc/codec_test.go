package grpc_test

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
	"github.com/brpc-go/brpc/protocol/grpc"
)

func registry(t *testing.T) *meta.Registry {
	t.Helper()
	reg := meta.NewRegistry()
	require.NoError(t, reg.Register(&meta.Descriptor{
		ServiceName:  "example_for_cpp.EchoService",
		MethodName:   "Echo",
		MethodIndex:  -1,
		RequestType:  &wrapperspb.StringValue{},
		ResponseType: &wrapperspb.StringValue{},
	}))
	return reg
}

type fakeConnContext struct {
	descriptor *meta.Descriptor
}

func (f fakeConnContext) PendingRequest(uint64) (*meta.Descriptor, bool) {
	return f.descriptor, f.descriptor != nil
}

func TestEchoRequestRoundTrip(t *testing.T) {
	reg := registry(t)
	codec := grpc.NewCodec(nil)

	req := &protocol.Request{
		LogID:       43, // forced odd -> HTTP/2 stream id 43
		ServiceName: "example_for_cpp.EchoService",
		MethodName:  "Echo",
		MethodIndex: -1,
		Compression: compress.NONE,
		Args:        []proto.Message{wrapperspb.String("hi")},
	}

	encoded, err := codec.EncodeRequest(req)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	store := buffer.New()
	store.AppendSlice(encoded)

	pkt, err := codec.Decode(store)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	require.NotNil(t, pkt.GRPC)
	assert.Equal(t, uint32(43), pkt.GRPC.StreamID)

	got, err := codec.DecodeRequest(pkt, reg)
	require.NoError(t, err)
	assert.Equal(t, "example_for_cpp.EchoService", got.ServiceName)
	assert.Equal(t, "Echo", got.MethodName)
	require.Len(t, got.Args, 1)
	assert.Equal(t, "hi", got.Args[0].(*wrapperspb.StringValue).Value)
}

func TestEchoResponseRoundTrip(t *testing.T) {
	descriptor := &meta.Descriptor{
		ServiceName:  "example_for_cpp.EchoService",
		MethodName:   "Echo",
		MethodIndex:  -1,
		RequestType:  &wrapperspb.StringValue{},
		ResponseType: &wrapperspb.StringValue{},
	}
	server := grpc.NewCodec(nil)

	resp := &protocol.Response{
		LogID:       43,
		Compression: compress.NONE,
		Result:      wrapperspb.String("hi"),
	}
	encoded, err := server.EncodeResponse(resp)
	require.NoError(t, err)

	client := grpc.NewClientCodec(nil)
	store := buffer.New()
	store.AppendSlice(encoded)
	pkt, err := client.Decode(store)
	require.NoError(t, err)
	require.NotNil(t, pkt.GRPC)
	assert.Equal(t, "0", pkt.GRPC.Trailers["grpc-status"])

	got, err := client.DecodeResponse(pkt, fakeConnContext{descriptor: descriptor})
	require.NoError(t, err)
	assert.True(t, got.Success())
	assert.Equal(t, "hi", got.Result.(*wrapperspb.StringValue).Value)
}

func TestErrorResponseSurfacesGRPCStatus(t *testing.T) {
	server := grpc.NewCodec(nil)
	resp := &protocol.Response{
		LogID:     43,
		ErrorCode: 1001,
		ErrorText: "boom",
	}
	encoded, err := server.EncodeResponse(resp)
	require.NoError(t, err)

	client := grpc.NewClientCodec(nil)
	store := buffer.New()
	store.AppendSlice(encoded)
	pkt, err := client.Decode(store)
	require.NoError(t, err)

	got, err := client.DecodeResponse(pkt, fakeConnContext{})
	require.NoError(t, err)
	assert.False(t, got.Success())
	assert.Equal(t, "boom", got.ErrorText)
}
