package push_test

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
	"github.com/brpc-go/brpc/protocol/push"
)

func registry(t *testing.T) *meta.Registry {
	t.Helper()
	reg := meta.NewRegistry()
	require.NoError(t, reg.Register(&meta.Descriptor{
		ServiceName:  "notify.NotifyService",
		MethodName:   "OnEvent",
		MethodIndex:  -1,
		RequestType:  &wrapperspb.StringValue{},
		ResponseType: &wrapperspb.StringValue{},
	}))
	return reg
}

type fakeConnContext struct{ descriptor *meta.Descriptor }

func (f fakeConnContext) PendingRequest(uint64) (*meta.Descriptor, bool) {
	return f.descriptor, f.descriptor != nil
}

func TestNormalRequestRoundTrip(t *testing.T) {
	reg := registry(t)
	codec := push.NewCodec(nil)

	req := &protocol.Request{
		LogID:       1,
		ServiceName: "notify.NotifyService",
		MethodName:  "OnEvent",
		MethodIndex: -1,
		Compression: compress.NONE,
		Args:        []proto.Message{wrapperspb.String("hi")},
	}

	encoded, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	store := buffer.New()
	store.AppendSlice(encoded)
	pkt, err := codec.Decode(store)
	require.NoError(t, err)
	require.NotNil(t, pkt.Push)
	assert.False(t, push.IsPush(pkt))

	got, err := codec.DecodeRequest(pkt, reg)
	require.NoError(t, err)
	assert.Equal(t, "notify.NotifyService", got.ServiceName)
	assert.Equal(t, "hi", got.Args[0].(*wrapperspb.StringValue).Value)
}

func TestPushRequestRoundTrip(t *testing.T) {
	reg := registry(t)
	codec := push.NewCodec(nil)

	req := &protocol.PushRequest{Request: protocol.Request{
		LogID:       2,
		ServiceName: "notify.NotifyService",
		MethodName:  "OnEvent",
		MethodIndex: -1,
		Compression: compress.NONE,
		Args:        []proto.Message{wrapperspb.String("server says hi")},
	}}

	encoded, err := codec.EncodePushRequest(req)
	require.NoError(t, err)

	store := buffer.New()
	store.AppendSlice(encoded)
	pkt, err := codec.Decode(store)
	require.NoError(t, err)
	require.NotNil(t, pkt.Push)
	assert.True(t, push.IsPush(pkt))

	got, err := codec.DecodeRequest(pkt, reg)
	require.NoError(t, err)
	assert.Equal(t, "server says hi", got.Args[0].(*wrapperspb.StringValue).Value)
}

func TestResponseRoundTrip(t *testing.T) {
	descriptor := &meta.Descriptor{
		ServiceName:  "notify.NotifyService",
		MethodName:   "OnEvent",
		MethodIndex:  -1,
		RequestType:  &wrapperspb.StringValue{},
		ResponseType: &wrapperspb.StringValue{},
	}
	codec := push.NewCodec(nil)

	resp := &protocol.Response{
		LogID:       2,
		Compression: compress.NONE,
		Result:      wrapperspb.String("ack"),
	}
	encoded, err := codec.EncodeResponse(resp)
	require.NoError(t, err)

	store := buffer.New()
	store.AppendSlice(encoded)
	pkt, err := codec.Decode(store)
	require.NoError(t, err)

	got, err := codec.DecodeResponse(pkt, fakeConnContext{descriptor: descriptor})
	require.NoError(t, err)
	assert.True(t, got.Success())
	assert.Equal(t, "ack", got.Result.(*wrapperspb.StringValue).Value)
}

func TestBadMagicSubIsFatal(t *testing.T) {
	codec := push.NewCodec(nil)
	req := &protocol.Request{
		LogID:       3,
		ServiceName: "notify.NotifyService",
		MethodName:  "OnEvent",
		MethodIndex: -1,
		Compression: compress.NONE,
		Args:        []proto.Message{wrapperspb.String("hi")},
	}
	encoded, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	// Corrupt the sub-header's magic bytes (right after the 12-byte
	// lenprefix header).
	encoded[12] = 'X'

	store := buffer.New()
	store.AppendSlice(encoded)
	_, err = codec.Decode(store)
	require.Error(t, err)
}
