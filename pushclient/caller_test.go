package pushclient_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/brpc-go/brpc/buffer"
	"github.com/brpc-go/brpc/client"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
	"github.com/brpc-go/brpc/protocol/push"
	"github.com/brpc-go/brpc/pushclient"
)

// fakeClient plays the role of the client side of the connection: it
// accepts one connection, decodes the server-push request, and
// answers with a canned response. A real client would invoke its
// registered callback instead of echoing args[0].
func fakeClient(t *testing.T, ln net.Listener, reg *meta.Registry, codec *push.Codec) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	store := buffer.New()
	buf := make([]byte, 4096)
	var req *protocol.Request
	for req == nil {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		store.AppendSlice(append([]byte(nil), buf[:n]...))
		pkt, err := codec.Decode(store)
		if err != nil {
			continue
		}
		require.True(t, push.IsPush(pkt))
		req, err = codec.DecodeRequest(pkt, reg)
		pkt.Release()
		require.NoError(t, err)
	}

	resp := &protocol.Response{
		LogID:  req.LogID,
		Result: wrapperspb.String("ack:" + req.Args[0].(*wrapperspb.StringValue).Value),
	}
	out, err := codec.EncodeResponse(resp)
	require.NoError(t, err)
	_, err = conn.Write(out)
	require.NoError(t, err)
}

func TestInvokeDeliversPushRequestAndWaitsForResponse(t *testing.T) {
	descriptor := &meta.Descriptor{
		ServiceName:  "push.ClientCallback",
		MethodName:   "Notify",
		MethodIndex:  -1,
		RequestType:  &wrapperspb.StringValue{},
		ResponseType: &wrapperspb.StringValue{},
	}
	reg := meta.NewRegistry()
	require.NoError(t, reg.Register(descriptor))
	reg.Freeze()

	codec := push.NewCodec(nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go fakeClient(t, ln, reg, codec)

	conn, err := client.Dial(context.Background(), "tcp", ln.Addr().String(), codec)
	require.NoError(t, err)
	defer conn.Close()

	caller := pushclient.NewCaller(conn, descriptor)
	future, err := caller.Invoke(context.Background(), wrapperspb.String("hello"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := future.Wait(ctx)
	require.NoError(t, err)
	require.True(t, resp.Success())
	require.Equal(t, "ack:hello", resp.Result.(*wrapperspb.StringValue).Value)
}

func TestInvokeRejectsEmptyArgs(t *testing.T) {
	descriptor := &meta.Descriptor{ServiceName: "svc", MethodName: "m", MethodIndex: -1}
	codec := push.NewCodec(nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := client.Dial(context.Background(), "tcp", ln.Addr().String(), codec)
	require.NoError(t, err)
	defer conn.Close()

	caller := pushclient.NewCaller(conn, descriptor)
	_, err = caller.Invoke(context.Background())
	require.Error(t, err)
}

func TestCallPushFailsWithoutPushCapableCodec(t *testing.T) {
	descriptor := &meta.Descriptor{ServiceName: "svc", MethodName: "m", MethodIndex: -1}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	var stubCodec protocol.Codec = stubNonPushCodec{}
	conn, err := client.Dial(context.Background(), "tcp", ln.Addr().String(), stubCodec)
	require.NoError(t, err)
	defer conn.Close()

	caller := pushclient.NewCaller(conn, descriptor)
	future, err := caller.Invoke(context.Background(), wrapperspb.String("x"))
	require.NoError(t, err)
	_, err = future.Wait(context.Background())
	require.ErrorIs(t, err, client.ErrCodecDoesNotSupportPush)
}

type stubNonPushCodec struct{}

func (stubNonPushCodec) Name() string { return "stub" }
func (stubNonPushCodec) EncodeRequest(*protocol.Request) ([]byte, error) {
	return nil, nil
}
func (stubNonPushCodec) EncodeResponse(*protocol.Response) ([]byte, error) {
	return nil, nil
}
func (stubNonPushCodec) Decode(*buffer.Store) (*protocol.RawPacket, error) {
	return nil, protocol.ErrNotEnoughData
}
func (stubNonPushCodec) DecodeRequest(*protocol.RawPacket, *meta.Registry) (*protocol.Request, error) {
	return nil, nil
}
func (stubNonPushCodec) DecodeResponse(*protocol.RawPacket, protocol.ConnContext) (*protocol.Response, error) {
	return nil, nil
}
