package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/brpc-go/brpc/client"
	"github.com/brpc-go/brpc/compress"
	"github.com/brpc-go/brpc/dispatch"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
	"github.com/brpc-go/brpc/protocol/baidustd"
	"github.com/brpc-go/brpc/server"
)

func echoServer(t *testing.T) net.Listener {
	t.Helper()
	descriptor := &meta.Descriptor{
		ServiceName:  "echo.EchoService",
		MethodName:   "Echo",
		MethodIndex:  -1,
		RequestType:  &wrapperspb.StringValue{},
		ResponseType: &wrapperspb.StringValue{},
		Invoke: func(ctx meta.InvokeContext, req proto.Message) (proto.Message, error) {
			in := req.(*wrapperspb.StringValue)
			return wrapperspb.String("echo:" + in.Value), nil
		},
	}
	reg := meta.NewRegistry()
	require.NoError(t, reg.Register(descriptor))
	reg.Freeze()

	adapter := dispatch.NewAdapter(nil, dispatch.NewPool(4), nil)
	srv := server.New(reg, server.Static(baidustd.NewCodec(nil)), adapter)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, ln)
	return ln
}

func dialEcho(t *testing.T, ln net.Listener, opts ...client.Option) *client.Conn {
	t.Helper()
	conn, err := client.Dial(context.Background(), "tcp", ln.Addr().String(), baidustd.NewCodec(nil), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCallRoundTrip(t *testing.T) {
	ln := echoServer(t)
	conn := dialEcho(t, ln)

	resp, err := conn.Call(context.Background(), &protocol.Request{
		ServiceName: "echo.EchoService",
		MethodName:  "Echo",
		MethodIndex: -1,
		Compression: compress.NONE,
		Descriptor: &meta.Descriptor{
			ResponseType: &wrapperspb.StringValue{},
		},
		Args: []proto.Message{wrapperspb.String("hi")},
	})
	require.NoError(t, err)
	require.True(t, resp.Success())
	require.Equal(t, "echo:hi", resp.Result.(*wrapperspb.StringValue).Value)
}

func TestCallAssignsLogIDWhenZero(t *testing.T) {
	ln := echoServer(t)
	conn := dialEcho(t, ln)

	req := &protocol.Request{
		ServiceName: "echo.EchoService",
		MethodName:  "Echo",
		MethodIndex: -1,
		Descriptor:  &meta.Descriptor{ResponseType: &wrapperspb.StringValue{}},
		Args:        []proto.Message{wrapperspb.String("a")},
	}
	require.Equal(t, uint64(0), req.LogID)
	_, err := conn.Call(context.Background(), req)
	require.NoError(t, err)
	require.NotZero(t, req.LogID)
}

func TestCallTimesOutWithMockClock(t *testing.T) {
	// A listener that accepts but never writes back simulates a stuck
	// server without needing to sleep wall-clock time in this test.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			buf := make([]byte, 4096)
			for {
				if _, err := conn.Read(buf); err != nil {
					return
				}
			}
		}
	}()

	mockClock := clock.NewMock()
	conn := dialEcho(t, ln, client.WithClock(mockClock))

	type callOutcome struct {
		err error
	}
	done := make(chan callOutcome, 1)
	go func() {
		_, err := conn.Call(context.Background(), &protocol.Request{
			ServiceName: "echo.EchoService",
			MethodName:  "Echo",
			MethodIndex: -1,
			Descriptor:  &meta.Descriptor{ResponseType: &wrapperspb.StringValue{}},
			Args:        []proto.Message{wrapperspb.String("x")},
			ReadTimeout: 5 * time.Second,
		})
		done <- callOutcome{err: err}
	}()

	// Give the call a moment to register its timer before advancing
	// the mock clock past it.
	time.Sleep(20 * time.Millisecond)
	mockClock.Add(6 * time.Second)

	select {
	case outcome := <-done:
		require.Error(t, outcome.err)
		var perr *protocol.Error
		require.ErrorAs(t, outcome.err, &perr)
		require.Equal(t, protocol.Timeout, perr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not time out")
	}
}
