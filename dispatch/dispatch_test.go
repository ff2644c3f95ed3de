package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/brpc-go/brpc/dispatch"
	"github.com/brpc-go/brpc/interceptor"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
)

func echoDescriptor() *meta.Descriptor {
	return &meta.Descriptor{
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
}

func TestDispatchInvokesMethod(t *testing.T) {
	adapter := dispatch.NewAdapter(nil, nil, nil)
	req := &protocol.Request{
		LogID:      1,
		Descriptor: echoDescriptor(),
		Args:       []proto.Message{wrapperspb.String("hi")},
	}

	resp, err := adapter.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Success())
	assert.Equal(t, "echo:hi", resp.Result.(*wrapperspb.StringValue).Value)
}

func TestDispatchUnresolvedMethodIsServiceException(t *testing.T) {
	adapter := dispatch.NewAdapter(nil, nil, nil)
	req := &protocol.Request{LogID: 2, ServiceName: "echo.EchoService", MethodName: "Missing"}

	resp, err := adapter.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success())
	assert.Equal(t, int32(protocol.ServiceException), resp.ErrorCode)
}

func TestDispatchMethodErrorBecomesServiceException(t *testing.T) {
	descriptor := echoDescriptor()
	descriptor.Invoke = func(ctx meta.InvokeContext, req proto.Message) (proto.Message, error) {
		return nil, errors.New("boom")
	}
	adapter := dispatch.NewAdapter(nil, nil, nil)
	req := &protocol.Request{LogID: 3, Descriptor: descriptor, Args: []proto.Message{wrapperspb.String("x")}}

	resp, err := adapter.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success())
	assert.Equal(t, "boom", resp.ErrorText)
}

func TestDispatchTimeoutCancelsCall(t *testing.T) {
	descriptor := echoDescriptor()
	descriptor.Invoke = func(ctx meta.InvokeContext, req proto.Message) (proto.Message, error) {
		<-ctx.(interface{ Context() context.Context }).Context().Done()
		return nil, ctx.(interface{ Context() context.Context }).Context().Err()
	}
	adapter := dispatch.NewAdapter(nil, nil, nil)
	req := &protocol.Request{
		LogID:       4,
		Descriptor:  descriptor,
		Args:        []proto.Message{wrapperspb.String("x")},
		ReadTimeout: 10 * time.Millisecond,
	}

	_, err := adapter.Dispatch(context.Background(), req)
	require.Error(t, err)
	var perr *protocol.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, protocol.Timeout, perr.Kind)
}

func TestDispatchRunsThroughInterceptorChain(t *testing.T) {
	var ran bool
	ic := func(ctx context.Context, req *protocol.Request, next interceptor.Handler) (*protocol.Response, error) {
		ran = true
		return next(ctx, req)
	}
	adapter := dispatch.NewAdapter(interceptor.New(ic), nil, nil)
	req := &protocol.Request{LogID: 5, Descriptor: echoDescriptor(), Args: []proto.Message{wrapperspb.String("y")}}

	resp, err := adapter.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "echo:y", resp.Result.(*wrapperspb.StringValue).Value)
}

func TestSubmitRunsOnPoolGoroutine(t *testing.T) {
	adapter := dispatch.NewAdapter(nil, dispatch.NewPool(2), nil)
	req := &protocol.Request{LogID: 6, Descriptor: echoDescriptor(), Args: []proto.Message{wrapperspb.String("z")}}

	done := make(chan *protocol.Response, 1)
	adapter.Submit(context.Background(), req, func(resp *protocol.Response, err error) {
		require.NoError(t, err)
		done <- resp
	})

	select {
	case resp := <-done:
		assert.Equal(t, "echo:z", resp.Result.(*wrapperspb.StringValue).Value)
	case <-time.After(time.Second):
		t.Fatal("submit did not complete")
	}
}
