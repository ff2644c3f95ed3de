package interceptor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brpc-go/brpc/interceptor"
	"github.com/brpc-go/brpc/protocol"
)

func TestChainRunsOutermostFirst(t *testing.T) {
	var order []string

	mark := func(name string) interceptor.Interceptor {
		return func(ctx context.Context, req *protocol.Request, next interceptor.Handler) (*protocol.Response, error) {
			order = append(order, name+":in")
			resp, err := next(ctx, req)
			order = append(order, name+":out")
			return resp, err
		}
	}

	terminal := func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		order = append(order, "terminal")
		return &protocol.Response{LogID: req.LogID}, nil
	}

	chain := interceptor.New(mark("a"), mark("b"))
	handler := chain.Handler(terminal)

	resp, err := handler(context.Background(), &protocol.Request{LogID: 7})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), resp.LogID)
	assert.Equal(t, []string{"a:in", "b:in", "terminal", "b:out", "a:out"}, order)
}

func TestEmptyChainCallsTerminalDirectly(t *testing.T) {
	called := false
	terminal := func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		called = true
		return &protocol.Response{}, nil
	}
	handler := interceptor.New().Handler(terminal)
	_, err := handler(context.Background(), &protocol.Request{})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestInterceptorCanShortCircuit(t *testing.T) {
	deny := func(ctx context.Context, req *protocol.Request, next interceptor.Handler) (*protocol.Response, error) {
		return &protocol.Response{ErrorCode: 1, ErrorText: "denied"}, nil
	}
	terminal := func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		t.Fatal("terminal should not run")
		return nil, nil
	}
	handler := interceptor.New(deny).Handler(terminal)
	resp, err := handler(context.Background(), &protocol.Request{})
	require.NoError(t, err)
	assert.False(t, resp.Success())
	assert.Equal(t, "denied", resp.ErrorText)
}
