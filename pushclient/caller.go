// Package pushclient gives a server a handle it can call back into a
// client through, the server-push direction of spec §4.5.4. The
// original (original_source's BrpcPushProxy) synthesizes a cglib
// subclass per user interface so a plain method call turns into an
// RPC; this repo has no such runtime code generation and instead
// exposes that same capability as a Caller struct built straight off
// a method descriptor, wrapping a *client.Conn held open to the
// target client.
package pushclient

import (
	"context"

	"google.golang.org/protobuf/proto"

	"github.com/brpc-go/brpc/client"
	"github.com/brpc-go/brpc/compress"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
)

// Caller invokes one method on a connection held open to a
// particular client, the way a BrpcPushProxy-generated stub invoked
// one method on the server that had registered it.
type Caller struct {
	conn       *client.Conn
	descriptor *meta.Descriptor
}

// NewCaller returns a Caller that pushes to descriptor's method over
// conn. conn's codec must implement EncodePushRequest (protocol/push)
// or every Invoke's Future resolves with client.ErrCodecDoesNotSupportPush.
func NewCaller(conn *client.Conn, descriptor *meta.Descriptor) *Caller {
	return &Caller{conn: conn, descriptor: descriptor}
}

// Future is the asynchronous handle Invoke returns, mirroring
// BrpcPushProxy.intercept's RpcCallback-bearing branch (there,
// a java.util.concurrent.Future; here, a channel-backed equivalent
// with no generated callback type needed).
type Future struct {
	done chan struct{}
	resp *protocol.Response
	err  error
}

// Wait blocks until the push call completes or ctx is done,
// whichever happens first.
func (f *Future) Wait(ctx context.Context) (*protocol.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, protocol.Wrap(protocol.Timeout, ctx.Err())
	}
}

// Done reports whether the push call has completed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Invoke sends args to the client as a server-push request, the way
// BrpcPushProxy.intercept builds and sends a Request for the proxied
// method. It returns immediately with a Future the caller waits on,
// instead of blocking — the spec's async contract for server-push,
// since a server can't know in advance how long a client-side
// callback will take.
func (c *Caller) Invoke(ctx context.Context, args ...proto.Message) (*Future, error) {
	if len(args) == 0 {
		return nil, protocol.New(protocol.SerializationFailure, "pushclient: invoke has no args")
	}
	req := &protocol.PushRequest{
		Request: protocol.Request{
			ServiceName: c.descriptor.ServiceName,
			MethodName:  c.descriptor.MethodName,
			MethodIndex: c.descriptor.MethodIndex,
			Compression: compress.NONE,
			Descriptor:  c.descriptor,
			Args:        args,
		},
	}

	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.resp, f.err = c.conn.CallPush(ctx, req)
	}()
	return f, nil
}
