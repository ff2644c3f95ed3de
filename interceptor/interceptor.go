// Package interceptor implements the chain type shared by the server
// and client dispatch paths (SPEC_FULL.md §6, "Dispatch Adapter —
// supplemented"): a sequence of request/response wrappers generalized
// from the teacher's formats/grpc/middleware.go MiddlewareFunc, which
// wraps a model.Marshaler with a list of *model.Data transforms run
// before every MarshalAppend call. Here the thing being wrapped is an
// invocation rather than an encoder, so the shape becomes the
// idiomatic Go middleware signature: func(ctx, req, next) (*Response,
// error) instead of a pure data transform.
package interceptor

import (
	"context"

	"github.com/brpc-go/brpc/protocol"
)

// Handler invokes a request and returns its response. The innermost
// Handler in a Chain is the actual method dispatch (server side) or
// the actual wire send (client side); every other link just wraps it.
type Handler func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

// Interceptor wraps a Handler with cross-cutting behavior (logging,
// metrics, auth, retries) by calling next itself, zero or more times,
// before/after doing its own work — the same wrap-and-delegate shape
// as the teacher's middlewareEncoder.MarshalAppend loop, generalized
// from a flat slice applied in order to an explicit chain so each
// link controls whether/when it calls the next one.
type Interceptor func(ctx context.Context, req *protocol.Request, next Handler) (*protocol.Response, error)

// Chain composes a list of Interceptors around a terminal Handler.
// Chain is immutable once built: concurrent calls to Chain.Handler's
// returned Handler are safe, matching the registry's freeze-after-
// startup discipline elsewhere in this repo.
type Chain struct {
	interceptors []Interceptor
}

// New returns a Chain applying ics in the order given: the first
// Interceptor is outermost (runs first on the way in, last on the way
// out), matching the conventional Go middleware chain ordering.
func New(ics ...Interceptor) *Chain {
	return &Chain{interceptors: append([]Interceptor(nil), ics...)}
}

// Handler wraps terminal with every Interceptor in the chain, in
// order, and returns the single Handler a caller invokes.
func (c *Chain) Handler(terminal Handler) Handler {
	h := terminal
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		ic := c.interceptors[i]
		next := h
		h = func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			return ic(ctx, req, next)
		}
	}
	return h
}
