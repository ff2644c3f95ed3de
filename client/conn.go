// Package client implements the RPC client stub (SPEC_FULL.md §2's
// consuming layer): one Conn per callee connection, a correlation-id
// keyed future map so responses can arrive out of order relative to
// requests, and a client-side interceptor.Chain wrapping every Call.
//
// The read/write pump pairing follows the same errgroup shape as
// server.Server's per-connection loop, itself grounded on the
// teacher's loader/reciever.Reciever.Run. The pending-call future map
// is this repo's own addition — the teacher has no client/request
// correlation concept since it only ever sends ammo and reads
// responses inline — grounded instead on the classic Go RPC client
// shape (HuSharp-Go-practice / chromon-violifer's GeeRPC Client.seq /
// Client.pending map), adapted to this repo's logId-keyed Request
// rather than a sequence number.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brpc-go/brpc/interceptor"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
)

const readBufferSize = 64 * 1024

// ErrConnClosed is the close cause recorded when the Conn's pumps
// exit without an error of their own. Once the Conn is closed, Call
// returns the recorded cause, which is ErrConnClosed only in that case.
var ErrConnClosed = errors.New("client: connection closed")

type pendingCall struct {
	descriptor *meta.Descriptor
	result     chan callResult
}

type callResult struct {
	resp *protocol.Response
	err  error
}

// Conn is one connection to one callee, speaking a single protocol
// codec. Safe for concurrent Call invocations.
type Conn struct {
	conn  net.Conn
	codec protocol.Codec
	chain *interceptor.Chain
	clock clock.Clock
	log   *zap.Logger

	nextLogID uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall

	writeCh chan []byte

	closed   chan struct{}
	closeErr error
	once     sync.Once
}

// Option configures a Conn at construction time.
type Option func(*Conn)

// WithLogger sets the Conn's *zap.Logger. Unset defaults to zap.NewNop().
func WithLogger(log *zap.Logger) Option {
	return func(c *Conn) { c.log = log }
}

// WithChain sets the client-side interceptor chain wrapping every Call.
func WithChain(chain *interceptor.Chain) Option {
	return func(c *Conn) { c.chain = chain }
}

// WithClock overrides the Conn's clock.Clock, for deterministic
// timeout tests (clock.NewMock()) instead of wall-clock sleeps.
func WithClock(cl clock.Clock) Option {
	return func(c *Conn) { c.clock = cl }
}

// Dial connects to addr over network and starts the Conn's read and
// write pumps. The caller must call Close when done.
func Dial(ctx context.Context, network, addr string, codec protocol.Codec, opts ...Option) (*Conn, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return newConn(conn, codec, opts...), nil
}

func newConn(conn net.Conn, codec protocol.Codec, opts ...Option) *Conn {
	c := &Conn{
		conn:    conn,
		codec:   codec,
		chain:   interceptor.New(),
		clock:   clock.New(),
		log:     zap.NewNop(),
		pending: make(map[uint64]*pendingCall),
		writeCh: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("client")
	go c.run()
	return c
}

func (c *Conn) run() {
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return c.readPump(ctx) })
	g.Go(func() error { return c.writePump(ctx) })
	err := g.Wait()
	c.fail(err)
}

func (c *Conn) readPump(ctx context.Context) error {
	engine := protocol.NewEngine([]protocol.Codec{c.codec}, c.log)
	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := c.conn.Read(buf)
		if err != nil {
			return err
		}
		decoded, err := engine.Feed(append([]byte(nil), buf[:n]...))
		if err != nil {
			return err
		}
		for _, d := range decoded {
			c.deliver(d)
		}
	}
	return ctx.Err()
}

func (c *Conn) deliver(d protocol.Decoded) {
	resp, err := c.codec.DecodeResponse(d.Packet, c)
	d.Packet.Release()
	if err != nil {
		c.log.Warn("decode response failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	call, ok := c.pending[resp.LogID]
	if ok {
		delete(c.pending, resp.LogID)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Debug("response for unknown logId", zap.Uint64("logId", resp.LogID))
		return
	}
	call.result <- callResult{resp: resp}
}

func (c *Conn) writePump(ctx context.Context) error {
	for {
		select {
		case b := <-c.writeCh:
			if _, err := c.conn.Write(b); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PendingRequest implements protocol.ConnContext: it looks up, without
// removing, the method descriptor a logID was dispatched with, so a
// codec's DecodeResponse knows which response type to decode into. The
// entry is removed when the decoded response is delivered.
func (c *Conn) PendingRequest(logID uint64) (*meta.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[logID]
	if !ok {
		return nil, false
	}
	return call.descriptor, true
}

// Call sends req and blocks for its matching response, honoring
// ctx's cancellation/deadline. A zero req.LogID is assigned a fresh
// correlation id; the caller should leave it zero. Call runs through
// the Conn's interceptor chain.
func (c *Conn) Call(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	handler := c.chain.Handler(c.send)
	return handler(ctx, req)
}

func (c *Conn) send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return c.sendEncoded(ctx, req, c.codec.EncodeRequest)
}

// pushEncoder is implemented by codecs that support server-originated
// push requests (protocol/push.Codec); checked with a type assertion
// since EncodePushRequest has no slot in the protocol.Codec interface
// every other codec implements.
type pushEncoder interface {
	EncodePushRequest(*protocol.PushRequest) ([]byte, error)
}

// ErrCodecDoesNotSupportPush is returned by CallPush when the Conn
// wasn't dialed with a codec implementing EncodePushRequest.
var ErrCodecDoesNotSupportPush = errors.New("client: codec does not support server push")

// CallPush sends req as a server-originated push request (spec
// §4.5.4: the server side of a connection calling back into a
// client-registered method) and blocks for the matching response,
// the same way Call does for an ordinary client-originated request.
// It runs through the same interceptor chain as Call.
func (c *Conn) CallPush(ctx context.Context, req *protocol.PushRequest) (*protocol.Response, error) {
	pusher, ok := c.codec.(pushEncoder)
	if !ok {
		return nil, ErrCodecDoesNotSupportPush
	}
	handler := c.chain.Handler(func(ctx context.Context, r *protocol.Request) (*protocol.Response, error) {
		return c.sendEncoded(ctx, r, func(*protocol.Request) ([]byte, error) {
			return pusher.EncodePushRequest(req)
		})
	})
	return handler(ctx, &req.Request)
}

func (c *Conn) sendEncoded(ctx context.Context, req *protocol.Request, encode func(*protocol.Request) ([]byte, error)) (*protocol.Response, error) {
	select {
	case <-c.closed:
		return nil, c.closeErrOrDefault()
	default:
	}

	if req.LogID == 0 {
		req.LogID = atomic.AddUint64(&c.nextLogID, 1)
	}

	result := make(chan callResult, 1)
	c.mu.Lock()
	c.pending[req.LogID] = &pendingCall{descriptor: req.Descriptor, result: result}
	c.mu.Unlock()

	encoded, err := encode(req)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.LogID)
		c.mu.Unlock()
		return nil, protocol.Wrap(protocol.SerializationFailure, err)
	}

	select {
	case c.writeCh <- encoded:
	case <-c.closed:
		c.mu.Lock()
		delete(c.pending, req.LogID)
		c.mu.Unlock()
		return nil, c.closeErrOrDefault()
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.LogID)
		c.mu.Unlock()
		return nil, protocol.Wrap(protocol.Timeout, ctx.Err())
	}

	// req.ReadTimeout bounds the wait with the Conn's injectable clock
	// rather than a bare ctx deadline, so timeout tests can advance a
	// clock.Mock instead of sleeping wall-clock time.
	if req.ReadTimeout > 0 {
		timer := c.clock.Timer(req.ReadTimeout)
		defer timer.Stop()
		select {
		case r := <-result:
			return r.resp, r.err
		case <-timer.C:
			c.mu.Lock()
			delete(c.pending, req.LogID)
			c.mu.Unlock()
			return nil, protocol.New(protocol.Timeout, "client: call timed out")
		case <-c.closed:
			c.mu.Lock()
			delete(c.pending, req.LogID)
			c.mu.Unlock()
			return nil, c.closeErrOrDefault()
		case <-ctx.Done():
			c.mu.Lock()
			delete(c.pending, req.LogID)
			c.mu.Unlock()
			return nil, protocol.Wrap(protocol.Timeout, ctx.Err())
		}
	}

	select {
	case r := <-result:
		return r.resp, r.err
	case <-c.closed:
		c.mu.Lock()
		delete(c.pending, req.LogID)
		c.mu.Unlock()
		return nil, c.closeErrOrDefault()
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.LogID)
		c.mu.Unlock()
		return nil, protocol.Wrap(protocol.Timeout, ctx.Err())
	}
}

func (c *Conn) fail(err error) {
	c.once.Do(func() {
		if err == nil {
			err = ErrConnClosed
		}
		c.closeErr = err
		close(c.closed)
		c.conn.Close()

		c.mu.Lock()
		pending := c.pending
		c.pending = make(map[uint64]*pendingCall)
		c.mu.Unlock()
		for _, call := range pending {
			call.result <- callResult{err: protocol.Wrap(protocol.NetworkError, err)}
		}
	})
}

func (c *Conn) closeErrOrDefault() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrConnClosed
}

// Close shuts the connection down and fails every pending call with a
// NETWORK_ERROR wrapping "client: closed by caller".
func (c *Conn) Close() error {
	c.fail(fmt.Errorf("client: closed by caller"))
	return nil
}
