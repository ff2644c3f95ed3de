// Package server implements the listener and per-connection worker
// loop the spec's core protocol layer needs to be a runnable RPC
// server (SPEC_FULL.md §2's "consuming layer", out of core scope but
// required for a runnable repo). One goroutine per accepted
// connection reads off the wire and feeds a protocol.Engine; dispatch
// itself runs on a bounded dispatch.Pool so a slow method can't stall
// that connection's read loop.
//
// The read/process pairing is the teacher's loader/reciever.Reciever.Run
// shape: errgroup.WithContext joins a reader goroutine (raw conn.Read
// into a channel) with a processor goroutine (feed the framing
// engine, dispatch decoded packets), and either side returning ends
// both via the shared context.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brpc-go/brpc/dispatch"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
)

const readBufferSize = 64 * 1024

// CodecFactory returns the candidate codecs a new connection should
// try, in detection order. Called once per accepted connection: a
// codec with per-connection state (protocol/grpc's HPACK table and
// in-flight streams) must return a fresh instance every call, since
// protocol.Engine is never safe to share across connections and
// neither is a codec that carries connection-scoped state. Static
// wraps the common case of every candidate being stateless and safe
// to reuse.
type CodecFactory func() []protocol.Codec

// Static returns a CodecFactory that hands back the same codecs slice
// on every call. Only correct for codecs with no per-connection state
// (every length-prefixed and HTTP-JSON/PB codec in this repo); do not
// use it for protocol/grpc.NewCodec, which must be constructed fresh
// per connection.
func Static(codecs ...protocol.Codec) CodecFactory {
	return func() []protocol.Codec { return codecs }
}

// Server accepts connections on a listener and dispatches decoded
// requests through an Adapter. The zero Server is not usable;
// construct with New.
type Server struct {
	registry *meta.Registry
	codecs   CodecFactory
	adapter  *dispatch.Adapter
	log      *zap.Logger
	readBufs *readBufferPool
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger sets the Server's *zap.Logger. Unset defaults to
// zap.NewNop(), matching every other component in this repo.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New returns a Server dispatching against registry (which must
// already be frozen by the caller, per spec §4.3), calling codecs
// once per accepted connection to get that connection's candidate
// list, and running every resolved invocation through adapter.
func New(registry *meta.Registry, codecs CodecFactory, adapter *dispatch.Adapter, opts ...Option) *Server {
	s := &Server{registry: registry, codecs: codecs, adapter: adapter, log: zap.NewNop(), readBufs: newReadBufferPool()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("server")
	return s
}

// Serve accepts connections from ln until ctx is canceled or Accept
// fails, running each on its own goroutine. It always returns a
// non-nil error: ctx.Err() once ctx is canceled, otherwise the Accept
// error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))

	engine := protocol.NewEngine(s.codecs(), log)
	inflight := newInflightLogIDs()
	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan []byte)

	g.Go(func() error {
		return s.process(gctx, engine, inflight, conn, ch, log)
	})
	g.Go(func() error {
		defer close(ch)
		buf := s.readBufs.acquire()
		defer s.readBufs.release(buf)
		for gctx.Err() == nil {
			n, err := conn.Read(buf)
			if err != nil {
				return err
			}
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case ch <- chunk:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug("connection closed", zap.Error(err))
	}
}

func (s *Server) process(ctx context.Context, engine *protocol.Engine, inflight *inflightLogIDs, conn net.Conn, ch <-chan []byte, log *zap.Logger) error {
	for chunk := range ch {
		decoded, err := engine.Feed(chunk)
		if err != nil {
			var perr *protocol.Error
			if errors.As(err, &perr) && perr.Kind == protocol.TooBigData {
				log.Warn("connection killed: declared body size exceeds limit",
					zap.String("limit", humanize.Bytes(uint64(protocol.MaxBodySize))))
			}
			return err
		}
		for _, d := range decoded {
			if err := s.handleOne(ctx, d, inflight, conn, log); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Server) handleOne(ctx context.Context, d protocol.Decoded, inflight *inflightLogIDs, conn net.Conn, log *zap.Logger) error {
	req, err := d.Codec.DecodeRequest(d.Packet, s.registry)
	d.Packet.Release()
	if err != nil {
		var perr *protocol.Error
		if errors.As(err, &perr) {
			log.Warn("decode request failed", zap.String("codec", d.Codec.Name()), zap.Error(err))
		}
		return err
	}

	if !inflight.add(req.LogID) {
		log.Warn("rejecting duplicate logId on open connection", zap.Uint64("logId", req.LogID))
		s.rejectDuplicate(req, d.Codec, conn, log)
		return nil
	}

	s.adapter.Submit(ctx, req, func(resp *protocol.Response, err error) {
		defer inflight.remove(req.LogID)
		if err != nil {
			log.Debug("dispatch aborted", zap.Error(err))
			return
		}
		defer resp.Release()
		out, err := d.Codec.EncodeResponse(resp)
		if err != nil {
			log.Warn("encode response failed", zap.String("codec", d.Codec.Name()), zap.Error(err))
			return
		}
		if _, err := conn.Write(out); err != nil {
			log.Debug("write response failed", zap.Error(err))
		}
	})
	return nil
}

// rejectDuplicate answers a second request carrying a LogID still
// in flight on this connection with a SERVICE_EXCEPTION response,
// without ever invoking the method a second time.
func (s *Server) rejectDuplicate(req *protocol.Request, codec protocol.Codec, conn net.Conn, log *zap.Logger) {
	defer req.Release()
	resp := &protocol.Response{
		LogID:     req.LogID,
		ErrorCode: int32(protocol.ServiceException),
		ErrorText: fmt.Sprintf("server: duplicate logId %d on open connection", req.LogID),
	}
	out, err := codec.EncodeResponse(resp)
	if err != nil {
		log.Warn("encode duplicate-logId response failed", zap.String("codec", codec.Name()), zap.Error(err))
		return
	}
	if _, err := conn.Write(out); err != nil {
		log.Debug("write duplicate-logId response failed", zap.Error(err))
	}
}
