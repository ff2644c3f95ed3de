package main

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/brpc-go/brpc/compress"
	"github.com/brpc-go/brpc/dispatch"
	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/protocol"
	"github.com/brpc-go/brpc/protocol/baidustd"
	"github.com/brpc-go/brpc/protocol/grpc"
	"github.com/brpc-go/brpc/protocol/hulu"
	"github.com/brpc-go/brpc/protocol/httprpc"
	"github.com/brpc-go/brpc/protocol/nshead"
	"github.com/brpc-go/brpc/protocol/push"
	"github.com/brpc-go/brpc/protocol/sofa"
	"github.com/brpc-go/brpc/server"
)

// ServeCommand starts a server.Server listening on Addr, exposing a
// single demo echo.EchoService/Echo method so the binary is runnable
// without any generated service stub. Generated stubs are out of
// core scope (spec.md §1); this is the same role the teacher's own
// example commands play for their load generator.
type ServeCommand struct {
	Addr       string       `help:"Listen address." default:":8200"`
	Protocols  []string     `help:"Protocol codecs to accept, tried per connection in this order." default:"baidustd,hulu,sofa,nshead,grpc,http,push" enum:"baidustd,hulu,sofa,nshead,grpc,http,push"`
	PoolSize   int          `help:"Max concurrent in-flight dispatches." default:"1024"`
	EchoPrefix string       `help:"Prefix the demo echo service prepends to every request." default:"echo:"`
	Reflect    ReflectProxy `embed:"" prefix:"reflect-" help:"Proxy methods discovered from .proto files to an upstream gRPC server."`
}

func echoDescriptor(prefix string) *meta.Descriptor {
	return &meta.Descriptor{
		ServiceName:  "echo.EchoService",
		MethodName:   "Echo",
		MethodIndex:  0,
		RequestType:  &wrapperspb.StringValue{},
		ResponseType: &wrapperspb.StringValue{},
		Invoke: func(ctx meta.InvokeContext, req proto.Message) (proto.Message, error) {
			in := req.(*wrapperspb.StringValue)
			return wrapperspb.String(prefix + in.Value), nil
		},
	}
}

// codecFactory builds one fresh copy of every named protocol's codec.
// protocol/grpc.Codec carries per-connection HPACK/stream state and
// must never be shared across connections (see server.CodecFactory's
// doc comment), so this runs once per accepted connection rather than
// once at startup.
func codecFactory(names []string, reg *compress.Registry) (server.CodecFactory, error) {
	for _, name := range names {
		switch strings.ToLower(name) {
		case "baidustd", "hulu", "sofa", "nshead", "grpc", "http", "push":
		default:
			return nil, fmt.Errorf("brpcd: unknown protocol %q", name)
		}
	}
	return func() []protocol.Codec {
		codecs := make([]protocol.Codec, 0, len(names))
		for _, name := range names {
			switch strings.ToLower(name) {
			case "baidustd":
				codecs = append(codecs, baidustd.NewCodec(reg))
			case "hulu":
				codecs = append(codecs, hulu.NewCodec(reg))
			case "sofa":
				codecs = append(codecs, sofa.NewCodec(reg))
			case "nshead":
				codecs = append(codecs, nshead.NewCodec(reg))
			case "grpc":
				codecs = append(codecs, grpc.NewCodec(reg))
			case "http":
				codecs = append(codecs, httprpc.NewCodec(reg, httprpc.JSON))
			case "push":
				codecs = append(codecs, push.NewCodec(reg))
			}
		}
		return codecs
	}, nil
}

func (s *ServeCommand) Run(ctx context.Context, log *zap.Logger) (err error) {
	registry := meta.NewRegistry()
	if err := registry.Register(echoDescriptor(s.EchoPrefix)); err != nil {
		return err
	}
	if s.Reflect.enabled() {
		closeUpstream, rerr := s.Reflect.registerInto(ctx, registry, log)
		if rerr != nil {
			return rerr
		}
		// Serve's own error and the upstream gRPC connection's Close
		// error are independent failures; neither should hide the
		// other the way a bare defer closeUpstream() would.
		defer func() { err = multierr.Append(err, closeUpstream()) }()
	}
	registry.Freeze()

	compressReg := compress.NewRegistry()
	factory, ferr := codecFactory(s.Protocols, compressReg)
	if ferr != nil {
		return ferr
	}

	adapter := dispatch.NewAdapter(nil, dispatch.NewPool(s.PoolSize), log)
	srv := server.New(registry, factory, adapter, server.WithLogger(log))

	ln, lerr := net.Listen("tcp", s.Addr)
	if lerr != nil {
		return fmt.Errorf("brpcd: listen %s: %w", s.Addr, lerr)
	}
	log.Info("serving",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("protocols", s.Protocols))
	return srv.Serve(ctx, ln)
}
