package main

import (
	"context"
	"fmt"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"go.uber.org/zap"
	googlegrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/brpc-go/brpc/meta"
	"github.com/brpc-go/brpc/meta/reflection"
)

// ReflectProxy lets brpcd expose methods it has never seen a
// generated Go stub for: parse their signatures from .proto files on
// disk and forward every call to a live upstream gRPC server via
// jhump/protoreflect's dynamic client, the "typical invoke" usage
// meta/reflection.RegisterInto's doc comment describes.
type ReflectProxy struct {
	ProtoFiles  []string `help:"Proto files describing the methods to proxy." optional:""`
	ImportPaths []string `help:"Import paths for resolving proto file dependencies." optional:""`
	Upstream    string   `help:"Upstream gRPC address every reflected method forwards to." optional:""`
}

func (r ReflectProxy) enabled() bool { return len(r.ProtoFiles) > 0 }

// registerInto fetches method descriptors from r.ProtoFiles and adds
// one meta.Descriptor per method to reg, each proxying to r.Upstream
// over a plain insecure gRPC connection (this is a development tool,
// not a production proxy; mutual TLS setup belongs to the caller's
// own deployment, same as spec.md's non-goals around connection
// security).
func (r ReflectProxy) registerInto(ctx context.Context, reg *meta.Registry, log *zap.Logger) (func() error, error) {
	fetcher := reflection.NewCachedFetcher(reflection.NewLocalFetcher(r.ProtoFiles, r.ImportPaths))
	methods, err := fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("brpcd: reflect-proxy: %w", err)
	}

	conn, err := googlegrpc.NewClient(r.Upstream, googlegrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("brpcd: reflect-proxy: dial upstream %s: %w", r.Upstream, err)
	}
	stub := grpcdynamic.NewStub(conn)

	invoke := func(ic meta.InvokeContext, fqn string, req *dynamic.Message) (*dynamic.Message, error) {
		md, ok := methodByFQN(methods, fqn)
		if !ok {
			return nil, fmt.Errorf("brpcd: reflect-proxy: unknown method %s", fqn)
		}
		// dispatch.Adapter's InvokeContext carries the call's deadline-
		// bound context under this extra accessor; fall back to
		// context.Background for any other InvokeContext implementation.
		callCtx := context.Background()
		if withCtx, ok := ic.(interface{ Context() context.Context }); ok {
			callCtx = withCtx.Context()
		}
		resp, err := stub.InvokeRpc(callCtx, md, req)
		if err != nil {
			return nil, err
		}
		dm, ok := resp.(*dynamic.Message)
		if !ok {
			return nil, fmt.Errorf("brpcd: reflect-proxy: unexpected response type %T for %s", resp, fqn)
		}
		return dm, nil
	}

	if err := reflection.RegisterInto(reg, methods, invoke); err != nil {
		return nil, fmt.Errorf("brpcd: reflect-proxy: register methods: %w", err)
	}
	log.Info("reflect-proxy enabled", zap.Int("methods", len(methods)), zap.String("upstream", r.Upstream))
	return conn.Close, nil
}

func methodByFQN(methods []*desc.MethodDescriptor, fqn string) (*desc.MethodDescriptor, bool) {
	for _, m := range methods {
		if string(reflection.NormalizeMethod([]byte(m.GetFullyQualifiedName()))) == fqn {
			return m, true
		}
	}
	return nil, false
}
