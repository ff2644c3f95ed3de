// Package reflection populates a meta.Registry from protobuf
// descriptors obtained without generated Go stubs: either parsed
// locally from .proto files, or fetched from a live peer via the
// standard gRPC reflection service. Adapted from the pack's
// protoreflect-based ammo-format reflector, repointed at our meta
// registry instead of a pool of per-ammo dynamic messages.
package reflection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
)

// Fetcher returns the method descriptors backing a dynamic meta
// registry.
type Fetcher interface {
	Fetch(ctx context.Context) ([]*desc.MethodDescriptor, error)
}

// ErrFetcher always fails with a fixed error, useful for wiring a
// Fetcher slot when reflection is disabled but the call site still
// wants a uniform interface.
type ErrFetcher struct {
	err error
}

func NewErrFetcher(err error) *ErrFetcher { return &ErrFetcher{err} }

func (f *ErrFetcher) Fetch(context.Context) ([]*desc.MethodDescriptor, error) {
	return nil, f.err
}

// CachedFetcher runs next at most once and remembers its result,
// since descriptor sets don't change for the life of a server
// process (spec §3: "registered once per server startup").
type CachedFetcher struct {
	next    Fetcher
	once    sync.Once
	methods []*desc.MethodDescriptor
	err     error
}

func NewCachedFetcher(next Fetcher) *CachedFetcher {
	return &CachedFetcher{next: next}
}

func (f *CachedFetcher) Fetch(ctx context.Context) ([]*desc.MethodDescriptor, error) {
	f.once.Do(func() {
		f.methods, f.err = f.next.Fetch(ctx)
	})
	return f.methods, f.err
}

// LocalFetcher parses .proto files off disk, the path used when a
// server has the schema on hand but no generated Go package for it
// (the JPROTOBUF encoding).
type LocalFetcher struct {
	filenames, importPaths []string
}

func NewLocalFetcher(filenames, importPaths []string) LocalFetcher {
	return LocalFetcher{filenames, importPaths}
}

func (f LocalFetcher) Fetch(context.Context) ([]*desc.MethodDescriptor, error) {
	fds, err := protoparse.Parser{
		LookupImport: desc.LoadFileDescriptor,
		ImportPaths:  f.importPaths,
	}.ParseFiles(f.filenames...)
	if err != nil {
		return nil, fmt.Errorf("reflection: parse proto files: %w", err)
	}

	var methods []*desc.MethodDescriptor
	for _, fd := range fds {
		for _, service := range fd.GetServices() {
			methods = append(methods, service.GetMethods()...)
		}
	}
	return methods, nil
}

// WarnLogger receives non-fatal warnings encountered while resolving
// a remote service list (e.g. a service advertised by reflection but
// that failed to resolve).
type WarnLogger interface {
	Println(string)
}

// RemoteFetcher asks a live peer for its service descriptors via the
// standard gRPC server reflection service (v1 or v1alpha, whichever
// grpcreflect.NewClientAuto negotiates), for clients that want to
// call a server without a generated stub.
type RemoteFetcher struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	warns   []string
}

func NewRemoteFetcher(conn *grpc.ClientConn) *RemoteFetcher {
	return &RemoteFetcher{conn: conn, timeout: 5 * time.Second}
}

func (f *RemoteFetcher) Warnings() []string { return f.warns }

func (f *RemoteFetcher) Fetch(ctx context.Context) ([]*desc.MethodDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	refClient := grpcreflect.NewClientAuto(ctx, f.conn)
	services, err := refClient.ListServices()
	if err != nil {
		return nil, fmt.Errorf("reflection: list services: %w", err)
	}

	var methods []*desc.MethodDescriptor
	for _, s := range services {
		service, err := refClient.ResolveService(s)
		if err != nil {
			f.warns = append(f.warns, "service not found: "+s)
			continue
		}
		methods = append(methods, service.GetMethods()...)
	}
	return methods, nil
}
