package reflection

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/protobuf/proto"

	"github.com/brpc-go/brpc/meta"
)

// DynamicMessagesStore pools a reusable *dynamic.Message per method,
// keyed by the normalized "/package.Service/Method" form, so decoding
// a JPROTOBUF request doesn't allocate a fresh dynamic message per
// call.
type DynamicMessagesStore interface {
	// Get returns nil if methodName isn't known.
	Get(methodName []byte) (message *dynamic.Message, release func())
}

type dynamicMessagesStore struct {
	items map[string]*sync.Pool
}

func (s *dynamicMessagesStore) Get(methodName []byte) (*dynamic.Message, func()) {
	pool, ok := s.items[string(methodName)]
	if !ok {
		return nil, nil
	}
	message := pool.Get().(*dynamic.Message)
	return message, func() { pool.Put(message) }
}

// NewDynamicMessagesStore pools request-type dynamic messages for
// every descriptor, to keep decode on the hot path allocation-free.
func NewDynamicMessagesStore(descriptors []*desc.MethodDescriptor) DynamicMessagesStore {
	items := make(map[string]*sync.Pool, len(descriptors))
	for _, d := range descriptors {
		d := d
		fqn := string(NormalizeMethod([]byte(d.GetFullyQualifiedName())))
		items[fqn] = &sync.Pool{New: func() interface{} {
			return dynamic.NewMessage(d.GetInputType())
		}}
	}
	return &dynamicMessagesStore{items}
}

// NormalizeMethod rewrites 'package.Service.Call' to the on-the-wire
// '/package.Service/Call' form gRPC and HTTP-JSON both use.
func NormalizeMethod(method []byte) []byte {
	if len(method) == 0 || method[0] == '/' {
		return method
	}

	ind := bytes.LastIndexByte(method, '.')
	if ind != -1 {
		method[ind] = '/'
	}
	method = append(method, 0x0)
	copy(method[1:], method)
	method[0] = '/'

	return method
}

// RegisterInto builds a meta.Descriptor for each method and adds it
// to reg under the JPROTOBUF encoding, addressed both by name and
// (service, position-in-service) index so Hulu-style clients can also
// reach a reflection-discovered method. invoke is called with the
// method's fully-qualified name and the decoded dynamic request; a
// typical invoke forwards the call over a grpc.ClientConn using
// grpcdynamic.Stub, making this the building block for a generic
// reflection-driven proxy server.
func RegisterInto(
	reg *meta.Registry,
	descriptors []*desc.MethodDescriptor,
	invoke func(ctx meta.InvokeContext, fqn string, req *dynamic.Message) (*dynamic.Message, error),
) error {
	byService := make(map[string]int)
	for _, d := range descriptors {
		d := d
		serviceName := d.GetService().GetFullyQualifiedName()
		index := byService[serviceName]
		byService[serviceName] = index + 1

		fqn := string(NormalizeMethod([]byte(d.GetFullyQualifiedName())))

		descr := &meta.Descriptor{
			ServiceName:  serviceName,
			MethodName:   d.GetName(),
			MethodIndex:  index,
			RequestType:  dynamic.NewMessage(d.GetInputType()),
			ResponseType: dynamic.NewMessage(d.GetOutputType()),
			Encoding:     meta.JPROTOBUF,
			Invoke: func(ctx meta.InvokeContext, req proto.Message) (proto.Message, error) {
				dm, ok := req.(*dynamic.Message)
				if !ok {
					return nil, fmt.Errorf("reflection: unexpected request type %T for %s", req, fqn)
				}
				return invoke(ctx, fqn, dm)
			},
		}
		if err := reg.Register(descr); err != nil {
			return err
		}
	}
	return nil
}
