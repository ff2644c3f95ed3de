// Package meta implements the meta registry: the map from
// (service name, method name or method index) to an invocable
// descriptor (spec §4.3), plus the kv-attachment codec shared by the
// length-prefixed protocol family.
package meta

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
)

// Encoding names how a method's request/response bodies are carried
// on the wire, mirroring spec §3's method descriptor.
type Encoding int

const (
	// PROTOBUF is a generated protobuf message, the Baidu-std/Hulu/SoFa/gRPC default.
	PROTOBUF Encoding = iota
	// JPROTOBUF is a protobuf schema addressed through reflection
	// (github.com/jhump/protoreflect dynamic messages) instead of
	// generated Go types, used by the HTTP-JSON codec when no
	// generated stub is linked in.
	JPROTOBUF
	// POJO is a plain, non-protobuf request/response pair (JSON body
	// with no schema validation beyond struct tags).
	POJO
)

func (e Encoding) String() string {
	switch e {
	case PROTOBUF:
		return "PROTOBUF"
	case JPROTOBUF:
		return "JPROTOBUF"
	case POJO:
		return "POJO"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// NSHeadMeta carries the extra routing metadata an NSHead-addressed
// method needs (spec §4.5.4): NSHead has no service/method strings on
// the wire, so servers configure which descriptor a given (provider,
// packetType) pair maps to out of band.
type NSHeadMeta struct {
	Provider   string
	PacketType uint32
}

// Descriptor is static, immutable metadata about one RPC method,
// registered once at server startup and never mutated afterwards
// (spec §3).
type Descriptor struct {
	ServiceName  string
	MethodName   string
	MethodIndex  int // -1 when the method isn't addressed by index
	RequestType  proto.Message
	ResponseType proto.Message
	Encoding     Encoding
	NSHead       *NSHeadMeta

	// Invoke runs the method against a decoded request, returning the
	// response message or an application error. Registered once per
	// server startup (design note §9: a registered closure, not
	// runtime reflection on the hot path).
	Invoke func(ctx InvokeContext, req proto.Message) (proto.Message, error)
}

// NewRequest returns a fresh, zero-valued instance of the method's
// request type, used by codecs to decode into.
func (d *Descriptor) NewRequest() proto.Message {
	return d.RequestType.ProtoReflect().New().Interface()
}

// NewResponse returns a fresh, zero-valued instance of the method's
// response type.
func (d *Descriptor) NewResponse() proto.Message {
	return d.ResponseType.ProtoReflect().New().Interface()
}

// InvokeContext is the minimal per-call context an invoker needs;
// dispatch.Adapter supplies the concrete implementation with
// attachments, deadlines and trace ids wired in.
type InvokeContext interface {
	ServiceName() string
	MethodName() string
}

// key identifies a method two ways at once: registration rejects a
// duplicate (service, method name) OR (service, method index) pair,
// whichever the caller populated.
type key struct {
	service string
	method  string
}

type indexKey struct {
	service string
	index   int
}

type nsheadKey struct {
	provider   string
	packetType uint32
}

// ErrDuplicateMethod is returned by Register when (service, method)
// was already registered.
type ErrDuplicateMethod struct {
	Service, Method string
}

func (e *ErrDuplicateMethod) Error() string {
	return fmt.Sprintf("meta: duplicate method %s/%s", e.Service, e.Method)
}

// ErrFrozen is returned by Register once the registry has been
// frozen by Freeze.
var ErrFrozen = fmt.Errorf("meta: registry is frozen")

// Registry maps service name to (method name -> descriptor) and,
// for protocols that address methods by index, service name to
// (method index -> descriptor). Registration is additive and
// rejects duplicates; after Freeze, lookups take no lock (spec
// §4.3: "contention-free after start").
type Registry struct {
	mu      sync.Mutex
	byName  map[key]*Descriptor
	byIndex map[indexKey]*Descriptor
	byNSHead map[nsheadKey]*Descriptor
	frozen  bool
}

// NewRegistry returns an empty, mutable Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[key]*Descriptor),
		byIndex:  make(map[indexKey]*Descriptor),
		byNSHead: make(map[nsheadKey]*Descriptor),
	}
}

// Register adds d to the registry, keyed by (ServiceName, MethodName)
// and, if d.MethodIndex >= 0, also by (ServiceName, MethodIndex).
// Returns ErrFrozen after Freeze, or *ErrDuplicateMethod for a
// repeated key.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}

	k := key{d.ServiceName, d.MethodName}
	if _, ok := r.byName[k]; ok {
		return &ErrDuplicateMethod{d.ServiceName, d.MethodName}
	}
	if d.MethodIndex >= 0 {
		ik := indexKey{d.ServiceName, d.MethodIndex}
		if _, ok := r.byIndex[ik]; ok {
			return &ErrDuplicateMethod{d.ServiceName, fmt.Sprint(d.MethodIndex)}
		}
		r.byIndex[ik] = d
	}
	if d.NSHead != nil {
		nk := nsheadKey{d.NSHead.Provider, d.NSHead.PacketType}
		if _, ok := r.byNSHead[nk]; ok {
			return &ErrDuplicateMethod{d.ServiceName, fmt.Sprintf("nshead(%s,%d)", d.NSHead.Provider, d.NSHead.PacketType)}
		}
		r.byNSHead[nk] = d
	}
	r.byName[k] = d
	return nil
}

// Freeze marks the registry read-only; subsequent Register calls
// fail with ErrFrozen. Freeze itself still takes the registration
// lock (it only runs once, at startup) but LookupByName/LookupByIndex
// never do.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// LookupByName resolves a Baidu-std/SoFa/HTTP-style (service,
// methodName) key. Safe to call without locking once the registry is
// frozen; the map is never mutated again.
func (r *Registry) LookupByName(service, method string) (*Descriptor, bool) {
	d, ok := r.byName[key{service, method}]
	return d, ok
}

// LookupByIndex resolves a Hulu-style (service, methodIndex) key.
func (r *Registry) LookupByIndex(service string, index int) (*Descriptor, bool) {
	d, ok := r.byIndex[indexKey{service, index}]
	return d, ok
}

// LookupByNSHead resolves an NSHead-style (provider, packetType) key,
// since NSHead carries no service/method strings on the wire (spec
// §4.5.4) and routes out of band instead.
func (r *Registry) LookupByNSHead(provider string, packetType uint32) (*Descriptor, bool) {
	d, ok := r.byNSHead[nsheadKey{provider, packetType}]
	return d, ok
}
