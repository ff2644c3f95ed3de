// Package naming defines the service-discovery interface the client
// dials through, plus two minimal backends shipped for runnability
// (spec §6: discovery itself is an external collaborator, out of
// core scope). Lookup/Subscribe/Register/etc are all keyed by a
// backend-specific query string, the way the original's BrpcURL-keyed
// NamingService implementations are.
package naming

import "context"

// Endpoint is one resolvable (host, port) pair a Backend can return.
type Endpoint struct {
	Host string
	Port int
}

// RegisterInfo describes one service instance a caller wants visible
// to a Backend's Lookup/Subscribe, e.g. the instance register calls
// during server startup and unregister calls during shutdown.
type RegisterInfo struct {
	ServiceName string
	Host        string
	Port        int
}

// Listener receives endpoint-set updates from Subscribe.
type Listener func(endpoints []Endpoint)

// Backend is the naming service interface clients consume (spec §6):
// lookup(query) -> [endpoint], subscribe(query, listener), unsubscribe,
// register(info), unregister(info), destroy(). Concrete backends
// (DNS, Consul, ZooKeeper, ...) live outside the core protocol layer;
// naming/list and naming/dnsbackend are the only two shipped here.
type Backend interface {
	Lookup(ctx context.Context, query string) ([]Endpoint, error)
	Subscribe(ctx context.Context, query string, listener Listener) error
	Unsubscribe(query string) error
	Register(ctx context.Context, info RegisterInfo) error
	Unregister(ctx context.Context, info RegisterInfo) error
	Destroy() error
}
