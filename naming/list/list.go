// Package list implements naming.Backend as a static in-memory
// endpoint list: the minimal backend needed to make the client
// runnable without any external discovery system wired in.
package list

import (
	"context"
	"sync"

	"github.com/brpc-go/brpc/naming"
)

// Backend resolves every query against one fixed, caller-supplied
// endpoint list. Subscribe fires the listener once immediately and
// again on every Update call.
type Backend struct {
	mu        sync.Mutex
	endpoints []naming.Endpoint
	listeners map[string][]naming.Listener
}

// New returns a Backend seeded with endpoints.
func New(endpoints []naming.Endpoint) *Backend {
	return &Backend{
		endpoints: append([]naming.Endpoint(nil), endpoints...),
		listeners: make(map[string][]naming.Listener),
	}
}

// Update replaces the endpoint list and notifies every active
// subscriber, regardless of which query they subscribed with — a
// static list has no query-scoped partitioning.
func (b *Backend) Update(endpoints []naming.Endpoint) {
	b.mu.Lock()
	b.endpoints = append([]naming.Endpoint(nil), endpoints...)
	listeners := make([]naming.Listener, 0)
	for _, ls := range b.listeners {
		listeners = append(listeners, ls...)
	}
	snapshot := append([]naming.Endpoint(nil), b.endpoints...)
	b.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
}

func (b *Backend) Lookup(_ context.Context, _ string) ([]naming.Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]naming.Endpoint(nil), b.endpoints...), nil
}

func (b *Backend) Subscribe(_ context.Context, query string, listener naming.Listener) error {
	b.mu.Lock()
	b.listeners[query] = append(b.listeners[query], listener)
	snapshot := append([]naming.Endpoint(nil), b.endpoints...)
	b.mu.Unlock()
	listener(snapshot)
	return nil
}

func (b *Backend) Unsubscribe(query string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, query)
	return nil
}

// Register appends info to the static list. There is no backing
// store to persist it in, so it survives only for this Backend's
// lifetime — callers needing real service registration want an
// external registry instead (naming/dnsbackend's Register is a no-op).
func (b *Backend) Register(_ context.Context, info naming.RegisterInfo) error {
	b.mu.Lock()
	b.endpoints = append(b.endpoints, naming.Endpoint{Host: info.Host, Port: info.Port})
	b.mu.Unlock()
	return nil
}

func (b *Backend) Unregister(_ context.Context, info naming.RegisterInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.endpoints[:0]
	for _, ep := range b.endpoints {
		if ep.Host == info.Host && ep.Port == info.Port {
			continue
		}
		out = append(out, ep)
	}
	b.endpoints = out
	return nil
}

func (b *Backend) Destroy() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints = nil
	b.listeners = nil
	return nil
}

var _ naming.Backend = (*Backend)(nil)
