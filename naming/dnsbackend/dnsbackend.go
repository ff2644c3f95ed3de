// Package dnsbackend implements naming.Backend by resolving a host
// through net.DefaultResolver.LookupHost and polling on an interval
// for Subscribe, the same register/unregister/destroy lifecycle as
// original_source's DnsNamingServiceTest and ConsulNamingService poll
// loop, with a DNS lookup standing in for the Consul health-check
// call. Register/Unregister are no-ops: DNS has no write API, a
// service makes itself resolvable by existing in its zone, not
// through this Backend.
package dnsbackend

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brpc-go/brpc/naming"
)

// DefaultPollInterval matches the polling cadence Subscribe falls
// back to when New is called with interval <= 0.
const DefaultPollInterval = 10 * time.Second

// Backend resolves a "host:port" query string via DNS. Each distinct
// query subscribed to gets its own poll goroutine, stopped by
// Unsubscribe or Destroy.
type Backend struct {
	resolver *net.Resolver
	interval time.Duration

	mu   sync.Mutex
	subs map[string]chan struct{}
	wg   sync.WaitGroup
}

// New returns a Backend polling every interval (DefaultPollInterval
// if interval <= 0) using net.DefaultResolver.
func New(interval time.Duration) *Backend {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Backend{
		resolver: net.DefaultResolver,
		interval: interval,
		subs:     make(map[string]chan struct{}),
	}
}

func splitHostPort(query string) (host string, port int, err error) {
	h, p, err := net.SplitHostPort(query)
	if err != nil {
		return "", 0, fmt.Errorf("dnsbackend: invalid query %q: %w", query, err)
	}
	var portNum int
	if _, err := fmt.Sscanf(p, "%d", &portNum); err != nil {
		return "", 0, fmt.Errorf("dnsbackend: invalid port in query %q: %w", query, err)
	}
	return h, portNum, nil
}

// Lookup resolves query (a "host:port" string) into every A/AAAA
// record for host, each paired with port.
func (b *Backend) Lookup(ctx context.Context, query string) ([]naming.Endpoint, error) {
	host, port, err := splitHostPort(query)
	if err != nil {
		return nil, err
	}
	addrs, err := b.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dnsbackend: lookup %q: %w", host, err)
	}
	endpoints := make([]naming.Endpoint, 0, len(addrs))
	for _, a := range addrs {
		endpoints = append(endpoints, naming.Endpoint{Host: a, Port: port})
	}
	return endpoints, nil
}

// Subscribe resolves query immediately, then again every poll
// interval until Unsubscribe or Destroy, delivering the endpoint set
// to listener each time (whether or not it changed — callers that
// care about deltas diff consecutive deliveries themselves).
func (b *Backend) Subscribe(ctx context.Context, query string, listener naming.Listener) error {
	if endpoints, err := b.Lookup(ctx, query); err == nil {
		listener(endpoints)
	}

	stop := make(chan struct{})
	b.mu.Lock()
	if old, ok := b.subs[query]; ok {
		close(old)
	}
	b.subs[query] = stop
	b.mu.Unlock()

	b.wg.Add(1)
	go b.pollLoop(query, listener, stop)
	return nil
}

func (b *Backend) pollLoop(query string, listener naming.Listener, stop chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			endpoints, err := b.Lookup(context.Background(), query)
			if err != nil {
				continue
			}
			listener(endpoints)
		}
	}
}

func (b *Backend) Unsubscribe(query string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stop, ok := b.subs[query]; ok {
		close(stop)
		delete(b.subs, query)
	}
	return nil
}

// Register is a no-op: DNS has no write API this Backend can drive.
func (b *Backend) Register(context.Context, naming.RegisterInfo) error { return nil }

// Unregister is a no-op, for the same reason Register is.
func (b *Backend) Unregister(context.Context, naming.RegisterInfo) error { return nil }

// Destroy stops every outstanding poll loop and waits for them to exit.
func (b *Backend) Destroy() error {
	b.mu.Lock()
	for query, stop := range b.subs {
		close(stop)
		delete(b.subs, query)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

var _ naming.Backend = (*Backend)(nil)
