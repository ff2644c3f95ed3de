// Package selector implements the one load-balancing policy in
// scope here: round-robin over whatever endpoint set a naming.Backend
// currently reports for a query. Anything beyond that (weighted,
// consistent-hash, locality-aware) is out of scope — the point of
// this package is just to show the naming interface being consumed
// by something, not to be a load balancer.
package selector

import (
	"context"
	"errors"
	"sync"

	"github.com/brpc-go/brpc/naming"
)

// ErrNoEndpoints is returned by Next when the backend currently
// reports zero endpoints for the subscribed query.
var ErrNoEndpoints = errors.New("selector: no endpoints available")

// RoundRobin cycles through the endpoint set a naming.Backend reports
// for one query, handing out a different endpoint each call the way
// the classic i = (i + 1) % n scheduler does. It subscribes once at
// construction and keeps its local endpoint snapshot current for the
// lifetime of the RoundRobin, the same relationship a
// client.Conn has with a single dialed address, just multiplexed over
// however many backend reports.
type RoundRobin struct {
	backend naming.Backend
	query   string

	mu        sync.Mutex
	endpoints []naming.Endpoint
	index     int
}

// NewRoundRobin subscribes to backend for query and returns a
// RoundRobin ready to hand out endpoints via Next. The subscription
// stays live until Close is called.
func NewRoundRobin(ctx context.Context, backend naming.Backend, query string) (*RoundRobin, error) {
	r := &RoundRobin{backend: backend, query: query}
	err := backend.Subscribe(ctx, query, func(endpoints []naming.Endpoint) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.endpoints = endpoints
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Next returns the next endpoint in round-robin order among whatever
// the backend most recently reported. Returns ErrNoEndpoints if the
// current set is empty.
func (r *RoundRobin) Next() (naming.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.endpoints)
	if n == 0 {
		return naming.Endpoint{}, ErrNoEndpoints
	}
	e := r.endpoints[r.index%n]
	r.index = (r.index + 1) % n
	return e, nil
}

// Close unsubscribes from the backend. It does not destroy the
// backend itself — callers that own the backend call its Destroy
// separately once every selector built on it is closed.
func (r *RoundRobin) Close() error {
	return r.backend.Unsubscribe(r.query)
}
