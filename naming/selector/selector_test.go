package selector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brpc-go/brpc/naming"
	"github.com/brpc-go/brpc/naming/list"
	"github.com/brpc-go/brpc/naming/selector"
)

func TestNextCyclesThroughEndpointsInOrder(t *testing.T) {
	backend := list.New([]naming.Endpoint{
		{Host: "10.0.0.1", Port: 1},
		{Host: "10.0.0.2", Port: 2},
		{Host: "10.0.0.3", Port: 3},
	})
	rr, err := selector.NewRoundRobin(context.Background(), backend, "svc")
	require.NoError(t, err)

	var got []string
	for i := 0; i < 6; i++ {
		ep, err := rr.Next()
		require.NoError(t, err)
		got = append(got, ep.Host)
	}
	assert.Equal(t, []string{
		"10.0.0.1", "10.0.0.2", "10.0.0.3",
		"10.0.0.1", "10.0.0.2", "10.0.0.3",
	}, got)
}

func TestNextReflectsBackendUpdates(t *testing.T) {
	backend := list.New([]naming.Endpoint{{Host: "10.0.0.1", Port: 1}})
	rr, err := selector.NewRoundRobin(context.Background(), backend, "svc")
	require.NoError(t, err)

	ep, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ep.Host)

	backend.Update([]naming.Endpoint{{Host: "10.0.0.9", Port: 9}})
	ep, err = rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", ep.Host)
}

func TestNextReturnsErrNoEndpointsWhenSetIsEmpty(t *testing.T) {
	backend := list.New(nil)
	rr, err := selector.NewRoundRobin(context.Background(), backend, "svc")
	require.NoError(t, err)

	_, err = rr.Next()
	assert.ErrorIs(t, err, selector.ErrNoEndpoints)
}

func TestCloseUnsubscribesFromTheBackend(t *testing.T) {
	backend := list.New([]naming.Endpoint{{Host: "10.0.0.1", Port: 1}})
	rr, err := selector.NewRoundRobin(context.Background(), backend, "svc")
	require.NoError(t, err)
	require.NoError(t, rr.Close())

	backend.Update([]naming.Endpoint{{Host: "10.0.0.9", Port: 9}})
	ep, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ep.Host, "selector keeps its last snapshot after Close")
}
