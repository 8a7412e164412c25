package ink

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDatabaseRegistryRegisterDedupes(t *testing.T) {
	client := newTestClient(t, newFakeManager())

	a := client.Database("app")
	again := client.Database("app")
	other := client.Database("other")

	require.Same(t, a, again)
	require.NotSame(t, a, other)
	require.Len(t, client.registry.All(), 2)

	client.registry.Unregister("app")
	require.Len(t, client.registry.All(), 1)
}

func TestDatabaseRegistryBroadcastResetsHandles(t *testing.T) {
	client := newTestClient(t, newFakeManager())
	db := client.Database("app")
	require.NoError(t, db.Open())
	require.True(t, db.connEstablished.Load())

	var got error
	db.On(EventError, func(err error, _ any) { got = err })

	client.registry.Broadcast(EventError, errBoom, nil, true, nil, true)

	require.ErrorIs(t, got, errBoom)
	require.False(t, db.connEstablished.Load())
}

func TestDatabaseRegistryBroadcastSkipsExcluded(t *testing.T) {
	client := newTestClient(t, newFakeManager())
	excluded := client.Database("app")
	sibling := client.Database("other")

	excludedCalls, siblingCalls := 0, 0
	excluded.On(EventError, func(error, any) { excludedCalls++ })
	sibling.On(EventError, func(error, any) { siblingCalls++ })

	client.registry.Broadcast(EventError, errBoom, nil, false, excluded, true)

	require.Zero(t, excludedCalls)
	require.Equal(t, 1, siblingCalls)
}

func TestDatabaseRegistryBroadcastEscalatesUnobserved(t *testing.T) {
	var unhandled []error
	mgr := newFakeManager()
	client, err := NewClient(Config{
		Manager:          mgr,
		OnUnhandledError: func(err error) { unhandled = append(unhandled, err) },
	})
	require.NoError(t, err)
	client.Database("app") // no observers registered

	client.registry.Broadcast(EventError, errBoom, nil, false, nil, true)
	require.Equal(t, []error{errBoom}, unhandled)

	// Informational broadcasts never escalate.
	client.registry.Broadcast(EventPoolReady, nil, nil, false, nil, false)
	require.Len(t, unhandled, 1)
}
