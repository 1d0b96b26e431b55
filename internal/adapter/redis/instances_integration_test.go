package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetInstances(t *testing.T, r *InstanceRegistry) {
	t.Helper()
	require.NoError(t, r.rdb.Del(context.Background(), instancesKey).Err())
	t.Cleanup(func() { _ = r.rdb.Del(context.Background(), instancesKey).Err() })
}

func TestInstanceRegistry_ListsRegisteredInstances(t *testing.T) {
	client := setupTestClient(t)
	clock := clockwork.NewFakeClockAt(time.Now())
	ctx := context.Background()

	a := NewInstanceRegistry(client, "instance-a", "v1", time.Second, clock, func() InstanceLoad {
		return InstanceLoad{Rooms: 2, Connections: 5, Subscriptions: 1}
	})
	b := NewInstanceRegistry(client, "instance-b", "v1", time.Second, clock, nil)
	resetInstances(t, a)

	require.NoError(t, b.register(ctx))
	require.NoError(t, a.register(ctx))

	active, err := a.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "instance-a", active[0].InstanceID)
	assert.Equal(t, InstanceLoad{Rooms: 2, Connections: 5, Subscriptions: 1}, active[0].Load)
	assert.Equal(t, "instance-b", active[1].InstanceID)
}

func TestInstanceRegistry_PrunesStaleEntries(t *testing.T) {
	client := setupTestClient(t)
	clock := clockwork.NewFakeClockAt(time.Now())
	ctx := context.Background()

	r := NewInstanceRegistry(client, "instance-a", "v1", time.Second, clock, nil)
	resetInstances(t, r)
	require.NoError(t, r.register(ctx))

	clock.Advance(instanceStaleAfter)

	active, err := r.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	n, err := client.HLen(ctx, instancesKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInstanceRegistry_RunUnregistersOnCancel(t *testing.T) {
	client := setupTestClient(t)
	clock := clockwork.NewFakeClockAt(time.Now())

	r := NewInstanceRegistry(client, "instance-a", "v1", time.Second, clock, nil)
	resetInstances(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		active, err := r.Active(context.Background())
		return err == nil && len(active) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	active, err := r.Active(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}
