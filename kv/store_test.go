package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	var mr = miniredis.RunT(t)
	var store = NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestStringOps(t *testing.T) {
	var store, mr = newTestStore(t)
	var ctx = context.Background()

	_, err := store.Get(ctx, "missing")
	require.Equal(t, ErrNotFound, err)

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", val)

	// SETNX wins only once.
	won, err := store.SetNX(ctx, "nx", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, won)
	won, err = store.SetNX(ctx, "nx", "second", time.Minute)
	require.NoError(t, err)
	require.False(t, won)

	val, err = store.Get(ctx, "nx")
	require.NoError(t, err)
	require.Equal(t, "first", val)

	// TTL expiry surfaces as ErrNotFound.
	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	require.Equal(t, ErrNotFound, err)
}

func TestListHashSetOps(t *testing.T) {
	var store, _ = newTestStore(t)
	var ctx = context.Background()

	require.NoError(t, store.RPush(ctx, "list", "a", "b"))
	require.NoError(t, store.RPush(ctx, "list", "c"))

	vals, err := store.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, vals)

	vals, err = store.LRange(ctx, "list", -2, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, vals)

	require.NoError(t, store.HSet(ctx, "hash", map[string]string{"f1": "v1", "f2": "v2"}))
	fields, err := store.HGetAll(ctx, "hash")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, fields)

	require.NoError(t, store.SAdd(ctx, "set", "m1", "m2", "m1"))
	members, err := store.SMembers(ctx, "set")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"m1", "m2"}, members)
}

func TestUpdateAppliesBatch(t *testing.T) {
	var store, mr = newTestStore(t)
	var ctx = context.Background()

	require.NoError(t, store.RPush(ctx, "list", "stale"))

	var err = store.Update(ctx, func(b Batch) {
		b.Del("list")
		b.RPush("list", "x", "y")
		b.Expire("list", time.Minute)
		b.HSet("hash", map[string]string{"f": "v"})
		b.SAdd("set", "m")
	})
	require.NoError(t, err)

	vals, err := store.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, vals)

	require.True(t, mr.TTL("list") > 0)

	fields, err := store.HGetAll(ctx, "hash")
	require.NoError(t, err)
	require.Equal(t, "v", fields["f"])
}

func TestLockExcludesAndReleases(t *testing.T) {
	var store, _ = newTestStore(t)
	var ctx = context.Background()

	lock, err := store.AcquireLock(ctx, "lk", 10*time.Second, 0)
	require.NoError(t, err)
	require.NotNil(t, lock)

	// A second non-blocking attempt loses.
	loser, err := store.AcquireLock(ctx, "lk", 10*time.Second, 0)
	require.NoError(t, err)
	require.Nil(t, loser)

	require.NoError(t, lock.Release(ctx))

	// Released, so the next attempt wins.
	next, err := store.AcquireLock(ctx, "lk", 10*time.Second, 0)
	require.NoError(t, err)
	require.NotNil(t, next)
}

func TestLockReleaseIsNoopAfterReacquire(t *testing.T) {
	var store, mr = newTestStore(t)
	var ctx = context.Background()

	stale, err := store.AcquireLock(ctx, "lk", time.Second, 0)
	require.NoError(t, err)
	require.NotNil(t, stale)

	// Lock expires and another worker re-acquires it.
	mr.FastForward(2 * time.Second)
	fresh, err := store.AcquireLock(ctx, "lk", 10*time.Second, 0)
	require.NoError(t, err)
	require.NotNil(t, fresh)

	// The stale holder's release must not disturb the new owner.
	require.NoError(t, stale.Release(ctx))
	held, err := store.AcquireLock(ctx, "lk", 10*time.Second, 0)
	require.NoError(t, err)
	require.Nil(t, held)
}

func TestBlockingAcquireWaitsForRelease(t *testing.T) {
	var store, _ = newTestStore(t)
	var ctx = context.Background()

	held, err := store.AcquireLock(ctx, "lk", 10*time.Second, 0)
	require.NoError(t, err)
	require.NotNil(t, held)

	go func() {
		time.Sleep(120 * time.Millisecond)
		_ = held.Release(context.Background())
	}()

	waited, err := store.AcquireLock(ctx, "lk", 10*time.Second, time.Second)
	require.NoError(t, err)
	require.NotNil(t, waited)
}

func TestPubSubDelivers(t *testing.T) {
	var store, _ = newTestStore(t)
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var sub = store.Subscribe(ctx, "events")
	defer sub.Close()

	// Subscription set-up races the publish; retry until delivery.
	var got Message
	require.Eventually(t, func() bool {
		_ = store.Publish(ctx, "events", "ping")
		select {
		case got = <-sub.Channel():
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, "events", got.Channel)
	require.Equal(t, "ping", got.Payload)
}
