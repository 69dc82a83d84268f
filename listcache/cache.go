// Package listcache serves hot list queries out of the keyed store with
// stampede suppression: of all callers that miss on a key, exactly one
// is elected to load from the source of truth while the rest poll the
// cache, so correlated misses cannot multiply load on the source.
package listcache

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mededge/pulse/fault"
	"github.com/mededge/pulse/kv"
)

// Loader materializes the list for a key from the source of truth.
// Records are returned in their cache insertion order.
type Loader func(ctx context.Context) ([]string, error)

// Options tune a Cache. Zero fields take the defaults below.
type Options struct {
	// TTL of a populated cache entry.
	TTL time.Duration
	// LockTTL bounds how long a crashed loader can hold the election.
	LockTTL time.Duration
	// FollowMax bounds how long a losing caller polls for the winner's
	// result before giving up with ServiceBusy.
	FollowMax time.Duration
	// PollMin/PollMax bound the jittered sleep between follower polls.
	PollMin, PollMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL == 0 {
		o.TTL = 5 * time.Minute
	}
	if o.LockTTL == 0 {
		o.LockTTL = 10 * time.Second
	}
	if o.FollowMax == 0 {
		o.FollowMax = 5 * time.Second
	}
	if o.PollMin == 0 {
		o.PollMin = 100 * time.Millisecond
	}
	if o.PollMax == 0 {
		o.PollMax = 200 * time.Millisecond
	}
	return o
}

// Cache is a read-through list cache with single-loader election.
type Cache struct {
	store kv.Store
	opts  Options
}

// New builds a Cache over the keyed store.
func New(store kv.Store, opts Options) *Cache {
	return &Cache{store: store, opts: opts.withDefaults()}
}

// Fetch returns the cached list at key, electing exactly one concurrent
// caller to run load on a miss. Losing callers wait for the winner's
// result and never reach the source; if the result doesn't land within
// Options.FollowMax they fail with ServiceBusy.
func (c *Cache) Fetch(ctx context.Context, key string, load Loader) ([]string, error) {
	// Fast path: the list is already materialized.
	var vals, err = c.store.LRange(ctx, key, 0, -1)
	if err != nil {
		return nil, err
	} else if len(vals) != 0 {
		cacheHits.WithLabelValues(key).Inc()
		return vals, nil
	}
	cacheMisses.WithLabelValues(key).Inc()

	lock, err := c.store.AcquireLock(ctx, key+".lock", c.opts.LockTTL, 0)
	if err != nil {
		return nil, err
	} else if lock == nil {
		return c.follow(ctx, key)
	}

	defer func() {
		if err := lock.Release(ctx); err != nil {
			log.WithFields(log.Fields{"key": key, "err": err}).
				Warn("failed to release loader election lock")
		}
	}()

	return c.loadAndFill(ctx, key, load)
}

// loadAndFill is the elected winner's path.
func (c *Cache) loadAndFill(ctx context.Context, key string, load Loader) ([]string, error) {
	// Double-check: another winner may have committed between our miss
	// and our election.
	var vals, err = c.store.LRange(ctx, key, 0, -1)
	if err != nil {
		return nil, err
	} else if len(vals) != 0 {
		return vals, nil
	}

	loaderRuns.WithLabelValues(key).Inc()
	vals, err = load(ctx)
	if err != nil {
		// Leave the key untouched: the next caller re-elects.
		return nil, fmt.Errorf("loading %s from source: %w", key, err)
	} else if len(vals) == 0 {
		// An empty load is returned but never cached.
		return nil, nil
	}

	err = c.store.Update(ctx, func(b kv.Batch) {
		b.Del(key)
		b.RPush(key, vals...)
		b.Expire(key, c.opts.TTL)
	})
	if err != nil {
		return nil, fmt.Errorf("committing %s to cache: %w", key, err)
	}
	return vals, nil
}

// follow is the losing caller's path: poll with jittered sleeps until
// the winner's result appears or FollowMax elapses. It deliberately
// never falls through to the source.
func (c *Cache) follow(ctx context.Context, key string) ([]string, error) {
	var deadline = time.Now().Add(c.opts.FollowMax)

	for time.Now().Before(deadline) {
		// Jitter de-synchronizes follower wakeups so they don't land on
		// the store as one pulse.
		var sleep = c.opts.PollMin + time.Duration(rand.Int63n(int64(c.opts.PollMax-c.opts.PollMin)+1))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		var vals, err = c.store.LRange(ctx, key, 0, -1)
		if err != nil {
			return nil, err
		} else if len(vals) != 0 {
			followerServed.WithLabelValues(key).Inc()
			return vals, nil
		}
	}

	followerTimeouts.WithLabelValues(key).Inc()
	return nil, fault.ServiceBusy("server busy, please try again later")
}
