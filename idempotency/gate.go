// Package idempotency guards write endpoints against duplicate
// submissions. Callers present a client-chosen key; the first request
// through executes and its serialized response is recorded, duplicates
// replay that response byte-for-byte, and a duplicate arriving while
// the first is still in flight is rejected outright.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mededge/pulse/fault"
	"github.com/mededge/pulse/kv"
)

// processing marks a record whose handler hasn't finished yet.
const processing = "PROCESSING"

// maxAttempts bounds re-entry when a record vanishes between our failed
// claim and our read of it (the claimant failed and deleted it).
const maxAttempts = 5

// Handler produces the serialized response to record and replay.
type Handler func(ctx context.Context) ([]byte, error)

// Gate is the idempotency gate over the keyed store.
type Gate struct {
	store kv.Store
	ttl   time.Duration
}

// NewGate builds a Gate. ttl bounds how long completed responses are
// replayable; zero means 24h.
func NewGate(store kv.Store, ttl time.Duration) *Gate {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Gate{store: store, ttl: ttl}
}

// Execute runs fn at most once per key. The winning call's payload is
// stored and returned with replayed=false; duplicate calls return the
// stored payload verbatim with replayed=true. A duplicate racing an
// in-flight winner fails with Conflict. A failed winner leaves no
// record, so the next call with the key starts over.
func (g *Gate) Execute(ctx context.Context, key string, fn Handler) (payload []byte, replayed bool, err error) {
	var record = "idem:" + key

	for attempt := 0; attempt != maxAttempts; attempt++ {
		var won, err = g.store.SetNX(ctx, record, processing, g.ttl)
		if err != nil {
			return nil, false, fmt.Errorf("claiming idempotency record %s: %w", record, err)
		}

		if won {
			gateWins.Inc()
			return g.run(ctx, record, fn)
		}

		var stored string
		stored, err = g.store.Get(ctx, record)
		if errors.Is(err, kv.ErrNotFound) {
			// The claimant failed and deleted its record between our
			// claim and our read. Start over.
			continue
		} else if err != nil {
			return nil, false, fmt.Errorf("reading idempotency record %s: %w", record, err)
		}

		if stored == processing {
			gateConflicts.Inc()
			return nil, false, fault.Conflict("duplicate request is still being processed")
		}
		gateReplays.Inc()
		log.WithField("key", key).Debug("replaying recorded response for duplicate request")
		return []byte(stored), true, nil
	}

	return nil, false, fault.Internal(fmt.Errorf("idempotency record %s kept churning after %d attempts", record, maxAttempts))
}

// run is the winner's path: execute, then either record the payload or
// erase the claim so the key can be retried.
func (g *Gate) run(ctx context.Context, record string, fn Handler) ([]byte, bool, error) {
	var payload, err = fn(ctx)
	if err != nil {
		if delErr := g.store.Del(ctx, record); delErr != nil {
			log.WithFields(log.Fields{"record": record, "err": delErr}).
				Warn("failed to erase idempotency claim after handler error")
		}
		return nil, false, err
	}

	if err = g.store.Set(ctx, record, string(payload), g.ttl); err != nil {
		return nil, false, fmt.Errorf("recording response at %s: %w", record, err)
	}
	return payload, false, nil
}
