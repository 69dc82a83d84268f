package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a held distributed lock. It expires on its own after the TTL
// given to AcquireLock, so a crashed holder cannot wedge other workers.
type Lock struct {
	store *Redis
	key   string
	token string
}

// releaseScript deletes the lock only while our token still owns it.
// Without the token compare, a holder delayed past its TTL would release
// a lock since re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// acquirePollInterval paces blocking acquisition attempts.
const acquirePollInterval = 50 * time.Millisecond

// AcquireLock attempts to take the named lock for ttl. With blockFor
// zero the attempt is non-blocking and (nil, nil) means the lock is held
// elsewhere; otherwise attempts repeat until blockFor has elapsed.
func (s *Redis) AcquireLock(ctx context.Context, key string, ttl, blockFor time.Duration) (*Lock, error) {
	var token = uuid.NewString()
	var deadline = time.Now().Add(blockFor)

	for {
		var won, err = s.SetNX(ctx, key, token, ttl)
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		} else if won {
			return &Lock{store: s, key: key, token: token}, nil
		}

		if blockFor == 0 || !time.Now().Add(acquirePollInterval).Before(deadline) {
			return nil, nil
		}
		select {
		case <-time.After(acquirePollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release drops the lock if this holder still owns it, and is a no-op
// otherwise.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.store.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	return nil
}
