package redislivestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lockforge/lockd/internal/core/ports"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	writeLockKey   = "lock:writer"
	lockRetryDelay = 20 * time.Millisecond
)

// unlockLua deletes the lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

type writeLocker struct {
	rdb      *redis.Client
	ttl      time.Duration
	unlockSc *redis.Script
}

func NewWriteLocker(rdb *redis.Client, ttl time.Duration) ports.WriteLocker {
	return &writeLocker{
		rdb:      rdb,
		ttl:      ttl,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func (l *writeLocker) Lock(ctx context.Context) (func(), error) {
	token := uuid.New().String()

	for {
		ok, err := l.rdb.SetNX(ctx, writeLockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire write lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire write lock: %w", ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}

	once := &sync.Once{}
	return func() {
		once.Do(func() {
			// The caller's context may already be done.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := l.unlockSc.Run(unlockCtx, l.rdb, []string{writeLockKey}, token).Err(); err != nil {
				log.WithError(err).Warn("failed to release write lock")
			}
		})
	}, nil
}
