package redislivestore

import (
	"time"

	"github.com/lockforge/lockd/internal/core/ports"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const defaultLockTTL = 30 * time.Second

type liveStore struct {
	rdb      *redis.Client
	registry ports.PositionRegistry
	locker   ports.WriteLocker
}

// NewLiveStore returns a live store shared by every replica connected to the
// same redis db. A lockTTL of 0 defaults to 30s.
func NewLiveStore(rdb *redis.Client, numOfRetries int, lockTTL time.Duration) ports.LiveStore {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &liveStore{
		rdb:      rdb,
		registry: NewPositionRegistry(rdb, numOfRetries),
		locker:   NewWriteLocker(rdb, lockTTL),
	}
}

func (s *liveStore) Registry() ports.PositionRegistry { return s.registry }
func (s *liveStore) Locker() ports.WriteLocker        { return s.locker }

func (s *liveStore) Close() {
	if err := s.rdb.Close(); err != nil {
		log.WithError(err).Warn("failed to close redis client")
	}
}
