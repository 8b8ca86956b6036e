package inmemorylivestore

import (
	"context"
	"sync"

	"github.com/lockforge/lockd/internal/core/ports"
)

type liveStore struct {
	registry ports.PositionRegistry
	locker   ports.WriteLocker
}

// NewLiveStore returns a live store for a single replica.
func NewLiveStore() ports.LiveStore {
	return &liveStore{
		registry: NewPositionRegistry(),
		locker:   &writeLocker{sem: make(chan struct{}, 1)},
	}
}

func (s *liveStore) Registry() ports.PositionRegistry { return s.registry }
func (s *liveStore) Locker() ports.WriteLocker        { return s.locker }
func (s *liveStore) Close()                           {}

// writeLocker is a mutex that gives up when the context is done.
type writeLocker struct {
	sem chan struct{}
}

func (l *writeLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	once := &sync.Once{}
	return func() {
		once.Do(func() { <-l.sem })
	}, nil
}
