package inmemorylivestore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockforge/lockd/internal/core/ports"
)

type position struct {
	owner     common.Address
	delegates map[common.Address]struct{}
}

type positionRegistry struct {
	lock      sync.RWMutex
	positions map[uint64]*position
}

func NewPositionRegistry() ports.PositionRegistry {
	return &positionRegistry{
		positions: make(map[uint64]*position),
	}
}

func (r *positionRegistry) Mint(
	_ context.Context, positionID uint64, owner common.Address,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.positions[positionID]; ok {
		return fmt.Errorf("position %d already registered", positionID)
	}
	r.positions[positionID] = &position{
		owner:     owner,
		delegates: make(map[common.Address]struct{}),
	}
	return nil
}

func (r *positionRegistry) Burn(_ context.Context, positionID uint64) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.positions, positionID)
	return nil
}

func (r *positionRegistry) OwnerOf(
	_ context.Context, positionID uint64,
) (common.Address, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	p, ok := r.positions[positionID]
	if !ok {
		return common.Address{}, nil
	}
	return p.owner, nil
}

// Transfer moves the position to a new owner and drops its delegates.
func (r *positionRegistry) Transfer(
	_ context.Context, positionID uint64, to common.Address,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.positions[positionID]
	if !ok {
		return fmt.Errorf("position %d not registered", positionID)
	}
	p.owner = to
	p.delegates = make(map[common.Address]struct{})
	return nil
}

func (r *positionRegistry) IsAuthorizedDelegate(
	_ context.Context, positionID uint64, delegate common.Address,
) (bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	p, ok := r.positions[positionID]
	if !ok {
		return false, nil
	}
	_, ok = p.delegates[delegate]
	return ok, nil
}

func (r *positionRegistry) Approve(
	_ context.Context, positionID uint64, delegate common.Address,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.positions[positionID]
	if !ok {
		return fmt.Errorf("position %d not registered", positionID)
	}
	p.delegates[delegate] = struct{}{}
	return nil
}

func (r *positionRegistry) Revoke(
	_ context.Context, positionID uint64, delegate common.Address,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.positions[positionID]
	if !ok {
		return fmt.Errorf("position %d not registered", positionID)
	}
	delete(p.delegates, delegate)
	return nil
}

func (r *positionRegistry) Delegates(
	_ context.Context, positionID uint64,
) ([]common.Address, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	p, ok := r.positions[positionID]
	if !ok {
		return nil, nil
	}
	delegates := make([]common.Address, 0, len(p.delegates))
	for delegate := range p.delegates {
		delegates = append(delegates, delegate)
	}
	sort.Slice(delegates, func(i, j int) bool {
		return bytes.Compare(delegates[i][:], delegates[j][:]) < 0
	})
	return delegates, nil
}
