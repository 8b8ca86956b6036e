package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// LiveStore holds the state shared by every replica outside of the event
// log: the position registry and the write lock.
type LiveStore interface {
	Registry() PositionRegistry
	Locker() WriteLocker
	Close()
}

// PositionRegistry tracks who owns each open position and who is allowed to
// act on it on the owner's behalf.
type PositionRegistry interface {
	Mint(ctx context.Context, positionID uint64, owner common.Address) error
	Burn(ctx context.Context, positionID uint64) error
	// OwnerOf returns the zero address if the position is not registered.
	OwnerOf(ctx context.Context, positionID uint64) (common.Address, error)
	Transfer(ctx context.Context, positionID uint64, to common.Address) error
	IsAuthorizedDelegate(
		ctx context.Context, positionID uint64, delegate common.Address,
	) (bool, error)
	Approve(ctx context.Context, positionID uint64, delegate common.Address) error
	Revoke(ctx context.Context, positionID uint64, delegate common.Address) error
	Delegates(ctx context.Context, positionID uint64) ([]common.Address, error)
}

// WriteLocker serializes writers across replicas. Lock blocks until the lock
// is acquired or the context is done, and returns the release func.
type WriteLocker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}
