package redislivestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockforge/lockd/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const ownerField = "owner"

type positionRegistry struct {
	rdb          *redis.Client
	numOfRetries int
	retryDelay   time.Duration
}

func NewPositionRegistry(rdb *redis.Client, numOfRetries int) ports.PositionRegistry {
	if numOfRetries <= 0 {
		numOfRetries = 1
	}
	return &positionRegistry{
		rdb:          rdb,
		numOfRetries: numOfRetries,
		retryDelay:   10 * time.Millisecond,
	}
}

func positionKey(positionID uint64) string {
	return fmt.Sprintf("position:%d", positionID)
}

func delegatesKey(positionID uint64) string {
	return fmt.Sprintf("position:%d:delegates", positionID)
}

func (r *positionRegistry) Mint(
	ctx context.Context, positionID uint64, owner common.Address,
) error {
	ok, err := r.rdb.HSetNX(ctx, positionKey(positionID), ownerField, owner.Hex()).Result()
	if err != nil {
		return fmt.Errorf("failed to mint position %d: %w", positionID, err)
	}
	if !ok {
		return fmt.Errorf("position %d already registered", positionID)
	}
	return nil
}

func (r *positionRegistry) Burn(ctx context.Context, positionID uint64) error {
	if err := r.rdb.Del(ctx, positionKey(positionID), delegatesKey(positionID)).Err(); err != nil {
		return fmt.Errorf("failed to burn position %d: %w", positionID, err)
	}
	return nil
}

func (r *positionRegistry) OwnerOf(
	ctx context.Context, positionID uint64,
) (common.Address, error) {
	owner, err := r.rdb.HGet(ctx, positionKey(positionID), ownerField).Result()
	if errors.Is(err, redis.Nil) {
		return common.Address{}, nil
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get owner of position %d: %w", positionID, err)
	}
	return common.HexToAddress(owner), nil
}

// Transfer moves the position to a new owner and drops its delegates.
func (r *positionRegistry) Transfer(
	ctx context.Context, positionID uint64, to common.Address,
) error {
	key := positionKey(positionID)
	return r.withRetries(ctx, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("position %d not registered", positionID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, ownerField, to.Hex())
			pipe.Del(ctx, delegatesKey(positionID))
			return nil
		})
		return err
	})
}

func (r *positionRegistry) IsAuthorizedDelegate(
	ctx context.Context, positionID uint64, delegate common.Address,
) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, delegatesKey(positionID), delegate.Hex()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check delegate of position %d: %w", positionID, err)
	}
	return ok, nil
}

func (r *positionRegistry) Approve(
	ctx context.Context, positionID uint64, delegate common.Address,
) error {
	key := positionKey(positionID)
	return r.withRetries(ctx, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("position %d not registered", positionID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, delegatesKey(positionID), delegate.Hex())
			return nil
		})
		return err
	})
}

func (r *positionRegistry) Revoke(
	ctx context.Context, positionID uint64, delegate common.Address,
) error {
	if err := r.rdb.SRem(ctx, delegatesKey(positionID), delegate.Hex()).Err(); err != nil {
		return fmt.Errorf("failed to revoke delegate of position %d: %w", positionID, err)
	}
	return nil
}

func (r *positionRegistry) Delegates(
	ctx context.Context, positionID uint64,
) ([]common.Address, error) {
	members, err := r.rdb.SMembers(ctx, delegatesKey(positionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get delegates of position %d: %w", positionID, err)
	}
	sort.Slice(members, func(i, j int) bool {
		return strings.ToLower(members[i]) < strings.ToLower(members[j])
	})
	delegates := make([]common.Address, 0, len(members))
	for _, member := range members {
		delegates = append(delegates, common.HexToAddress(member))
	}
	return delegates, nil
}

// withRetries runs fn in an optimistic transaction watching key, retrying
// when another client modified it in the meantime.
func (r *positionRegistry) withRetries(
	ctx context.Context, key string, fn func(tx *redis.Tx) error,
) (err error) {
	for attempt := 0; attempt < r.numOfRetries; attempt++ {
		err = r.rdb.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		time.Sleep(r.retryDelay)
	}
	return err
}
