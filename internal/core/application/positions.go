package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func (s *service) OpenPosition(
	ctx context.Context, caller common.Address, req OpenPositionRequest,
) (*PositionInfo, error) {
	beneficiary := req.Beneficiary
	if beneficiary == (common.Address{}) {
		beneficiary = caller
	}

	var opened *domain.PositionOpened
	if _, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		ev, err := s.engine.OpenPosition(
			req.Amount, req.DurationCycles, req.YieldSplitPercent, beneficiary, now,
		)
		if err != nil {
			return nil, err
		}
		opened = ev
		return []domain.Event{ev}, nil
	}); err != nil {
		return nil, err
	}

	if err := s.liveStore.Registry().Mint(ctx, opened.PositionID, beneficiary); err != nil {
		log.WithError(err).Warnf("failed to mint position %d in registry", opened.PositionID)
	}

	log.WithFields(log.Fields{
		"position": opened.PositionID,
		"owner":    beneficiary.Hex(),
		"amount":   opened.Amount.Dec(),
		"duration": opened.DurationCycles,
		"split":    opened.YieldSplitPercent,
	}).Info("position opened")

	return s.GetPosition(ctx, opened.PositionID, nil)
}

func (s *service) IncreaseAmount(
	ctx context.Context, caller common.Address, positionID uint64, delta *uint256.Int,
) (*PositionInfo, error) {
	return s.increase(ctx, caller, positionID, func(now time.Time) (*domain.PositionIncreased, error) {
		return s.engine.IncreaseAmount(positionID, delta, caller, now)
	})
}

func (s *service) IncreaseDuration(
	ctx context.Context, caller common.Address, positionID uint64, extraCycles uint32,
) (*PositionInfo, error) {
	return s.increase(ctx, caller, positionID, func(now time.Time) (*domain.PositionIncreased, error) {
		return s.engine.IncreaseDuration(positionID, extraCycles, caller, now)
	})
}

func (s *service) IncreaseDurationAndAmount(
	ctx context.Context, caller common.Address,
	positionID uint64, extraCycles uint32, delta *uint256.Int,
) (*PositionInfo, error) {
	return s.increase(ctx, caller, positionID, func(now time.Time) (*domain.PositionIncreased, error) {
		return s.engine.IncreaseDurationAndAmount(positionID, extraCycles, delta, caller, now)
	})
}

func (s *service) increase(
	ctx context.Context, caller common.Address, positionID uint64,
	fn func(now time.Time) (*domain.PositionIncreased, error),
) (*PositionInfo, error) {
	if _, err := s.execute(ctx, func(ctx context.Context, now time.Time) ([]domain.Event, error) {
		p, err := s.engine.Ledger.GetPosition(positionID)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, p, caller); err != nil {
			return nil, err
		}
		ev, err := fn(now)
		if err != nil {
			return nil, err
		}
		return []domain.Event{ev}, nil
	}); err != nil {
		return nil, err
	}
	return s.GetPosition(ctx, positionID, nil)
}

// ClosePosition releases the locked amount to the current owner of the
// position, whoever the caller is among the owner and its delegates.
func (s *service) ClosePosition(
	ctx context.Context, caller common.Address, positionID uint64,
) (*Payout, error) {
	var closed *domain.PositionClosed
	if _, err := s.execute(ctx, func(ctx context.Context, now time.Time) ([]domain.Event, error) {
		p, err := s.engine.Ledger.GetPosition(positionID)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, p, caller); err != nil {
			return nil, err
		}
		owner, err := s.ownerOf(ctx, p)
		if err != nil {
			return nil, err
		}
		ev, err := s.engine.ClosePosition(positionID, owner, now)
		if err != nil {
			return nil, err
		}
		closed = ev
		return []domain.Event{ev}, nil
	}); err != nil {
		return nil, err
	}

	if err := s.liveStore.Registry().Burn(ctx, positionID); err != nil {
		log.WithError(err).Warnf("failed to burn position %d in registry", positionID)
	}

	return &Payout{
		PositionID: positionID,
		Recipient:  closed.Recipient,
		Tokens:     []domain.TokenAmount{{Token: s.baseToken, Amount: closed.Amount}},
	}, nil
}

func (s *service) TransferPosition(
	ctx context.Context, caller common.Address, positionID uint64, to common.Address,
) error {
	if to == (common.Address{}) {
		return errors.INVALID_ADDRESS.New("missing transfer recipient").
			WithMetadata(errors.AddressMetadata{Address: to.Hex()})
	}
	if err := s.requireOwner(ctx, caller, positionID); err != nil {
		return err
	}
	if err := s.liveStore.Registry().Transfer(ctx, positionID, to); err != nil {
		return errors.INTERNAL_ERROR.Wrap(
			fmt.Errorf("failed to transfer position %d: %w", positionID, err),
		)
	}
	log.WithFields(log.Fields{
		"position": positionID, "from": caller.Hex(), "to": to.Hex(),
	}).Info("position transferred")
	return nil
}

func (s *service) ApproveDelegate(
	ctx context.Context, caller common.Address, positionID uint64, delegate common.Address,
) error {
	if delegate == (common.Address{}) {
		return errors.INVALID_ADDRESS.New("missing delegate").
			WithMetadata(errors.AddressMetadata{Address: delegate.Hex()})
	}
	if err := s.requireOwner(ctx, caller, positionID); err != nil {
		return err
	}
	if err := s.liveStore.Registry().Approve(ctx, positionID, delegate); err != nil {
		return errors.INTERNAL_ERROR.Wrap(
			fmt.Errorf("failed to approve delegate of position %d: %w", positionID, err),
		)
	}
	return nil
}

func (s *service) RevokeDelegate(
	ctx context.Context, caller common.Address, positionID uint64, delegate common.Address,
) error {
	if err := s.requireOwner(ctx, caller, positionID); err != nil {
		return err
	}
	if err := s.liveStore.Registry().Revoke(ctx, positionID, delegate); err != nil {
		return errors.INTERNAL_ERROR.Wrap(
			fmt.Errorf("failed to revoke delegate of position %d: %w", positionID, err),
		)
	}
	return nil
}

// requireOwner checks that caller owns the open position. Delegates can't
// manage ownership or other delegates.
func (s *service) requireOwner(ctx context.Context, caller common.Address, positionID uint64) error {
	s.lock.RLock()
	defer s.lock.RUnlock()

	p, err := s.engine.Ledger.GetPosition(positionID)
	if err != nil {
		return err
	}
	if p.Closed {
		return errors.POSITION_CLOSED.New("position %d is closed", positionID).
			WithMetadata(errors.PositionMetadata{PositionID: positionID})
	}
	owner, err := s.ownerOf(ctx, p)
	if err != nil {
		return err
	}
	if caller == (common.Address{}) || caller != owner {
		return errors.NOT_AUTHORIZED.New("caller %s is not the owner of position %d", caller.Hex(), positionID).
			WithMetadata(errors.AuthMetadata{PositionID: positionID, Caller: caller.Hex()})
	}
	return nil
}
