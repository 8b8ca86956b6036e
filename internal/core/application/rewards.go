package application

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockforge/lockd/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

// DepositRewards tags the tokens to the epoch in progress and returns it.
func (s *service) DepositRewards(
	ctx context.Context, caller common.Address, tokens []domain.TokenAmount,
) (uint32, error) {
	var deposited *domain.RewardsDeposited
	if _, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		if err := s.requireRole(caller, s.roles.Treasury, "treasury"); err != nil {
			return nil, err
		}
		ev, err := s.engine.DepositRewards(caller, tokens, now)
		if err != nil {
			return nil, err
		}
		deposited = ev
		return []domain.Event{ev}, nil
	}); err != nil {
		return 0, err
	}
	log.Infof("deposited %d reward tokens for epoch %d", len(deposited.Tokens), deposited.Epoch)
	return deposited.Epoch, nil
}

// ClaimRewards pays the position's share of an epoch's rewards to
// recipient, or to the caller if recipient is the zero address.
func (s *service) ClaimRewards(
	ctx context.Context, caller common.Address,
	positionID uint64, epoch uint32, recipient common.Address,
) (*Payout, error) {
	if recipient == (common.Address{}) {
		recipient = caller
	}

	var claimed *domain.RewardClaimed
	if _, err := s.execute(ctx, func(ctx context.Context, now time.Time) ([]domain.Event, error) {
		p, err := s.engine.Ledger.GetPosition(positionID)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, p, caller); err != nil {
			return nil, err
		}
		ev, err := s.engine.ClaimRewards(positionID, epoch, recipient, now)
		if err != nil {
			return nil, err
		}
		claimed = ev
		return []domain.Event{ev}, nil
	}); err != nil {
		return nil, err
	}

	return &Payout{
		PositionID: positionID,
		Recipient:  claimed.Recipient,
		Tokens:     claimed.Payouts,
	}, nil
}

func (s *service) GetClaimable(
	_ context.Context, positionID uint64, epochs []uint32,
) ([]domain.EpochClaim, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.engine.Claimable(positionID, epochs)
}
