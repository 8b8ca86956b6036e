package domain

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenAmount is an amount of a reward token.
type TokenAmount struct {
	Token  common.Address `json:"token"`
	Amount *uint256.Int   `json:"amount"`
}

// EpochRewards holds what the treasury deposited during an epoch and what
// is left after claims.
type EpochRewards struct {
	Epoch     uint32
	Deposited map[common.Address]*uint256.Int
	Remaining map[common.Address]*uint256.Int
}

// Tokens returns the deposited tokens in a stable order.
func (r *EpochRewards) Tokens() []common.Address {
	tokens := make([]common.Address, 0, len(r.Deposited))
	for token := range r.Deposited {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return bytes.Compare(tokens[i].Bytes(), tokens[j].Bytes()) < 0
	})
	return tokens
}

type claimKey struct {
	PositionID uint64
	Epoch      uint32
}

// RewardLedger keeps the treasury deposits of every epoch and the claims.
type RewardLedger struct {
	Epochs  map[uint32]*EpochRewards
	Claimed map[claimKey]uint32
}

func NewRewardLedger() *RewardLedger {
	return &RewardLedger{
		Epochs:  make(map[uint32]*EpochRewards),
		Claimed: make(map[claimKey]uint32),
	}
}

// IsClaimed returns whether the position claimed the epoch already.
func (r *RewardLedger) IsClaimed(positionID uint64, epoch uint32) bool {
	_, ok := r.Claimed[claimKey{positionID, epoch}]
	return ok
}

// DepositsOf returns the deposits tagged to an epoch.
func (r *RewardLedger) DepositsOf(epoch uint32) []TokenAmount {
	rewards, ok := r.Epochs[epoch]
	if !ok {
		return nil
	}
	deposits := make([]TokenAmount, 0, len(rewards.Deposited))
	for _, token := range rewards.Tokens() {
		deposits = append(deposits, TokenAmount{
			Token:  token,
			Amount: new(uint256.Int).Set(rewards.Deposited[token]),
		})
	}
	return deposits
}

// DepositedOf returns the total of a token deposited in an epoch.
func (r *RewardLedger) DepositedOf(epoch uint32, token common.Address) *uint256.Int {
	if rewards, ok := r.Epochs[epoch]; ok {
		return new(uint256.Int).Set(valueOf(rewards.Deposited[token]))
	}
	return zero()
}

// Payouts computes, for every token deposited in the epoch, the share of a
// position worth share out of total.
func (r *RewardLedger) Payouts(epoch uint32, share, total *uint256.Int) []TokenAmount {
	rewards, ok := r.Epochs[epoch]
	if !ok {
		return []TokenAmount{}
	}
	payouts := make([]TokenAmount, 0, len(rewards.Deposited))
	for _, token := range rewards.Tokens() {
		payouts = append(payouts, TokenAmount{
			Token:  token,
			Amount: mulDiv(rewards.Deposited[token], share, total),
		})
	}
	return payouts
}

func (r *RewardLedger) applyDeposit(ev *RewardsDeposited) {
	rewards, ok := r.Epochs[ev.Epoch]
	if !ok {
		rewards = &EpochRewards{
			Epoch:     ev.Epoch,
			Deposited: make(map[common.Address]*uint256.Int),
			Remaining: make(map[common.Address]*uint256.Int),
		}
		r.Epochs[ev.Epoch] = rewards
	}
	for _, deposit := range ev.Tokens {
		rewards.Deposited[deposit.Token] = add(rewards.Deposited[deposit.Token], deposit.Amount)
		rewards.Remaining[deposit.Token] = add(rewards.Remaining[deposit.Token], deposit.Amount)
	}
}

func (r *RewardLedger) applyClaim(cycle uint32, ev *RewardClaimed) {
	r.Claimed[claimKey{ev.PositionID, ev.Epoch}] = cycle
	rewards, ok := r.Epochs[ev.Epoch]
	if !ok {
		return
	}
	for _, payout := range ev.Payouts {
		rewards.Remaining[payout.Token] = sub(rewards.Remaining[payout.Token], payout.Amount)
	}
}
