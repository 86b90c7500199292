package survey

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"surveyledger/core/state"
	"surveyledger/native/badge"
	"surveyledger/native/bank"
)

// RewardIssuer issues one reward unit of a single survey to a participant.
type RewardIssuer interface {
	Issue(participant [20]byte) error
}

// RewardModel captures everything that differs between fixed-amount and
// badge surveys. The engine drives the lifecycle; the model decides what
// funding is required, what a reward is, and what a cancellation returns.
type RewardModel interface {
	Kind() Kind
	// RequiredDeposit is the exact value a creation must attach.
	RequiredDeposit(params CreateParams) (*big.Int, error)
	// Funding recomputes the deposit from a stored survey record.
	Funding(s *Survey) (*big.Int, error)
	// Bind records the model-specific reward handle on a new survey.
	Bind(st state.KV, s *Survey, params CreateParams) error
	// Issuer returns the issuance capability scoped to s.
	Issuer(st state.KV, s *Survey) RewardIssuer
	// Refund is the amount returned to the creator on cancellation.
	Refund(s *Survey) (*big.Int, error)
}

// fixedFunding computes limit*reward + fee in 256-bit arithmetic.
func fixedFunding(limit uint64, reward, fee *big.Int) (*big.Int, error) {
	r, overflow := uint256.FromBig(cloneBigInt(reward))
	if overflow || reward == nil || reward.Sign() < 0 {
		return nil, ErrInvalidRewardAmount
	}
	f, overflow := uint256.FromBig(cloneBigInt(fee))
	if overflow || (fee != nil && fee.Sign() < 0) {
		return nil, ErrInvalidValue
	}
	total, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(limit), r)
	if overflow {
		return nil, fmt.Errorf("%w: reward pool overflows", ErrInvalidRewardAmount)
	}
	if _, overflow = total.AddOverflow(total, f); overflow {
		return nil, fmt.Errorf("%w: funding overflows", ErrInvalidRewardAmount)
	}
	return total.ToBig(), nil
}

// FixedModel pays RewardAmount of native currency per participant out of a
// deposit held by the vault.
type FixedModel struct {
	bank  *bank.Engine
	vault [20]byte
}

// NewFixedModel pays rewards from vault through bank.
func NewFixedModel(b *bank.Engine, vault [20]byte) *FixedModel {
	return &FixedModel{bank: b, vault: vault}
}

func (m *FixedModel) Kind() Kind { return KindFixed }

func (m *FixedModel) RequiredDeposit(params CreateParams) (*big.Int, error) {
	if params.RewardAmount == nil {
		return nil, ErrInvalidRewardAmount
	}
	return fixedFunding(params.ParticipantLimit, params.RewardAmount, params.RoutingFee)
}

func (m *FixedModel) Funding(s *Survey) (*big.Int, error) {
	return fixedFunding(s.ParticipantsLimit, s.RewardAmount, s.RoutingFee)
}

func (m *FixedModel) Bind(_ state.KV, s *Survey, params CreateParams) error {
	s.RewardAmount = cloneBigInt(params.RewardAmount)
	return nil
}

func (m *FixedModel) Issuer(st state.KV, s *Survey) RewardIssuer {
	return fixedIssuer{bank: m.bank, st: st, vault: m.vault, amount: cloneBigInt(s.RewardAmount)}
}

func (m *FixedModel) Refund(s *Survey) (*big.Int, error) {
	remaining := new(big.Int).SetUint64(s.Remaining())
	return remaining.Mul(remaining, cloneBigInt(s.RewardAmount)), nil
}

type fixedIssuer struct {
	bank   *bank.Engine
	st     state.KV
	vault  [20]byte
	amount *big.Int
}

func (i fixedIssuer) Issue(participant [20]byte) error {
	return i.bank.Transfer(i.st, i.vault, participant, i.amount)
}

// BadgeModel mints one badge per participant from a collection created for
// each survey. Nothing is pre-funded beyond the routing fee.
type BadgeModel struct {
	authority [20]byte
}

// NewBadgeModel creates collections owned, and therefore mintable only, by
// authority.
func NewBadgeModel(authority [20]byte) *BadgeModel {
	return &BadgeModel{authority: authority}
}

func (m *BadgeModel) Kind() Kind { return KindBadge }

func (m *BadgeModel) RequiredDeposit(params CreateParams) (*big.Int, error) {
	fee := cloneBigInt(params.RoutingFee)
	if fee.Sign() < 0 {
		return nil, ErrInvalidValue
	}
	return fee, nil
}

func (m *BadgeModel) Funding(s *Survey) (*big.Int, error) {
	return cloneBigInt(s.RoutingFee), nil
}

func (m *BadgeModel) Bind(st state.KV, s *Survey, params CreateParams) error {
	if params.Badge == nil {
		return ErrUnsupportedModel
	}
	collection, err := badge.Create(st, m.authority, s.ID, params.Badge.Name, params.Badge.Symbol, params.Badge.BaseURI)
	if err != nil {
		return err
	}
	s.Collection = collection.Address
	s.RewardAmount = big.NewInt(0)
	return nil
}

func (m *BadgeModel) Issuer(st state.KV, s *Survey) RewardIssuer {
	return badgeIssuer{st: st, authority: m.authority, collection: s.Collection}
}

func (m *BadgeModel) Refund(*Survey) (*big.Int, error) { return big.NewInt(0), nil }

// SetBaseURI updates the collection of s using the minting authority.
func (m *BadgeModel) SetBaseURI(st state.KV, s *Survey, uri string) error {
	return badge.SetBaseURI(st, s.Collection, m.authority, uri)
}

type badgeIssuer struct {
	st         state.KV
	authority  [20]byte
	collection [20]byte
}

func (i badgeIssuer) Issue(participant [20]byte) error {
	_, err := badge.Mint(i.st, i.collection, i.authority, participant)
	return err
}
