package survey

import (
	"math/big"
	"strings"

	"surveyledger/native/proofs"
)

// Kind selects how a survey pays its participants.
type Kind uint8

const (
	KindFixed Kind = iota + 1
	KindBadge
)

func (k Kind) String() string {
	switch k {
	case KindFixed:
		return "fixed"
	case KindBadge:
		return "badge"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fixed":
		return KindFixed, true
	case "badge":
		return KindBadge, true
	default:
		return 0, false
	}
}

// Status is derived from the stored survey fields.
type Status uint8

const (
	StatusNonExistent Status = iota
	StatusActive
	StatusCanceled
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCanceled:
		return "canceled"
	case StatusExhausted:
		return "exhausted"
	default:
		return "nonexistent"
	}
}

// Survey is the persisted survey record. Creator, Kind, RewardAmount,
// Collection, ParticipantsLimit, ContentHash and RoutingFee never change after
// creation.
type Survey struct {
	ID                   string
	Creator              [20]byte
	Kind                 Kind
	RewardAmount         *big.Int
	Collection           [20]byte
	ParticipantsLimit    uint64
	ParticipantsRewarded uint64
	ContentHash          [32]byte
	RoutingFee           *big.Int
	Canceled             bool
	CreatedAt            uint64
	CanceledAt           uint64
}

// Clone returns a deep copy of the survey.
func (s *Survey) Clone() *Survey {
	if s == nil {
		return nil
	}
	clone := *s
	clone.RewardAmount = cloneBigInt(s.RewardAmount)
	clone.RoutingFee = cloneBigInt(s.RoutingFee)
	return &clone
}

// Exhausted reports whether every reward slot has been paid.
func (s *Survey) Exhausted() bool {
	return s.ParticipantsRewarded >= s.ParticipantsLimit
}

// Status derives the lifecycle state. Cancellation takes precedence.
func (s *Survey) Status() Status {
	switch {
	case s == nil || s.Creator == ([20]byte{}):
		return StatusNonExistent
	case s.Canceled:
		return StatusCanceled
	case s.Exhausted():
		return StatusExhausted
	default:
		return StatusActive
	}
}

// Remaining returns the number of unpaid reward slots.
func (s *Survey) Remaining() uint64 {
	if s.Exhausted() {
		return 0
	}
	return s.ParticipantsLimit - s.ParticipantsRewarded
}

// Authorization carries the backend signature together with the proof
// freshness fields it covers.
type Authorization struct {
	Signature []byte
	Token     [32]byte
	Expiry    uint64
}

func (a Authorization) proof() proofs.Proof {
	return proofs.Proof{Token: a.Token, Expiry: a.Expiry}
}

// CreateParams are the semantic parameters of a survey creation. Badge is set
// for badge surveys; RewardAmount for fixed-reward surveys.
type CreateParams struct {
	Owner            [20]byte
	SurveyID         string
	ParticipantLimit uint64
	RewardAmount     *big.Int
	Badge            *proofs.BadgeMetadata
	ContentHash      [32]byte
	RoutingFee       *big.Int
}

// Kind reports the reward model requested by the parameters.
func (p CreateParams) Kind() Kind {
	if p.Badge != nil {
		return KindBadge
	}
	return KindFixed
}

// Payload converts the parameters into the signed creation payload.
func (p CreateParams) Payload() proofs.CreatePayload {
	return proofs.CreatePayload{
		Owner:            p.Owner,
		SurveyID:         p.SurveyID,
		ParticipantLimit: p.ParticipantLimit,
		RewardAmount:     cloneBigInt(p.RewardAmount),
		Badge:            p.Badge,
		ContentHash:      p.ContentHash,
		RoutingFee:       cloneBigInt(p.RoutingFee),
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
