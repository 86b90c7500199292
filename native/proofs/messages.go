package proofs

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Proof carries the freshness fields shared by every signed request.
type Proof struct {
	Token  [32]byte
	Expiry uint64
}

// BadgeMetadata describes the per-survey collection signed into a creation
// proof when rewards are issued as badges.
type BadgeMetadata struct {
	Name    string
	Symbol  string
	BaseURI string
}

// CreatePayload lists the semantic parameters bound by a creation proof.
// Exactly one of RewardAmount (fixed rewards) or Badge is encoded.
type CreatePayload struct {
	Owner            [20]byte
	SurveyID         string
	ParticipantLimit uint64
	RewardAmount     *big.Int
	Badge            *BadgeMetadata
	ContentHash      [32]byte
	RoutingFee       *big.Int
}

// packer builds a tightly packed, order-sensitive byte layout: integers as
// 32-byte big-endian words, addresses as 20 bytes, strings as raw bytes.
type packer struct {
	buf []byte
	err error
}

func (p *packer) uint64(v uint64) *packer {
	word := uint256.NewInt(v).Bytes32()
	p.buf = append(p.buf, word[:]...)
	return p
}

func (p *packer) bigint(v *big.Int) *packer {
	if p.err != nil {
		return p
	}
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 {
		p.err = fmt.Errorf("proofs: negative integer in message")
		return p
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		p.err = fmt.Errorf("proofs: integer exceeds 256 bits")
		return p
	}
	b := word.Bytes32()
	p.buf = append(p.buf, b[:]...)
	return p
}

func (p *packer) bytes32(v [32]byte) *packer {
	p.buf = append(p.buf, v[:]...)
	return p
}

func (p *packer) address(v [20]byte) *packer {
	p.buf = append(p.buf, v[:]...)
	return p
}

func (p *packer) str(v string) *packer {
	p.buf = append(p.buf, v...)
	return p
}

func (p *packer) hash() ([32]byte, error) {
	if p.err != nil {
		return [32]byte{}, p.err
	}
	return ethcrypto.Keccak256Hash(p.buf), nil
}

func envelope(chainID uint64, proof Proof) *packer {
	p := &packer{}
	return p.uint64(chainID).bytes32(proof.Token).uint64(proof.Expiry)
}

// CreateHash fingerprints a survey creation request. The reward kind is not
// tagged: badge metadata totalling 32 bytes packs like a fixed reward word of
// the same bytes. Backends rely on this layout, so it is kept as is.
func CreateHash(chainID uint64, proof Proof, payload CreatePayload) ([32]byte, error) {
	p := envelope(chainID, proof).
		address(payload.Owner).
		str(payload.SurveyID).
		uint64(payload.ParticipantLimit)
	if payload.Badge != nil {
		p.str(payload.Badge.Name).str(payload.Badge.Symbol).str(payload.Badge.BaseURI)
	} else {
		p.bigint(payload.RewardAmount)
	}
	p.bytes32(payload.ContentHash).bigint(payload.RoutingFee)
	return p.hash()
}

// CancelHash fingerprints a survey cancellation request.
func CancelHash(chainID uint64, proof Proof, surveyID string) ([32]byte, error) {
	return envelope(chainID, proof).str(surveyID).hash()
}

// RewardHash fingerprints a reward payment request. Only the list lengths are
// bound: a signature for N pairs authorises any N pairs. Backends rely on this
// layout, so the binding is kept as is.
func RewardHash(chainID uint64, proof Proof, surveyIDs []string, participants [][20]byte) ([32]byte, error) {
	return envelope(chainID, proof).
		uint64(uint64(len(surveyIDs))).
		uint64(uint64(len(participants))).
		hash()
}

// Messages builds proof hashes for signing. Builders return the zero hash,
// never a signable value, when the proof token was already consumed.
type Messages struct {
	chainID  uint64
	registry *Registry
}

// NewMessages binds the builders to a chain identifier and token registry.
func NewMessages(chainID uint64, registry *Registry) *Messages {
	return &Messages{chainID: chainID, registry: registry}
}

// ChainID returns the domain separator used by the builders.
func (m *Messages) ChainID() uint64 { return m.chainID }

func (m *Messages) consumed(token [32]byte) (bool, error) {
	if m.registry == nil {
		return false, nil
	}
	return m.registry.IsUsed(token)
}

// CreateProof returns the creation hash to sign.
func (m *Messages) CreateProof(proof Proof, payload CreatePayload) ([32]byte, error) {
	if used, err := m.consumed(proof.Token); err != nil || used {
		return [32]byte{}, err
	}
	return CreateHash(m.chainID, proof, payload)
}

// CancelProof returns the cancellation hash to sign.
func (m *Messages) CancelProof(proof Proof, surveyID string) ([32]byte, error) {
	if used, err := m.consumed(proof.Token); err != nil || used {
		return [32]byte{}, err
	}
	return CancelHash(m.chainID, proof, surveyID)
}

// RewardProof returns the reward payment hash to sign.
func (m *Messages) RewardProof(proof Proof, surveyIDs []string, participants [][20]byte) ([32]byte, error) {
	if used, err := m.consumed(proof.Token); err != nil || used {
		return [32]byte{}, err
	}
	return RewardHash(m.chainID, proof, surveyIDs, participants)
}
