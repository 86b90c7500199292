package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeSetManager        TxType = 0x01 // Owner grants or revokes the manager role
	TxTypeSetRouting        TxType = 0x02 // Owner replaces the payout routing pair
	TxTypeTransferOwnership TxType = 0x03
	TxTypeAcceptOwnership   TxType = 0x04
	TxTypeCreateSurvey      TxType = 0x10
	TxTypeCancelSurvey      TxType = 0x11
	TxTypePayRewards        TxType = 0x12
	TxTypeSetBadgeURI       TxType = 0x13 // Owner updates a badge collection's base URI
)

var txTypeNames = map[TxType]string{
	TxTypeSetManager:        "set_manager",
	TxTypeSetRouting:        "set_routing",
	TxTypeTransferOwnership: "transfer_ownership",
	TxTypeAcceptOwnership:   "accept_ownership",
	TxTypeCreateSurvey:      "create_survey",
	TxTypeCancelSurvey:      "cancel_survey",
	TxTypePayRewards:        "pay_rewards",
	TxTypeSetBadgeURI:       "set_badge_uri",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tx_0x%02x", byte(t))
}

// ParseTxType resolves a transaction type from its name.
func ParseTxType(name string) (TxType, bool) {
	for t, candidate := range txTypeNames {
		if candidate == name {
			return t, true
		}
	}
	return 0, false
}

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	_, ok := txTypeNames[t]
	return ok
}

var ErrInvalidTxSignature = errors.New("types: invalid transaction signature")

// Transaction is a signed request to the ledger. Data carries the
// RLP-encoded payload for Type; Value is the native amount attached to the
// call.
type Transaction struct {
	ChainID uint64   `json:"chainId"`
	Type    TxType   `json:"type"`
	Nonce   uint64   `json:"nonce"`
	Value   *big.Int `json:"value"`
	Data    []byte   `json:"data"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from *[20]byte
}

type unsignedTx struct {
	ChainID uint64
	Type    TxType
	Nonce   uint64
	Value   *big.Int
	Data    []byte
}

// Hash returns the keccak256 hash of the unsigned transaction fields.
func (tx *Transaction) Hash() ([32]byte, error) {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	encoded, err := rlp.EncodeToBytes(unsignedTx{tx.ChainID, tx.Type, tx.Nonce, value, tx.Data})
	if err != nil {
		return [32]byte{}, err
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}

// Sign signs the transaction with privKey and caches the sender.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(hash[:], privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// SetSignature installs a 65-byte [R || S || V] signature.
func (tx *Transaction) SetSignature(sig []byte) error {
	if len(sig) != 65 {
		return fmt.Errorf("%w: expected 65 bytes, got %d", ErrInvalidTxSignature, len(sig))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetUint64(uint64(v))
	tx.from = nil
	return nil
}

// Signature returns the [R || S || V] form with V as 27/28.
func (tx *Transaction) Signature() ([]byte, error) {
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, ErrInvalidTxSignature
	}
	if tx.R.BitLen() > 256 || tx.S.BitLen() > 256 || !tx.V.IsUint64() {
		return nil, ErrInvalidTxSignature
	}
	sig := make([]byte, 65)
	tx.R.FillBytes(sig[:32])
	tx.S.FillBytes(sig[32:64])
	v := tx.V.Uint64()
	if v != 27 && v != 28 {
		return nil, ErrInvalidTxSignature
	}
	sig[64] = byte(v)
	return sig, nil
}

// From recovers the sender address from the signature.
func (tx *Transaction) From() ([20]byte, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	var from [20]byte
	hash, err := tx.Hash()
	if err != nil {
		return from, err
	}
	sig, err := tx.Signature()
	if err != nil {
		return from, err
	}
	sig[64] -= 27
	pubKey, err := ethcrypto.SigToPub(hash[:], sig)
	if err != nil {
		return from, fmt.Errorf("%w: %v", ErrInvalidTxSignature, err)
	}
	copy(from[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	tx.from = &from
	return from, nil
}

// EncodePayload RLP-encodes payload into tx.Data.
func (tx *Transaction) EncodePayload(payload interface{}) error {
	data, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return err
	}
	tx.Data = data
	tx.from = nil
	return nil
}

// DecodePayload decodes tx.Data into out.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if len(tx.Data) == 0 {
		return fmt.Errorf("types: empty payload for %s", tx.Type)
	}
	return rlp.DecodeBytes(tx.Data, out)
}
