package proofs

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"surveyledger/native/common"
)

// SignatureLength is the size of an [R || S || V] recoverable signature.
const SignatureLength = 65

var ErrInvalidSignature = common.NewError(common.ClassSignature, moduleName, "INVALID_SIGNATURE", "invalid signature")

// signedDigest applies the personal-message prefix the backend signs over.
func signedDigest(hash [32]byte) []byte {
	return accounts.TextHash(hash[:])
}

// Recover returns the address that signed hash. V may be supplied as 0/1 or
// 27/28. Malformed signatures and signatures recovering to the zero address
// fail with ErrInvalidSignature.
func Recover(hash [32]byte, sig []byte) ([20]byte, error) {
	var signer [20]byte
	if len(sig) != SignatureLength {
		return signer, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(sig))
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return signer, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}
	pubKey, err := ethcrypto.SigToPub(signedDigest(hash), normalized)
	if err != nil {
		return signer, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	if recovered == (ethcommon.Address{}) {
		return signer, ErrInvalidSignature
	}
	copy(signer[:], recovered[:])
	return signer, nil
}

// Sign produces a 65-byte signature over hash with V in the 27/28 form.
func Sign(hash [32]byte, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("proofs: nil signing key")
	}
	sig, err := ethcrypto.Sign(signedDigest(hash), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}
