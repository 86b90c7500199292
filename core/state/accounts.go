package state

import (
	"fmt"
	"math/big"

	"surveyledger/core/types"
)

var (
	accountPrefix = []byte("account:")
	supplyKey     = []byte("supply:native")
)

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

// GetAccount loads the account stored for addr. Unknown addresses yield an
// empty account rather than an error.
func GetAccount(kv KV, addr [20]byte) (*types.Account, error) {
	account := new(types.Account)
	ok, err := kv.KVGet(accountKey(addr), account)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !ok || account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

// PutAccount persists the account for addr.
func PutAccount(kv KV, addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	stored := account.Clone()
	if stored.Balance.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	return kv.KVPut(accountKey(addr), stored)
}

// Supply returns the tracked native supply.
func Supply(kv KV) (*big.Int, error) {
	total := new(big.Int)
	ok, err := kv.KVGet(supplyKey, total)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return total, nil
}

// SetSupply overwrites the tracked native supply.
func SetSupply(kv KV, total *big.Int) error {
	if total == nil || total.Sign() < 0 {
		return fmt.Errorf("supply must be non-negative")
	}
	return kv.KVPut(supplyKey, total)
}
