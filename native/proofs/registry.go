package proofs

import (
	"fmt"

	"surveyledger/core/state"
	"surveyledger/native/common"
)

const moduleName = "proofs"

var ErrTokenReused = common.NewError(common.ClassReplay, moduleName, "TOKEN_REUSED", "proof token already used")

// Registry tracks consumed proof tokens. The set is global across operation
// kinds and tokens are never released.
type Registry struct {
	st state.KV
}

// NewRegistry creates a registry backed by the provided state.
func NewRegistry(st state.KV) *Registry {
	return &Registry{st: st}
}

func tokenKey(token [32]byte) []byte {
	key := make([]byte, 0, len(state.PrefixProofToken)+len(token))
	key = append(key, state.PrefixProofToken...)
	return append(key, token[:]...)
}

// IsUsed reports whether token has been consumed.
func (r *Registry) IsUsed(token [32]byte) (bool, error) {
	if r == nil || r.st == nil {
		return false, fmt.Errorf("proofs: registry state not configured")
	}
	var used bool
	ok, err := r.st.KVGet(tokenKey(token), &used)
	if err != nil {
		return false, fmt.Errorf("proofs: load token: %w", err)
	}
	return ok && used, nil
}

// MarkUsed consumes token. A second call with the same token fails with
// ErrTokenReused.
func (r *Registry) MarkUsed(token [32]byte) error {
	used, err := r.IsUsed(token)
	if err != nil {
		return err
	}
	if used {
		return ErrTokenReused
	}
	if err := r.st.KVPut(tokenKey(token), true); err != nil {
		return fmt.Errorf("proofs: store token: %w", err)
	}
	return nil
}
