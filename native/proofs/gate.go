package proofs

import (
	"time"

	"surveyledger/native/common"
)

var (
	ErrInvalidMessage = common.NewError(common.ClassReplay, moduleName, "INVALID_MESSAGE", "message already consumed")
	ErrExpired        = common.NewError(common.ClassExpiry, moduleName, "EXPIRED", "proof expired")
)

// Gate validates freshness, replay protection and signatures for every
// signer-restricted operation. It does not check roles; callers decide which
// signers they accept.
type Gate struct {
	registry *Registry
	nowFn    func() time.Time
}

// NewGate wires a gate to the registry holding consumed tokens. The registry
// should write to committed state so that a consumed token survives a failure
// later in the same operation.
func NewGate(registry *Registry) *Gate {
	return &Gate{registry: registry, nowFn: time.Now}
}

// SetNowFunc overrides the clock used for expiry checks.
func (g *Gate) SetNowFunc(now func() time.Time) {
	if now == nil {
		g.nowFn = time.Now
		return
	}
	g.nowFn = now
}

// Registry exposes the token registry backing the gate.
func (g *Gate) Registry() *Registry { return g.registry }

// Preauthorize checks hash, token, expiry and signature in that order and, on
// success, consumes the token and returns the recovered signer.
func (g *Gate) Preauthorize(hash [32]byte, token [32]byte, expiry uint64, sig []byte) ([20]byte, error) {
	var signer [20]byte
	if hash == ([32]byte{}) {
		return signer, ErrInvalidMessage
	}
	used, err := g.registry.IsUsed(token)
	if err != nil {
		return signer, err
	}
	if used {
		return signer, ErrTokenReused
	}
	now := g.nowFn().Unix()
	if now > 0 && uint64(now) > expiry {
		return signer, ErrExpired
	}
	signer, err = Recover(hash, sig)
	if err != nil {
		return [20]byte{}, err
	}
	if err := g.registry.MarkUsed(token); err != nil {
		return [20]byte{}, err
	}
	return signer, nil
}
