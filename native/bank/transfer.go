package bank

import (
	"fmt"
	"math/big"
	"sync/atomic"

	"surveyledger/core/state"
	"surveyledger/native/common"
)

const moduleName = "bank"

var (
	ErrInvalidAmount      = common.NewError(common.ClassInvalid, moduleName, "INVALID_AMOUNT", "amount must be non-negative")
	ErrInsufficientFunds  = common.NewError(common.ClassValue, moduleName, "INSUFFICIENT_FUNDS", "insufficient balance")
	ErrTransferRejected   = common.NewError(common.ClassTransfer, moduleName, "TRANSFER_REJECTED", "recipient rejected transfer")
	ErrSupplyInconsistent = common.NewError(common.ClassState, moduleName, "SUPPLY_INCONSISTENT", "supply underflow")
)

// ReceiveHook runs after a recipient has been credited. Returning an error
// rejects the transfer; the caller is expected to roll back its state view.
// Hooks model recipients that execute code on receipt, including code that
// calls back into the ledger.
type ReceiveHook func(from [20]byte, amount *big.Int) error

// Engine moves native balances between accounts on a caller-supplied state
// view so the movement commits or rolls back with the surrounding operation.
type Engine struct {
	hooks map[[20]byte]ReceiveHook
	// active counts receive hooks currently executing.
	active atomic.Int32
}

// NewEngine returns a bank engine without receive hooks.
func NewEngine() *Engine {
	return &Engine{hooks: make(map[[20]byte]ReceiveHook)}
}

// SetReceiveHook installs hook for addr. Passing nil removes it.
func (e *Engine) SetReceiveHook(addr [20]byte, hook ReceiveHook) {
	if hook == nil {
		delete(e.hooks, addr)
		return
	}
	e.hooks[addr] = hook
}

// Balance returns the native balance of addr.
func Balance(st state.KV, addr [20]byte) (*big.Int, error) {
	account, err := state.GetAccount(st, addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// Transfer debits from and credits to, then runs the recipient's receive
// hook. A zero amount is a no-op.
func (e *Engine) Transfer(st state.KV, from, to [20]byte, amount *big.Int) error {
	if st == nil {
		return fmt.Errorf("bank: state not configured")
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	sender, err := state.GetAccount(st, from)
	if err != nil {
		return err
	}
	if sender.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, sender.Balance, amount)
	}
	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	if err := state.PutAccount(st, from, sender); err != nil {
		return err
	}
	recipient, err := state.GetAccount(st, to)
	if err != nil {
		return err
	}
	recipient.Balance = new(big.Int).Add(recipient.Balance, amount)
	if err := state.PutAccount(st, to, recipient); err != nil {
		return err
	}
	if hook := e.hooks[to]; hook != nil {
		if err := e.runHook(hook, from, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferRejected, err)
		}
	}
	return nil
}

func (e *Engine) runHook(hook ReceiveHook, from [20]byte, amount *big.Int) error {
	e.active.Add(1)
	defer e.active.Add(-1)
	return hook(from, new(big.Int).Set(amount))
}

// InHook reports whether a receive hook is executing.
func (e *Engine) InHook() bool { return e.active.Load() > 0 }

// Mint credits addr with newly issued funds and raises the tracked supply.
// Genesis allocations are the only caller.
func Mint(st state.KV, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	account, err := state.GetAccount(st, addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	if err := state.PutAccount(st, addr, account); err != nil {
		return err
	}
	supply, err := state.Supply(st)
	if err != nil {
		return err
	}
	return state.SetSupply(st, new(big.Int).Add(supply, amount))
}

// CheckSupply verifies that the balances of the listed accounts do not exceed
// the tracked supply and, when complete is set, that they account for all of
// it.
func CheckSupply(st state.KV, accounts [][20]byte, complete bool) error {
	supply, err := state.Supply(st)
	if err != nil {
		return err
	}
	total := new(big.Int)
	seen := make(map[[20]byte]struct{}, len(accounts))
	for _, addr := range accounts {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		balance, err := Balance(st, addr)
		if err != nil {
			return err
		}
		total.Add(total, balance)
	}
	if total.Cmp(supply) > 0 || (complete && total.Cmp(supply) != 0) {
		return fmt.Errorf("%w: balances %s, supply %s", ErrSupplyInconsistent, total, supply)
	}
	return nil
}
