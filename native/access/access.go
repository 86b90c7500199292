package access

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"surveyledger/core/events"
	"surveyledger/core/state"
	"surveyledger/core/types"
	"surveyledger/native/common"
)

const moduleName = "access"

const (
	EventTypeManagerUpdated       = "access.manager.updated"
	EventTypeRoutingUpdated       = "access.routing.updated"
	EventTypeOwnershipStarted     = "access.ownership.started"
	EventTypeOwnershipTransferred = "access.ownership.transferred"
)

var (
	ErrNotOwner           = common.NewError(common.ClassAuthorization, moduleName, "NOT_OWNER", "caller is not the owner")
	ErrNotPendingOwner    = common.NewError(common.ClassAuthorization, moduleName, "NOT_PENDING_OWNER", "caller is not the pending owner")
	ErrZeroAddress        = common.NewError(common.ClassInvalid, moduleName, "ZERO_ADDRESS", "zero address")
	ErrAlreadyInitialized = common.NewError(common.ClassState, moduleName, "ALREADY_INITIALIZED", "owner already set")
	ErrNotInitialized     = common.NewError(common.ClassState, moduleName, "NOT_INITIALIZED", "owner not set")
)

// Routing is the payout destination for routing fees together with the
// address answerable for it.
type Routing struct {
	Address [20]byte
	Owner   [20]byte
}

type accessEvent struct {
	evt *types.Event
}

func (e accessEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e accessEvent) Event() *types.Event { return e.evt }

// Engine maintains the owner, the manager set and the payout routing pair.
type Engine struct {
	state   state.KV
	emitter events.Emitter
}

// NewEngine returns an engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend.
func (e *Engine) SetState(st state.KV) { e.state = st }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(accessEvent{evt: evt})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return fmt.Errorf("access: state not configured")
	}
	return nil
}

func managerKey(addr [20]byte) []byte {
	key := make([]byte, 0, len(state.PrefixAccessMgr)+len(addr))
	key = append(key, state.PrefixAccessMgr...)
	return append(key, addr[:]...)
}

func (e *Engine) loadAddress(key string) ([20]byte, bool, error) {
	var addr [20]byte
	ok, err := e.state.KVGet([]byte(key), &addr)
	if err != nil {
		return addr, false, fmt.Errorf("access: load %s: %w", key, err)
	}
	return addr, ok && addr != ([20]byte{}), nil
}

// Initialize sets the first owner. It can only run once.
func (e *Engine) Initialize(owner [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if owner == ([20]byte{}) {
		return ErrZeroAddress
	}
	if _, ok, err := e.loadAddress(state.PrefixAccessOwner); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInitialized
	}
	if err := e.state.KVPut([]byte(state.PrefixAccessOwner), owner); err != nil {
		return err
	}
	e.emit(ownershipEvent(EventTypeOwnershipTransferred, [20]byte{}, owner))
	return nil
}

// Owner returns the current owner.
func (e *Engine) Owner() ([20]byte, error) {
	if err := e.ready(); err != nil {
		return [20]byte{}, err
	}
	owner, ok, err := e.loadAddress(state.PrefixAccessOwner)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, ErrNotInitialized
	}
	return owner, nil
}

// PendingOwner returns the address nominated by TransferOwnership, if any.
func (e *Engine) PendingOwner() ([20]byte, bool, error) {
	if err := e.ready(); err != nil {
		return [20]byte{}, false, err
	}
	return e.loadAddress(state.PrefixAccessPend)
}

func (e *Engine) requireOwner(caller [20]byte) error {
	owner, err := e.Owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrNotOwner
	}
	return nil
}

// SetManager grants or revokes the manager role. Owner only.
func (e *Engine) SetManager(caller, addr [20]byte, enabled bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if addr == ([20]byte{}) {
		return ErrZeroAddress
	}
	var err error
	if enabled {
		err = e.state.KVPut(managerKey(addr), true)
	} else {
		err = e.state.KVDelete(managerKey(addr))
	}
	if err != nil {
		return fmt.Errorf("access: store manager: %w", err)
	}
	e.emit(&types.Event{Type: EventTypeManagerUpdated, Attributes: map[string]string{
		"manager": hex.EncodeToString(addr[:]),
		"enabled": strconv.FormatBool(enabled),
	}})
	return nil
}

// IsManager reports whether addr holds the manager role.
func (e *Engine) IsManager(addr [20]byte) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if addr == ([20]byte{}) {
		return false, nil
	}
	var enabled bool
	ok, err := e.state.KVGet(managerKey(addr), &enabled)
	if err != nil {
		return false, fmt.Errorf("access: load manager: %w", err)
	}
	return ok && enabled, nil
}

// SetRouting replaces the payout routing pair. Owner only.
func (e *Engine) SetRouting(caller, route, routeOwner [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if route == ([20]byte{}) || routeOwner == ([20]byte{}) {
		return ErrZeroAddress
	}
	if err := e.state.KVPut([]byte(state.PrefixAccessRoute), Routing{Address: route, Owner: routeOwner}); err != nil {
		return fmt.Errorf("access: store routing: %w", err)
	}
	e.emit(&types.Event{Type: EventTypeRoutingUpdated, Attributes: map[string]string{
		"route":      hex.EncodeToString(route[:]),
		"routeOwner": hex.EncodeToString(routeOwner[:]),
	}})
	return nil
}

// Routing returns the configured payout routing pair. The boolean is false
// until SetRouting has been called.
func (e *Engine) Routing() (Routing, bool, error) {
	var routing Routing
	if err := e.ready(); err != nil {
		return routing, false, err
	}
	ok, err := e.state.KVGet([]byte(state.PrefixAccessRoute), &routing)
	if err != nil {
		return Routing{}, false, fmt.Errorf("access: load routing: %w", err)
	}
	return routing, ok, nil
}

// TransferOwnership nominates next as the new owner. The nomination takes
// effect once next calls AcceptOwnership. Owner only.
func (e *Engine) TransferOwnership(caller, next [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if next == ([20]byte{}) {
		return ErrZeroAddress
	}
	if err := e.state.KVPut([]byte(state.PrefixAccessPend), next); err != nil {
		return fmt.Errorf("access: store pending owner: %w", err)
	}
	e.emit(ownershipEvent(EventTypeOwnershipStarted, caller, next))
	return nil
}

// AcceptOwnership completes a transfer started by TransferOwnership.
func (e *Engine) AcceptOwnership(caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	pending, ok, err := e.loadAddress(state.PrefixAccessPend)
	if err != nil {
		return err
	}
	if !ok || pending != caller {
		return ErrNotPendingOwner
	}
	previous, err := e.Owner()
	if err != nil {
		return err
	}
	if err := e.state.KVPut([]byte(state.PrefixAccessOwner), caller); err != nil {
		return fmt.Errorf("access: store owner: %w", err)
	}
	if err := e.state.KVDelete([]byte(state.PrefixAccessPend)); err != nil {
		return fmt.Errorf("access: clear pending owner: %w", err)
	}
	e.emit(ownershipEvent(EventTypeOwnershipTransferred, previous, caller))
	return nil
}

func ownershipEvent(eventType string, previous, next [20]byte) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"previousOwner": hex.EncodeToString(previous[:]),
		"newOwner":      hex.EncodeToString(next[:]),
	}}
}
