package common

// ErrReentrant is returned when a mutating entry point is invoked while
// another one on the same instance is still running.
var ErrReentrant = NewError(ClassReentrancy, "ledger", "REENTRANT", "reentrant call")

// Guard rejects re-entry into a single-writer component. Serialising
// independent callers is the host's job; Guard only catches a call that
// arrives while the guarded section is active, which under a serial host can
// only come from a callback issued inside that section.
type Guard struct {
	entered bool
}

// Enter marks the guarded section as active. The returned function releases
// it and must be deferred by the caller.
func (g *Guard) Enter() (func(), error) {
	if g.entered {
		return nil, ErrReentrant
	}
	g.entered = true
	return func() { g.entered = false }, nil
}

// Active reports whether a guarded section is running.
func (g *Guard) Active() bool { return g.entered }
