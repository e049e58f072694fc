// Package guard implements the non-reentrant lock wrapping every
// state-mutating entry point. The hazard it defends against is reentrant
// invocation, not parallel threads: a custody or verifier callback must not
// re-enter a guarded operation mid-flight.
package guard

import (
	"sync/atomic"

	"github.com/everbloomhq/exchange/pkg/errors"
)

// Guard is a boolean flag lock. Enter fails instead of blocking so a nested
// call surfaces as an authorization error rather than a deadlock.
type Guard struct {
	locked atomic.Bool
}

// Enter acquires the guard or returns a reentrant-call error.
func (g *Guard) Enter() error {
	if !g.locked.CompareAndSwap(false, true) {
		return errors.Reentrant()
	}
	return nil
}

// Exit releases the guard. Callers defer it immediately after Enter so the
// release happens even on early failure.
func (g *Guard) Exit() {
	g.locked.Store(false)
}
