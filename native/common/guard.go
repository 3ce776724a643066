package common

import (
	"errors"
	"sync"
)

// ErrReentrantCall is returned when a guarded operation is entered again while
// an outer invocation is still executing, typically from inside an external
// token-transfer callback.
var ErrReentrantCall = errors.New("reentrant call")

// ReentrancyGuard is a scoped, non-blocking lock held by every state-mutating
// engine operation for its full duration. A reentrant Enter fails
// deterministically instead of waiting, so nested calls can never observe
// half-applied ledger state.
type ReentrancyGuard struct {
	mu      sync.Mutex
	entered bool
}

// Enter acquires the guard. It must be paired with Leave on every exit path.
func (g *ReentrancyGuard) Enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entered {
		return ErrReentrantCall
	}
	g.entered = true
	return nil
}

// Leave releases the guard.
func (g *ReentrancyGuard) Leave() {
	g.mu.Lock()
	g.entered = false
	g.mu.Unlock()
}
