// Package verifier defines the pluggable per-order eligibility check.
package verifier

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/everbloomhq/exchange/pkg/models"
)

// Verifier decides whether a taker may fill an order for a given amount. It
// must behave as a pure predicate from the engine's perspective: its only
// failure mode is returning false.
type Verifier interface {
	Verify(ctx context.Context, order *models.Order, takerAmount *big.Int, taker common.Address) bool
}

// Directory resolves verifier implementations by address.
type Directory struct {
	mu        sync.RWMutex
	verifiers map[common.Address]Verifier
}

func NewDirectory() *Directory {
	return &Directory{verifiers: make(map[common.Address]Verifier)}
}

// Register adds or replaces a verifier implementation.
func (d *Directory) Register(addr common.Address, v Verifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verifiers[addr] = v
}

// Lookup returns the verifier registered at addr.
func (d *Directory) Lookup(addr common.Address) (Verifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.verifiers[addr]
	return v, ok
}

// TakerAllowlist approves fills only from a fixed set of takers.
type TakerAllowlist struct {
	mu     sync.RWMutex
	takers map[common.Address]bool
}

func NewTakerAllowlist(takers ...common.Address) *TakerAllowlist {
	m := make(map[common.Address]bool, len(takers))
	for _, t := range takers {
		m[t] = true
	}
	return &TakerAllowlist{takers: m}
}

// Allow adds a taker to the allowlist.
func (a *TakerAllowlist) Allow(taker common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.takers[taker] = true
}

func (a *TakerAllowlist) Verify(_ context.Context, _ *models.Order, _ *big.Int, taker common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.takers[taker]
}

// FuncVerifier adapts a plain function to the Verifier interface.
type FuncVerifier func(ctx context.Context, order *models.Order, takerAmount *big.Int, taker common.Address) bool

func (f FuncVerifier) Verify(ctx context.Context, order *models.Order, takerAmount *big.Int, taker common.Address) bool {
	return f(ctx, order, takerAmount, taker)
}
