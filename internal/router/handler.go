package router

import (
	"context"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/everbloomhq/exchange/pkg/errors"
)

// InventoryHandler is a reference Handler backed by a fixed in-process
// inventory at a constant rate. Used for embedded setups and as the template
// for real venue adapters.
type InventoryHandler struct {
	mu        sync.Mutex
	capacity  *big.Int
	inventory *big.Int
	// rate is the maker-asset amount returned per unit of taker asset.
	rate    decimal.Decimal
	feeRate decimal.Decimal
}

func NewInventoryHandler(capacity, inventory *big.Int, rate, feeRate decimal.Decimal) *InventoryHandler {
	return &InventoryHandler{
		capacity:  new(big.Int).Set(capacity),
		inventory: new(big.Int).Set(inventory),
		rate:      rate,
		feeRate:   feeRate,
	}
}

var _ Handler = (*InventoryHandler)(nil)

func (h *InventoryHandler) Quote(context.Context, []byte) (*big.Int, decimal.Decimal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return new(big.Int).Set(h.capacity), h.feeRate, nil
}

func (h *InventoryHandler) Execute(_ context.Context, _ []byte, amount *big.Int) (*big.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if amount.Cmp(h.capacity) > 0 {
		return nil, errors.Eligibility("no_liquidity", "amount %s exceeds venue capacity %s", amount, h.capacity)
	}
	keep := decimal.NewFromInt(1).Sub(h.feeRate)
	received := decimal.NewFromBigInt(amount, 0).Mul(h.rate).Mul(keep).Floor().BigInt()
	if received.Cmp(h.inventory) > 0 {
		return nil, errors.Eligibility("no_liquidity", "venue inventory exhausted")
	}

	h.capacity.Sub(h.capacity, amount)
	h.inventory.Sub(h.inventory, received)
	return received, nil
}
