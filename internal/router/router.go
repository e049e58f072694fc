// Package router dispatches generic venue orders to per-venue Handler
// adapters, moving funds through the same dual-authorized custody primitive
// the settlement engine uses.
package router

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/everbloomhq/exchange/internal/custody"
	"github.com/everbloomhq/exchange/internal/guard"
	"github.com/everbloomhq/exchange/pkg/errors"
)

// Handler adapts one external venue. Implementations are independent; the
// router selects them by handler identity.
type Handler interface {
	// Quote returns how much of the taker asset the venue can absorb right
	// now and the venue's fee rate.
	Quote(ctx context.Context, data []byte) (available *big.Int, feeRate decimal.Decimal, err error)
	// Execute trades amount of the taker asset, returning the maker-asset
	// amount received.
	Execute(ctx context.Context, data []byte, amount *big.Int) (received *big.Int, err error)
}

// Order is a generic venue order routed to a Handler.
type Order struct {
	HandlerID   common.Address
	TakerAsset  common.Address
	MakerAsset  common.Address
	TakerAmount *big.Int
	MakerAmount *big.Int
	Custody     common.Address
	Data        []byte
}

// Router holds the identity-to-handler table.
type Router struct {
	address   common.Address
	custodies *custody.Directory
	logger    *zap.Logger
	guard     guard.Guard

	mu       sync.RWMutex
	handlers map[common.Address]Handler
}

func New(address common.Address, custodies *custody.Directory, logger *zap.Logger) *Router {
	return &Router{
		address:   address,
		custodies: custodies,
		logger:    logger,
		handlers:  make(map[common.Address]Handler),
	}
}

// Address returns the router's operator identity on custody services.
func (r *Router) Address() common.Address { return r.address }

// Register installs a handler for a venue identity.
func (r *Router) Register(id common.Address, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = h
	r.logger.Info("venue handler registered", zap.String("handler", id.Hex()))
}

func (r *Router) handler(id common.Address) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Route pulls the taker's asset out of custody, executes it on the venue, and
// deposits the received asset back to the taker. Returns the amount received.
func (r *Router) Route(ctx context.Context, taker common.Address, ord Order) (*big.Int, error) {
	if err := r.guard.Enter(); err != nil {
		return nil, err
	}
	defer r.guard.Exit()

	h, ok := r.handler(ord.HandlerID)
	if !ok {
		return nil, errors.Configuration("handler_unbound", "no handler registered at %s", ord.HandlerID.Hex())
	}
	svcRaw, ok := r.custodies.Lookup(ord.Custody)
	if !ok {
		return nil, errors.Configuration("custody_unbound", "no custody service registered at %s", ord.Custody.Hex())
	}
	svc, ok := svcRaw.(*custody.Service)
	if !ok {
		return nil, errors.Configuration("custody_unbound", "custody service at %s does not support deposits", ord.Custody.Hex())
	}
	if ord.TakerAmount == nil || ord.TakerAmount.Sign() <= 0 {
		return nil, errors.Eligibility("invalid_amount", "taker amount must be positive")
	}

	available, feeRate, err := h.Quote(ctx, ord.Data)
	if err != nil {
		return nil, errors.Eligibility("quote_failed", "venue quote failed").WithCause(err)
	}
	amount := new(big.Int).Set(ord.TakerAmount)
	if amount.Cmp(available) > 0 {
		amount.Set(available)
	}
	if amount.Sign() == 0 {
		return nil, errors.Eligibility("no_liquidity", "venue has no capacity for this order")
	}

	// Pull the taker asset to the handler outside the deposit ledger; the
	// venue consumes it during Execute.
	pull := custody.Transfer{
		Asset: ord.TakerAsset, From: taker, To: ord.HandlerID, Amount: amount,
		Data: ord.Data, PullFromDeposit: true, PushToDeposit: false,
	}
	if err := svc.TransferFrom(ctx, r.address, pull); err != nil {
		return nil, err
	}

	received, err := h.Execute(ctx, ord.Data, amount)
	if err != nil {
		if rerr := svc.Reverse(ctx, r.address, pull); rerr != nil {
			r.logger.Error("route pull reversal failed", zap.Error(rerr))
		}
		return nil, errors.Eligibility("execute_failed", "venue execution failed").WithCause(err)
	}

	// The taker accepts the venue's effective rate down to the order's own
	// limit price, net of the quoted venue fee.
	minReceived, err := minAcceptable(ord, amount, feeRate)
	if err != nil {
		return nil, err
	}
	if received.Cmp(minReceived) < 0 {
		if rerr := svc.Reverse(ctx, r.address, pull); rerr != nil {
			r.logger.Error("route pull reversal failed", zap.Error(rerr))
		}
		return nil, errors.Eligibility("under_limit", "venue returned %s, below acceptable %s", received, minReceived)
	}

	if err := svc.Deposit(ctx, ord.MakerAsset, taker, received, ord.Data); err != nil {
		return nil, err
	}

	r.logger.Info("order routed",
		zap.String("handler", ord.HandlerID.Hex()),
		zap.String("taker", taker.Hex()),
		zap.String("spent", amount.String()),
		zap.String("received", received.String()),
	)
	return received, nil
}

// minAcceptable scales the order's limit price to the executed amount and
// discounts the venue fee, flooring in the taker's favor.
func minAcceptable(ord Order, amount *big.Int, feeRate decimal.Decimal) (*big.Int, error) {
	if ord.TakerAmount.Sign() == 0 {
		return nil, errors.Arithmetic("division_by_zero", "order taker amount is zero")
	}
	scaled := new(big.Int).Mul(ord.MakerAmount, amount)
	scaled.Quo(scaled, ord.TakerAmount)
	if feeRate.IsZero() {
		return scaled, nil
	}
	keep := decimal.NewFromInt(1).Sub(feeRate)
	if keep.IsNegative() {
		return nil, errors.Configuration("invalid_fee_rate", "venue fee rate above 100%%")
	}
	return decimal.NewFromBigInt(scaled, 0).Mul(keep).Floor().BigInt(), nil
}
