package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/everbloomhq/exchange/pkg/errors"
	"github.com/everbloomhq/exchange/pkg/models"
)

// MarketSell fills an ordered list of same-pair orders until takerAmountTotal
// of the taker asset has been spent. Each order is attempted with the
// no-throw fill, so one bad order contributes zero and the walk continues.
func (e *Engine) MarketSell(ctx context.Context, orders []*models.Order, taker common.Address, takerAmountTotal *big.Int) (models.FillResults, error) {
	if err := e.guard.Enter(); err != nil {
		return models.ZeroFillResults(), err
	}
	defer e.guard.Exit()

	total := models.ZeroFillResults()
	if err := checkSamePair(orders); err != nil {
		return total, e.fail(err)
	}
	if takerAmountTotal == nil || takerAmountTotal.Sign() <= 0 {
		return total, e.fail(errors.Eligibility("invalid_fill_amount", "target taker amount must be positive"))
	}

	for _, o := range orders {
		remaining := new(big.Int).Sub(takerAmountTotal, total.TakerFilled)
		if remaining.Sign() <= 0 {
			break
		}
		res, err := e.fillNoThrow(ctx, o, taker, remaining, true)
		if err != nil {
			return total, e.fail(err)
		}
		total.Accumulate(res)
	}
	return total, nil
}

// MarketBuy fills an ordered list of same-pair orders until makerAmountTotal
// of the maker asset has been acquired. The taker amount offered to each
// order is the ceiling-scaled equivalent of the maker amount still wanted, so
// the final order is never overbought.
func (e *Engine) MarketBuy(ctx context.Context, orders []*models.Order, taker common.Address, makerAmountTotal *big.Int) (models.FillResults, error) {
	if err := e.guard.Enter(); err != nil {
		return models.ZeroFillResults(), err
	}
	defer e.guard.Exit()

	total := models.ZeroFillResults()
	if err := checkSamePair(orders); err != nil {
		return total, e.fail(err)
	}
	if makerAmountTotal == nil || makerAmountTotal.Sign() <= 0 {
		return total, e.fail(errors.Eligibility("invalid_fill_amount", "target maker amount must be positive"))
	}

	for _, o := range orders {
		remaining := new(big.Int).Sub(makerAmountTotal, total.MakerFilled)
		if remaining.Sign() <= 0 {
			break
		}
		// Amounts are normalized before scaling; an absent or zero maker
		// amount fails the ratio and the order is skipped, matching the
		// no-throw fill's treatment of invalid orders.
		desiredTaker, err := ceilScaled(amt(o.TakerAmount), remaining, amt(o.MakerAmount))
		if err != nil {
			continue
		}
		if desiredTaker.Sign() == 0 {
			continue
		}
		res, err := e.fillNoThrow(ctx, o, taker, desiredTaker, true)
		if err != nil {
			return total, e.fail(err)
		}
		total.Accumulate(res)
	}
	return total, nil
}

// checkSamePair hard-fails a batch whose orders mix asset pairs; silently
// skipping those would fill against the wrong book.
func checkSamePair(orders []*models.Order) error {
	if len(orders) == 0 {
		return errors.Eligibility("empty_batch", "no orders supplied")
	}
	first := orders[0]
	for _, o := range orders[1:] {
		if !first.SameAssetPair(o) {
			return errors.Eligibility("mixed_asset_pairs", "batch orders must share one asset pair")
		}
	}
	return nil
}
