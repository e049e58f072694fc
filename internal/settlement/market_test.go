package settlement

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everbloomhq/exchange/pkg/errors"
	"github.com/everbloomhq/exchange/pkg/models"
)

func TestMarketSellWalksOrders(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	orders := []*models.Order{
		f.signedOrder(t, nil),
		f.signedOrder(t, nil),
	}

	res, err := f.engine.MarketSell(ctx, orders, f.taker, big.NewInt(750))
	require.NoError(t, err)
	assert.Equal(t, int64(750), res.TakerFilled.Int64())
	assert.Equal(t, int64(1500), res.MakerFilled.Int64())

	assert.Equal(t, models.OrderFullyFilled, f.status(t, orders[0]).Status)
	assert.Equal(t, int64(250), f.status(t, orders[1]).FilledAmount.Int64())
}

func TestMarketSellSkipsIneligibleOrders(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	orders := []*models.Order{
		f.signedOrder(t, nil),
		f.signedOrder(t, nil),
	}
	require.NoError(t, f.engine.Cancel(ctx, orders[0], f.maker))

	res, err := f.engine.MarketSell(ctx, orders, f.taker, big.NewInt(300))
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.TakerFilled.Int64())
	assert.Zero(t, f.status(t, orders[0]).FilledAmount.Sign())
	assert.Equal(t, int64(300), f.status(t, orders[1]).FilledAmount.Int64())
}

func TestMarketSellStopsAtTarget(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	orders := []*models.Order{
		f.signedOrder(t, nil),
		f.signedOrder(t, nil),
	}

	res, err := f.engine.MarketSell(ctx, orders, f.taker, big.NewInt(400))
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.TakerFilled.Int64())
	assert.Zero(t, f.status(t, orders[1]).FilledAmount.Sign())
}

func TestMarketBuyAcquiresTarget(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	orders := []*models.Order{
		f.signedOrder(t, nil),
		f.signedOrder(t, nil),
	}

	res, err := f.engine.MarketBuy(ctx, orders, f.taker, big.NewInt(1500))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), res.MakerFilled.Int64())
	assert.Equal(t, int64(750), res.TakerFilled.Int64())

	assert.Equal(t, models.OrderFullyFilled, f.status(t, orders[0]).Status)
	assert.Equal(t, int64(250), f.status(t, orders[1]).FilledAmount.Int64())
}

func TestMarketBatchRejectsMixedPairs(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	orders := []*models.Order{
		f.signedOrder(t, nil),
		f.signedOrder(t, func(o *models.Order) { o.TakerAsset = assetA }),
	}

	_, err := f.engine.MarketSell(ctx, orders, f.taker, big.NewInt(100))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryEligibility, errors.CategoryOf(err))

	_, err = f.engine.MarketBuy(ctx, orders, f.taker, big.NewInt(100))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryEligibility, errors.CategoryOf(err))
}

func TestMarketBatchRejectsEmpty(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.MarketSell(context.Background(), nil, f.taker, big.NewInt(100))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryEligibility, errors.CategoryOf(err))
}

func TestMarketBuySkipsOrderWithoutAmounts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	orders := []*models.Order{
		f.signedOrder(t, func(o *models.Order) {
			o.MakerAmount = nil
			o.TakerAmount = nil
		}),
		f.signedOrder(t, nil),
	}

	res, err := f.engine.MarketBuy(ctx, orders, f.taker, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.MakerFilled.Int64())
	assert.Equal(t, int64(250), res.TakerFilled.Int64())
	assert.Zero(t, f.status(t, orders[0]).FilledAmount.Sign())
}
