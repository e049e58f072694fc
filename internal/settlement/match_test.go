package settlement

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everbloomhq/exchange/pkg/errors"
	"github.com/everbloomhq/exchange/pkg/models"
)

// rightOrder builds a taker-signed order selling assetB for assetA, the
// mirror of the fixture's default order.
func (f *engineFixture) rightOrder(t *testing.T, makerAmount, takerAmount int64, mut func(*models.Order)) *models.Order {
	t.Helper()
	f.nextNonce++
	o := &models.Order{
		Maker:          f.taker,
		MakerAsset:     assetB,
		TakerAsset:     assetA,
		MakerCustody:   custodyBAddr,
		TakerCustody:   custodyAAddr,
		MakerAmount:    big.NewInt(makerAmount),
		TakerAmount:    big.NewInt(takerAmount),
		Expires:        f.signedOrderExpiry(),
		Nonce:          big.NewInt(f.nextNonce),
		MinTakerAmount: new(big.Int),
	}
	if mut != nil {
		mut(o)
	}
	f.signAs(t, o, f.takerKey)
	return o
}

func (f *engineFixture) signedOrderExpiry() uint64 {
	return uint64(f.clock.Add(time.Hour).Unix())
}

func TestMatchRightFullyConsumed(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	left := f.signedOrder(t, nil)           // 1000 A for 500 B
	right := f.rightOrder(t, 480, 960, nil) // 480 B for 960 A, same price

	res, err := f.engine.Match(ctx, left, right, spreadAddr)
	require.NoError(t, err)

	// Right's remaining maker amount (480 B) is below left's remaining taker
	// amount (500 B), so the right order is consumed in full.
	assert.Equal(t, int64(480), res.Left.TakerFilled.Int64())
	assert.Equal(t, int64(960), res.Left.MakerFilled.Int64())
	assert.Equal(t, int64(480), res.Right.MakerFilled.Int64())
	assert.Equal(t, int64(960), res.Right.TakerFilled.Int64())
	// Identical prices leave nothing between the two fills.
	assert.Zero(t, res.Spread.Sign())

	assert.Equal(t, int64(480), f.status(t, left).FilledAmount.Int64())
	assert.Equal(t, models.OrderFullyFilled, f.status(t, right).Status)

	assert.Equal(t, int64(960), f.balance(t, f.custodyA, assetA, f.taker))
	assert.Equal(t, int64(480), f.balance(t, f.custodyB, assetB, f.maker))
	assert.Len(t, f.publisher.Fills, 2)
}

func TestMatchCapturesSpread(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	left := f.signedOrder(t, func(o *models.Order) { // 2.5 A per B
		o.MakerAmount = big.NewInt(1000)
		o.TakerAmount = big.NewInt(400)
	})
	right := f.rightOrder(t, 200, 400, nil) // 2 A per B

	res, err := f.engine.Match(ctx, left, right, spreadAddr)
	require.NoError(t, err)

	assert.Equal(t, int64(200), res.Left.TakerFilled.Int64())
	assert.Equal(t, int64(500), res.Left.MakerFilled.Int64())
	assert.Equal(t, int64(400), res.Right.TakerFilled.Int64())
	assert.Equal(t, int64(100), res.Spread.Int64())

	assert.Equal(t, int64(100), f.balance(t, f.custodyA, assetA, spreadAddr))
	// The left maker parts with exactly its filled maker amount.
	assert.Equal(t, int64(1_000_000-500), f.balance(t, f.custodyA, assetA, f.maker))
}

func TestMatchLeftFullyConsumed(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	left := f.signedOrder(t, func(o *models.Order) { // 2.5 A per B
		o.MakerAmount = big.NewInt(1000)
		o.TakerAmount = big.NewInt(400)
	})
	right := f.rightOrder(t, 480, 960, nil) // 2 A per B

	res, err := f.engine.Match(ctx, left, right, spreadAddr)
	require.NoError(t, err)

	// Left's remaining taker amount (400 B) is below right's remaining maker
	// amount (480 B), so the left order is consumed in full and the right
	// taker amount is ceiling-scaled at right's own rate.
	assert.Equal(t, int64(400), res.Left.TakerFilled.Int64())
	assert.Equal(t, int64(1000), res.Left.MakerFilled.Int64())
	assert.Equal(t, int64(400), res.Right.MakerFilled.Int64())
	assert.Equal(t, int64(800), res.Right.TakerFilled.Int64())
	assert.Equal(t, int64(200), res.Spread.Int64())

	assert.Equal(t, models.OrderFullyFilled, f.status(t, left).Status)
	assert.Equal(t, int64(800), f.status(t, right).FilledAmount.Int64())
}

func TestMatchRejectsNonCrossingPrices(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	left := f.signedOrder(t, nil)            // 2 A per B
	right := f.rightOrder(t, 480, 1000, nil) // asks ~2.08 A per B

	_, err := f.engine.Match(ctx, left, right, spreadAddr)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryEligibility, errors.CategoryOf(err))
}

func TestMatchRejectsMismatchedSides(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	left := f.signedOrder(t, nil)

	t.Run("assets not opposite", func(t *testing.T) {
		right := f.rightOrder(t, 480, 960, func(o *models.Order) {
			o.TakerAsset = common.HexToAddress("0xcc")
		})
		_, err := f.engine.Match(ctx, left, right, spreadAddr)
		require.Error(t, err)
		assert.Equal(t, errors.CategoryEligibility, errors.CategoryOf(err))
	})

	t.Run("custody not mirrored", func(t *testing.T) {
		right := f.rightOrder(t, 480, 960, func(o *models.Order) {
			o.TakerCustody = custodyBAddr
		})
		_, err := f.engine.Match(ctx, left, right, spreadAddr)
		require.Error(t, err)
		assert.Equal(t, errors.CategoryEligibility, errors.CategoryOf(err))
	})
}

func TestMatchRequiresBothFillable(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	left := f.signedOrder(t, nil)
	right := f.rightOrder(t, 480, 960, nil)
	require.NoError(t, f.engine.Cancel(ctx, right, f.taker))

	_, err := f.engine.Match(ctx, left, right, spreadAddr)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryEligibility, errors.CategoryOf(err))
	assert.Zero(t, f.status(t, left).FilledAmount.Sign())
}

func TestMatchChargesBothSides(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	require.NoError(t, f.fees.SetSchedule(common.Address{}, models.FeeSchedule{
		MakerExchange: decimal.RequireFromString("0.01"),
	}))

	left := f.signedOrder(t, nil)
	right := f.rightOrder(t, 480, 960, nil)

	res, err := f.engine.Match(ctx, left, right, spreadAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Left.MakerExchangeFee.Int64())  // floor(0.01*960)
	assert.Equal(t, int64(4), res.Right.MakerExchangeFee.Int64()) // floor(0.01*480)

	assert.Equal(t, int64(9), f.balance(t, f.custodyA, assetA, feeAccount))
	assert.Equal(t, int64(4), f.balance(t, f.custodyB, assetB, feeAccount))
}

// stateWriteFailStore serves reads from the wrapped store but rejects batch
// fill writes.
type stateWriteFailStore struct {
	*MemoryStore
}

func (s *stateWriteFailStore) AddFilledBatch(context.Context, []FillIncrement) error {
	return errors.New(errors.CategoryInternal, "order_store_write", "store unavailable")
}

func TestMatchRollsBackOnStateWriteFailure(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	left := f.signedOrder(t, nil)
	right := f.rightOrder(t, 480, 960, nil)
	f.engine.store = &stateWriteFailStore{MemoryStore: f.store}

	_, err := f.engine.Match(ctx, left, right, spreadAddr)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryInternal, errors.CategoryOf(err))

	// Neither order's durable fill advanced and every transfer was reversed.
	assert.Zero(t, f.status(t, left).FilledAmount.Sign())
	assert.Zero(t, f.status(t, right).FilledAmount.Sign())
	assert.Equal(t, int64(1_000_000), f.balance(t, f.custodyA, assetA, f.maker))
	assert.Equal(t, int64(1_000_000), f.balance(t, f.custodyB, assetB, f.taker))
	assert.Zero(t, f.balance(t, f.custodyA, assetA, f.taker))
	assert.Zero(t, f.balance(t, f.custodyB, assetB, f.maker))
	assert.Empty(t, f.publisher.Fills)
}
