package router

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryHandlerExecutesAtRate(t *testing.T) {
	h := NewInventoryHandler(big.NewInt(1000), big.NewInt(10_000),
		decimal.RequireFromString("2"), decimal.Zero)
	ctx := context.Background()

	avail, fee, err := h.Quote(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), avail.Int64())
	assert.True(t, fee.IsZero())

	received, err := h.Execute(ctx, nil, big.NewInt(400))
	require.NoError(t, err)
	assert.Equal(t, int64(800), received.Int64())

	// Capacity shrinks with each execution.
	avail, _, err = h.Quote(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(600), avail.Int64())
}

func TestInventoryHandlerDeductsFee(t *testing.T) {
	h := NewInventoryHandler(big.NewInt(1000), big.NewInt(10_000),
		decimal.RequireFromString("2"), decimal.RequireFromString("0.1"))

	received, err := h.Execute(context.Background(), nil, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, int64(180), received.Int64()) // floor(100*2*0.9)
}

func TestInventoryHandlerRejectsOverCapacity(t *testing.T) {
	h := NewInventoryHandler(big.NewInt(50), big.NewInt(10_000),
		decimal.RequireFromString("2"), decimal.Zero)

	_, err := h.Execute(context.Background(), nil, big.NewInt(100))
	require.Error(t, err)
}

func TestInventoryHandlerRoutesEndToEnd(t *testing.T) {
	h := NewInventoryHandler(big.NewInt(1000), big.NewInt(10_000),
		decimal.RequireFromString("2"), decimal.Zero)
	f := newRouterFixture(t, h)

	received, err := f.router.Route(context.Background(), taker, venueOrder(100, 200))
	require.NoError(t, err)
	assert.Equal(t, int64(200), received.Int64())
	assert.Equal(t, int64(200), f.balance(t, assetOut))
}
