// Package models contains the domain types shared across the exchange services.
package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus is the derived lifecycle state of an order. It is never stored;
// it is recomputed from the persisted fill/cancel records and the clock.
type OrderStatus uint8

const (
	// OrderInvalid means a reseller, verifier or custody service referenced by
	// the order is not whitelisted.
	OrderInvalid OrderStatus = iota
	// OrderInvalidSignature means the signature does not recover to the maker.
	OrderInvalidSignature
	// OrderInvalidMakerAmount means the order was signed with a zero maker amount.
	OrderInvalidMakerAmount
	// OrderInvalidTakerAmount means the order was signed with a zero taker amount.
	OrderInvalidTakerAmount
	// OrderFullyFilled means the cumulative filled amount reached the taker amount.
	OrderFullyFilled
	// OrderExpired means the order's expiration timestamp has passed.
	OrderExpired
	// OrderCancelled means the maker cancelled the order.
	OrderCancelled
	// OrderFillable means the order is currently eligible to be filled.
	OrderFillable
)

func (s OrderStatus) String() string {
	switch s {
	case OrderInvalid:
		return "INVALID"
	case OrderInvalidSignature:
		return "INVALID_SIGNATURE"
	case OrderInvalidMakerAmount:
		return "INVALID_MAKER_AMOUNT"
	case OrderInvalidTakerAmount:
		return "INVALID_TAKER_AMOUNT"
	case OrderFullyFilled:
		return "FULLY_FILLED"
	case OrderExpired:
		return "EXPIRED"
	case OrderCancelled:
		return "CANCELLED"
	case OrderFillable:
		return "FILLABLE"
	default:
		return "UNKNOWN"
	}
}

// Order is a signed commitment by a maker to exchange MakerAmount of the maker
// asset for TakerAmount of the taker asset. Orders are immutable once signed;
// every field except the signature is covered by the fingerprint.
type Order struct {
	Maker        common.Address `json:"maker"`
	Taker        common.Address `json:"taker"` // zero address = any taker
	MakerAsset   common.Address `json:"maker_asset"`
	TakerAsset   common.Address `json:"taker_asset"`
	MakerCustody common.Address `json:"maker_custody"` // custody service holding the maker asset
	TakerCustody common.Address `json:"taker_custody"` // custody service holding the taker asset
	Reseller     common.Address `json:"reseller"`      // zero address = no reseller
	Verifier     common.Address `json:"verifier"`      // zero address = no verifier

	MakerAmount    *big.Int `json:"maker_amount"`
	TakerAmount    *big.Int `json:"taker_amount"`
	Expires        uint64   `json:"expires"` // unix seconds
	Nonce          *big.Int `json:"nonce"`
	MinTakerAmount *big.Int `json:"min_taker_amount"` // zero = no floor

	// MakerData and TakerData are passed through to the custody services,
	// e.g. to disambiguate non-fungible items.
	MakerData []byte `json:"maker_data"`
	TakerData []byte `json:"taker_data"`

	Signature []byte `json:"signature"`
}

// RestrictsTaker reports whether the order names a specific taker.
func (o *Order) RestrictsTaker() bool {
	return o.Taker != (common.Address{})
}

// HasReseller reports whether the order carries a reseller entitled to a fee cut.
func (o *Order) HasReseller() bool {
	return o.Reseller != (common.Address{})
}

// HasVerifier reports whether fills must be approved by an eligibility verifier.
func (o *Order) HasVerifier() bool {
	return o.Verifier != (common.Address{})
}

// HasMinimum reports whether the order enforces a minimum fill amount.
func (o *Order) HasMinimum() bool {
	return o.MinTakerAmount != nil && o.MinTakerAmount.Sign() > 0
}

// Remaining returns TakerAmount - filled, floored at zero.
func (o *Order) Remaining(filled *big.Int) *big.Int {
	rem := new(big.Int).Sub(o.TakerAmount, filled)
	if rem.Sign() < 0 {
		return new(big.Int)
	}
	return rem
}

// SameAssetPair reports whether two orders trade the same asset pair on the
// same custody services, in the same direction.
func (o *Order) SameAssetPair(other *Order) bool {
	return o.MakerAsset == other.MakerAsset &&
		o.TakerAsset == other.TakerAsset &&
		o.MakerCustody == other.MakerCustody &&
		o.TakerCustody == other.TakerCustody
}

// OrderInfo is the derived view of an order: its status, fingerprint and the
// cumulative amount filled so far.
type OrderInfo struct {
	Status       OrderStatus `json:"status"`
	Fingerprint  common.Hash `json:"fingerprint"`
	FilledAmount *big.Int    `json:"filled_amount"`
}

// FillResults reports the amounts moved by a single fill. It is ephemeral:
// computed, returned and emitted, never persisted.
type FillResults struct {
	MakerFilled      *big.Int `json:"maker_filled"`
	TakerFilled      *big.Int `json:"taker_filled"`
	MakerExchangeFee *big.Int `json:"maker_exchange_fee"`
	MakerResellerFee *big.Int `json:"maker_reseller_fee"`
	TakerExchangeFee *big.Int `json:"taker_exchange_fee"`
	TakerResellerFee *big.Int `json:"taker_reseller_fee"`
}

// ZeroFillResults returns an all-zero result, used by the no-throw fill path.
func ZeroFillResults() FillResults {
	return FillResults{
		MakerFilled:      new(big.Int),
		TakerFilled:      new(big.Int),
		MakerExchangeFee: new(big.Int),
		MakerResellerFee: new(big.Int),
		TakerExchangeFee: new(big.Int),
		TakerResellerFee: new(big.Int),
	}
}

// Accumulate adds other's amounts into f, for batch fill aggregation.
func (f *FillResults) Accumulate(other FillResults) {
	f.MakerFilled.Add(f.MakerFilled, other.MakerFilled)
	f.TakerFilled.Add(f.TakerFilled, other.TakerFilled)
	f.MakerExchangeFee.Add(f.MakerExchangeFee, other.MakerExchangeFee)
	f.MakerResellerFee.Add(f.MakerResellerFee, other.MakerResellerFee)
	f.TakerExchangeFee.Add(f.TakerExchangeFee, other.TakerExchangeFee)
	f.TakerResellerFee.Add(f.TakerResellerFee, other.TakerResellerFee)
}

// MatchedFillResults reports the outcome of matching two complementary orders.
type MatchedFillResults struct {
	Left   FillResults `json:"left"`
	Right  FillResults `json:"right"`
	Spread *big.Int    `json:"spread"`
}
