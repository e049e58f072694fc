package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// FillEvent is the audit record emitted exactly once per successful fill.
type FillEvent struct {
	ID          uuid.UUID      `json:"id"`
	Fingerprint common.Hash    `json:"fingerprint"`
	Maker       common.Address `json:"maker"`
	Taker       common.Address `json:"taker"`
	MakerAsset  common.Address `json:"maker_asset"`
	TakerAsset  common.Address `json:"taker_asset"`
	Reseller    common.Address `json:"reseller"`

	MakerFilled      *big.Int `json:"maker_filled"`
	TakerFilled      *big.Int `json:"taker_filled"`
	MakerExchangeFee *big.Int `json:"maker_exchange_fee"`
	MakerResellerFee *big.Int `json:"maker_reseller_fee"`
	TakerExchangeFee *big.Int `json:"taker_exchange_fee"`
	TakerResellerFee *big.Int `json:"taker_reseller_fee"`

	MakerData []byte    `json:"maker_data,omitempty"`
	TakerData []byte    `json:"taker_data,omitempty"`
	At        time.Time `json:"at"`
}

// CancelEvent is the audit record emitted exactly once per successful cancel.
type CancelEvent struct {
	ID          uuid.UUID      `json:"id"`
	Fingerprint common.Hash    `json:"fingerprint"`
	Maker       common.Address `json:"maker"`
	MakerAsset  common.Address `json:"maker_asset"`
	TakerAsset  common.Address `json:"taker_asset"`
	Reseller    common.Address `json:"reseller"`
	MakerAmount *big.Int       `json:"maker_amount"`
	TakerAmount *big.Int       `json:"taker_amount"`
	MakerData   []byte         `json:"maker_data,omitempty"`
	At          time.Time      `json:"at"`
}
