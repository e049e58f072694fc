package api

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/everbloomhq/exchange/pkg/models"
)

// OrderPayload is the wire form of an order: hex addresses, decimal-string
// amounts, hex data blobs.
type OrderPayload struct {
	Maker        string `json:"maker" binding:"required"`
	Taker        string `json:"taker"`
	MakerAsset   string `json:"maker_asset" binding:"required"`
	TakerAsset   string `json:"taker_asset" binding:"required"`
	MakerCustody string `json:"maker_custody" binding:"required"`
	TakerCustody string `json:"taker_custody" binding:"required"`
	Reseller     string `json:"reseller"`
	Verifier     string `json:"verifier"`

	MakerAmount    string `json:"maker_amount" binding:"required"`
	TakerAmount    string `json:"taker_amount" binding:"required"`
	Expires        uint64 `json:"expires"`
	Nonce          string `json:"nonce"`
	MinTakerAmount string `json:"min_taker_amount"`

	MakerData string `json:"maker_data"`
	TakerData string `json:"taker_data"`
	Signature string `json:"signature" binding:"required"`
}

// ToOrder converts the payload into the domain order.
func (p *OrderPayload) ToOrder() (*models.Order, error) {
	o := &models.Order{Expires: p.Expires}
	var err error
	if o.Maker, err = parseAddress(p.Maker, "maker"); err != nil {
		return nil, err
	}
	if o.Taker, err = parseOptionalAddress(p.Taker, "taker"); err != nil {
		return nil, err
	}
	if o.MakerAsset, err = parseAddress(p.MakerAsset, "maker_asset"); err != nil {
		return nil, err
	}
	if o.TakerAsset, err = parseAddress(p.TakerAsset, "taker_asset"); err != nil {
		return nil, err
	}
	if o.MakerCustody, err = parseAddress(p.MakerCustody, "maker_custody"); err != nil {
		return nil, err
	}
	if o.TakerCustody, err = parseAddress(p.TakerCustody, "taker_custody"); err != nil {
		return nil, err
	}
	if o.Reseller, err = parseOptionalAddress(p.Reseller, "reseller"); err != nil {
		return nil, err
	}
	if o.Verifier, err = parseOptionalAddress(p.Verifier, "verifier"); err != nil {
		return nil, err
	}
	if o.MakerAmount, err = parseAmount(p.MakerAmount, "maker_amount"); err != nil {
		return nil, err
	}
	if o.TakerAmount, err = parseAmount(p.TakerAmount, "taker_amount"); err != nil {
		return nil, err
	}
	if o.Nonce, err = parseOptionalAmount(p.Nonce, "nonce"); err != nil {
		return nil, err
	}
	if o.MinTakerAmount, err = parseOptionalAmount(p.MinTakerAmount, "min_taker_amount"); err != nil {
		return nil, err
	}
	if o.MakerData, err = parseHexData(p.MakerData, "maker_data"); err != nil {
		return nil, err
	}
	if o.TakerData, err = parseHexData(p.TakerData, "taker_data"); err != nil {
		return nil, err
	}
	if o.Signature, err = parseHexData(p.Signature, "signature"); err != nil {
		return nil, err
	}
	return o, nil
}

// FillRequest fills a single order.
type FillRequest struct {
	Order        OrderPayload `json:"order" binding:"required"`
	Taker        string       `json:"taker" binding:"required"`
	TakerAmount  string       `json:"taker_amount" binding:"required"`
	AllowPartial bool         `json:"allow_partial"`
	NoThrow      bool         `json:"no_throw"`
}

// CancelRequest cancels an order; caller must be the maker.
type CancelRequest struct {
	Order  OrderPayload `json:"order" binding:"required"`
	Caller string       `json:"caller" binding:"required"`
}

// MatchRequest matches two complementary orders.
type MatchRequest struct {
	Left           OrderPayload `json:"left" binding:"required"`
	Right          OrderPayload `json:"right" binding:"required"`
	SpreadReceiver string       `json:"spread_receiver" binding:"required"`
}

// MarketRequest fills down an order list until the target amount is reached.
type MarketRequest struct {
	Orders []OrderPayload `json:"orders" binding:"required,min=1"`
	Taker  string         `json:"taker" binding:"required"`
	Amount string         `json:"amount" binding:"required"`
}

// StatusRequest derives status for a batch of orders.
type StatusRequest struct {
	Orders []OrderPayload `json:"orders" binding:"required,min=1"`
}

// MoveFundsRequest deposits to or withdraws from a custody account.
type MoveFundsRequest struct {
	Asset  string `json:"asset" binding:"required"`
	Owner  string `json:"owner" binding:"required"`
	Amount string `json:"amount" binding:"required"`
	Data   string `json:"data"`
}

// FeeScheduleRequest installs a reseller fee schedule.
type FeeScheduleRequest struct {
	Reseller      string `json:"reseller"`
	MakerExchange string `json:"maker_exchange" binding:"required"`
	MakerReseller string `json:"maker_reseller" binding:"required"`
	TakerExchange string `json:"taker_exchange" binding:"required"`
	TakerReseller string `json:"taker_reseller" binding:"required"`
}

// WhitelistRequest toggles membership in one of the four whitelists.
type WhitelistRequest struct {
	Kind    string `json:"kind" binding:"required,oneof=custody fee_exempt reseller verifier"`
	Address string `json:"address" binding:"required"`
	Member  bool   `json:"member"`
}

// FeeAccountRequest rotates the exchange fee account.
type FeeAccountRequest struct {
	Address string `json:"address" binding:"required"`
}

// FillResponse is the wire form of FillResults.
type FillResponse struct {
	MakerFilled      string `json:"maker_filled"`
	TakerFilled      string `json:"taker_filled"`
	MakerExchangeFee string `json:"maker_exchange_fee"`
	MakerResellerFee string `json:"maker_reseller_fee"`
	TakerExchangeFee string `json:"taker_exchange_fee"`
	TakerResellerFee string `json:"taker_reseller_fee"`
}

func fillResponse(res models.FillResults) FillResponse {
	return FillResponse{
		MakerFilled:      res.MakerFilled.String(),
		TakerFilled:      res.TakerFilled.String(),
		MakerExchangeFee: res.MakerExchangeFee.String(),
		MakerResellerFee: res.MakerResellerFee.String(),
		TakerExchangeFee: res.TakerExchangeFee.String(),
		TakerResellerFee: res.TakerResellerFee.String(),
	}
}

// StatusResponse is the wire form of OrderInfo.
type StatusResponse struct {
	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint"`
	Filled      string `json:"filled"`
}

func statusResponse(info models.OrderInfo) StatusResponse {
	return StatusResponse{
		Status:      info.Status.String(),
		Fingerprint: info.Fingerprint.Hex(),
		Filled:      info.FilledAmount.String(),
	}
}

func parseAddress(s, field string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseOptionalAddress(s, field string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	return parseAddress(s, field)
}

func parseAmount(s, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s: %q is not a non-negative integer", field, s)
	}
	return v, nil
}

func parseOptionalAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	return parseAmount(s, field)
}

func parseHexData(s, field string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid hex: %w", field, err)
	}
	return b, nil
}

func parseRate(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a decimal rate", field, s)
	}
	return d, nil
}
