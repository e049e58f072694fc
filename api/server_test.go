package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/everbloomhq/exchange/internal/custody"
	"github.com/everbloomhq/exchange/internal/fees"
	"github.com/everbloomhq/exchange/internal/registry"
	"github.com/everbloomhq/exchange/internal/settlement"
	"github.com/everbloomhq/exchange/internal/signing"
	"github.com/everbloomhq/exchange/internal/verifier"
	"github.com/everbloomhq/exchange/pkg/models"
)

var (
	engineAddr   = common.HexToAddress("0xe1")
	custodyAAddr = common.HexToAddress("0xc1")
	custodyBAddr = common.HexToAddress("0xc2")
	assetA       = common.HexToAddress("0xa1")
	assetB       = common.HexToAddress("0xb2")
)

type apiFixture struct {
	router   *gin.Engine
	engine   *settlement.Engine
	registry *registry.Registry

	makerKey *ecdsa.PrivateKey
	maker    common.Address
	taker    common.Address
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	makerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	maker := crypto.PubkeyToAddress(makerKey.PublicKey)
	taker := common.HexToAddress("0x0b")

	reg := registry.New(log)
	reg.SetCustodyService(custodyAAddr, true)
	reg.SetCustodyService(custodyBAddr, true)

	feeSvc := fees.NewService(log, decimal.RequireFromString("0.05"))
	feeSvc.SetFeeAccount(common.HexToAddress("0xfe"))

	custodyA := custody.NewService(custodyAAddr, custody.NewMemoryStore(), log)
	custodyB := custody.NewService(custodyBAddr, custody.NewMemoryStore(), log)
	custodies := custody.NewDirectory()
	custodies.Register(custodyA)
	custodies.Register(custodyB)

	for _, svc := range []*custody.Service{custodyA, custodyB} {
		svc.SetOperator(engineAddr, true)
	}
	custodyA.ApproveOperator(maker, engineAddr, true)
	custodyB.ApproveOperator(taker, engineAddr, true)

	ctx := context.Background()
	require.NoError(t, custodyA.Deposit(ctx, assetA, maker, big.NewInt(100_000), nil))
	require.NoError(t, custodyB.Deposit(ctx, assetB, taker, big.NewInt(100_000), nil))

	engine := settlement.NewEngine(engineAddr, settlement.NewMemoryStore(), custodies, reg, feeSvc,
		verifier.NewDirectory(), settlement.NewMemoryPublisher(), log)

	srv := NewServer(engine, custodies, reg, feeSvc, log)
	return &apiFixture{
		router:   srv.Router(),
		engine:   engine,
		registry: reg,
		makerKey: makerKey,
		maker:    maker,
		taker:    taker,
	}
}

func (f *apiFixture) signedPayload(t *testing.T, nonce int64) OrderPayload {
	t.Helper()
	o := &models.Order{
		Maker:          f.maker,
		MakerAsset:     assetA,
		TakerAsset:     assetB,
		MakerCustody:   custodyAAddr,
		TakerCustody:   custodyBAddr,
		MakerAmount:    big.NewInt(1000),
		TakerAmount:    big.NewInt(500),
		Expires:        uint64(time.Now().Add(time.Hour).Unix()),
		Nonce:          big.NewInt(nonce),
		MinTakerAmount: new(big.Int),
	}
	sig, err := signing.Sign(f.engine.Fingerprint(o), f.makerKey)
	require.NoError(t, err)

	return OrderPayload{
		Maker:        o.Maker.Hex(),
		MakerAsset:   o.MakerAsset.Hex(),
		TakerAsset:   o.TakerAsset.Hex(),
		MakerCustody: o.MakerCustody.Hex(),
		TakerCustody: o.TakerCustody.Hex(),
		MakerAmount:  o.MakerAmount.String(),
		TakerAmount:  o.TakerAmount.String(),
		Expires:      o.Expires,
		Nonce:        o.Nonce.String(),
		Signature:    "0x" + hex.EncodeToString(sig),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/orders/status", StatusRequest{
		Orders: []OrderPayload{f.signedPayload(t, 1)},
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	orders := body["orders"].([]interface{})
	require.Len(t, orders, 1)
	first := orders[0].(map[string]interface{})
	assert.Equal(t, "FILLABLE", first["status"])
	assert.Equal(t, "0", first["filled"])
}

func TestFillEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/orders/fill", FillRequest{
		Order:       f.signedPayload(t, 1),
		Taker:       f.taker.Hex(),
		TakerAmount: "250",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "500", body["maker_filled"])
	assert.Equal(t, "250", body["taker_filled"])
}

func TestFillEndpointConflictOnCancelledOrder(t *testing.T) {
	f := newAPIFixture(t)
	payload := f.signedPayload(t, 1)

	w := f.do(t, http.MethodPost, "/api/v1/orders/cancel", CancelRequest{
		Order:  payload,
		Caller: f.maker.Hex(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/v1/orders/fill", FillRequest{
		Order:       payload,
		Taker:       f.taker.Hex(),
		TakerAmount: "250",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDepositAndBalanceEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	owner := common.HexToAddress("0x77")

	w := f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/custody/%s/deposit", custodyAAddr.Hex()),
		MoveFundsRequest{Asset: assetA.Hex(), Owner: owner.Hex(), Amount: "123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/custody/%s/balance?asset=%s&owner=%s", custodyAAddr.Hex(), assetA.Hex(), owner.Hex()),
		nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "123", decodeBody(t, w)["balance"])
}

func TestWhitelistEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	addr := common.HexToAddress("0x4e")

	w := f.do(t, http.MethodPost, "/api/v1/admin/whitelist", WhitelistRequest{
		Kind: "reseller", Address: addr.Hex(), Member: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.registry.IsReseller(addr))
}

func TestFeeScheduleEndpointRejectsOverCap(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/admin/fees/schedule", FeeScheduleRequest{
		MakerExchange: "0.04",
		MakerReseller: "0",
		TakerExchange: "0.04",
		TakerReseller: "0",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestBadRequestOnMalformedOrder(t *testing.T) {
	f := newAPIFixture(t)
	payload := f.signedPayload(t, 1)
	payload.Maker = "not-an-address"

	w := f.do(t, http.MethodPost, "/api/v1/orders/status", StatusRequest{
		Orders: []OrderPayload{payload},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
