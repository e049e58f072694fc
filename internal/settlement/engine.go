// Package settlement implements the order settlement and matching engine: it
// derives order status from persistent fill/cancel records, computes and
// executes fills with fee splitting, and matches complementary orders.
package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/everbloomhq/exchange/internal/custody"
	"github.com/everbloomhq/exchange/internal/fees"
	"github.com/everbloomhq/exchange/internal/guard"
	"github.com/everbloomhq/exchange/internal/registry"
	"github.com/everbloomhq/exchange/internal/signing"
	"github.com/everbloomhq/exchange/internal/verifier"
	"github.com/everbloomhq/exchange/pkg/errors"
	"github.com/everbloomhq/exchange/pkg/metrics"
	"github.com/everbloomhq/exchange/pkg/models"
)

// Engine settles signed orders against custody balances. Its address scopes
// order fingerprints, so two engine instances never share fill state, and it
// acts as the operator identity on every custody transfer.
type Engine struct {
	address   common.Address
	store     Store
	custodies *custody.Directory
	registry  *registry.Registry
	fees      *fees.Service
	verifiers *verifier.Directory
	publisher AuditPublisher
	logger    *zap.Logger

	guard guard.Guard
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the expiration clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires a settlement engine.
func NewEngine(
	address common.Address,
	store Store,
	custodies *custody.Directory,
	reg *registry.Registry,
	feeSvc *fees.Service,
	verifiers *verifier.Directory,
	publisher AuditPublisher,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		address:   address,
		store:     store,
		custodies: custodies,
		registry:  reg,
		fees:      feeSvc,
		verifiers: verifiers,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Address returns the engine's instance identity.
func (e *Engine) Address() common.Address { return e.address }

// Fingerprint returns an order's identity scoped to this engine.
func (e *Engine) Fingerprint(o *models.Order) common.Hash {
	return signing.Fingerprint(e.address, o)
}

// DeriveStatus computes the order's current status fresh from persistent
// state and the clock. The precedence is a contract external callers branch
// on: whitelist failures, then signature, then zero amounts, then fully
// filled, then expired, then cancelled, then fillable. A fully-filled order
// that has also expired reports FULLY_FILLED.
func (e *Engine) DeriveStatus(ctx context.Context, o *models.Order) (models.OrderInfo, error) {
	info := models.OrderInfo{
		Fingerprint:  e.Fingerprint(o),
		FilledAmount: new(big.Int),
	}

	if o.HasReseller() && !e.registry.IsReseller(o.Reseller) {
		info.Status = models.OrderInvalid
		return info, nil
	}
	if o.HasVerifier() && !e.registry.IsVerifier(o.Verifier) {
		info.Status = models.OrderInvalid
		return info, nil
	}
	if !e.registry.IsCustodyService(o.MakerCustody) || !e.registry.IsCustodyService(o.TakerCustody) {
		info.Status = models.OrderInvalid
		return info, nil
	}

	if !signing.Verify(info.Fingerprint, o.Signature, o.Maker) {
		info.Status = models.OrderInvalidSignature
		return info, nil
	}

	if amt(o.MakerAmount).Sign() == 0 {
		info.Status = models.OrderInvalidMakerAmount
		return info, nil
	}
	if amt(o.TakerAmount).Sign() == 0 {
		info.Status = models.OrderInvalidTakerAmount
		return info, nil
	}

	filled, err := e.store.FilledAmount(ctx, info.Fingerprint)
	if err != nil {
		return info, err
	}
	info.FilledAmount = filled
	if filled.Cmp(o.TakerAmount) >= 0 {
		info.Status = models.OrderFullyFilled
		return info, nil
	}

	if uint64(e.now().Unix()) >= o.Expires {
		info.Status = models.OrderExpired
		return info, nil
	}

	cancelled, err := e.store.IsCancelled(ctx, info.Fingerprint)
	if err != nil {
		return info, err
	}
	if cancelled {
		info.Status = models.OrderCancelled
		return info, nil
	}

	info.Status = models.OrderFillable
	return info, nil
}

// DeriveStatusBatch derives status for several orders in one call.
func (e *Engine) DeriveStatusBatch(ctx context.Context, orders []*models.Order) ([]models.OrderInfo, error) {
	infos := make([]models.OrderInfo, len(orders))
	for i, o := range orders {
		info, err := e.DeriveStatus(ctx, o)
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}
	return infos, nil
}

// Fill settles up to takerAmount of the order against the taker's balances.
// With allowPartial the amount is clamped to the remaining unfilled quantity;
// without it, exceeding the remainder fails. The operation is atomic: either
// all fee and principal transfers land and the filled amount is persisted, or
// nothing changes.
func (e *Engine) Fill(ctx context.Context, o *models.Order, taker common.Address, takerAmount *big.Int, allowPartial bool) (models.FillResults, error) {
	if err := e.guard.Enter(); err != nil {
		return models.ZeroFillResults(), err
	}
	defer e.guard.Exit()
	return e.fill(ctx, o, taker, takerAmount, allowPartial)
}

// FillNoThrow attempts a fill and converts eligibility, insufficient-
// remaining, authorization and arithmetic failures into a zero result so
// batch callers can aggregate. Configuration and storage failures still
// propagate; they signal accounting problems a batch must not paper over.
func (e *Engine) FillNoThrow(ctx context.Context, o *models.Order, taker common.Address, takerAmount *big.Int, allowPartial bool) (models.FillResults, error) {
	if err := e.guard.Enter(); err != nil {
		return models.ZeroFillResults(), err
	}
	defer e.guard.Exit()
	return e.fillNoThrow(ctx, o, taker, takerAmount, allowPartial)
}

func (e *Engine) fillNoThrow(ctx context.Context, o *models.Order, taker common.Address, takerAmount *big.Int, allowPartial bool) (models.FillResults, error) {
	res, err := e.fill(ctx, o, taker, takerAmount, allowPartial)
	if err != nil {
		if errors.Recoverable(err) {
			return models.ZeroFillResults(), nil
		}
		return models.ZeroFillResults(), err
	}
	return res, nil
}

func (e *Engine) fill(ctx context.Context, o *models.Order, taker common.Address, takerAmount *big.Int, allowPartial bool) (models.FillResults, error) {
	zero := models.ZeroFillResults()

	if takerAmount == nil || takerAmount.Sign() <= 0 {
		return zero, e.fail(errors.Eligibility("invalid_fill_amount", "taker amount to fill must be positive"))
	}

	info, err := e.DeriveStatus(ctx, o)
	if err != nil {
		return zero, e.fail(err)
	}
	if info.Status != models.OrderFillable {
		return zero, e.fail(errors.Eligibility("order_not_fillable", "order is %s", info.Status))
	}
	if o.RestrictsTaker() && taker != o.Taker {
		return zero, e.fail(errors.Eligibility("taker_mismatch", "order is restricted to taker %s", o.Taker.Hex()))
	}
	if o.HasMinimum() && takerAmount.Cmp(o.MinTakerAmount) < 0 {
		return zero, e.fail(errors.Eligibility("below_minimum", "fill amount below order minimum %s", o.MinTakerAmount))
	}
	if o.HasVerifier() {
		v, ok := e.verifiers.Lookup(o.Verifier)
		if !ok {
			return zero, e.fail(errors.Configuration("verifier_unbound", "no verifier registered at %s", o.Verifier.Hex()))
		}
		if !v.Verify(ctx, o, takerAmount, taker) {
			return zero, e.fail(errors.Eligibility("verifier_rejected", "verifier %s rejected the fill", o.Verifier.Hex()))
		}
	}

	remaining := o.Remaining(info.FilledAmount)
	takerFilled := new(big.Int).Set(takerAmount)
	if takerFilled.Cmp(remaining) > 0 {
		if !allowPartial {
			return zero, e.fail(errors.InsufficientRemaining("requested %s exceeds remaining %s", takerAmount, remaining))
		}
		takerFilled.Set(remaining)
	}

	makerFilled, err := floorScaled(o.MakerAmount, takerFilled, o.TakerAmount)
	if err != nil {
		return zero, e.fail(err)
	}

	makerExchangeFee, makerResellerFee, takerExchangeFee, takerResellerFee := e.fees.Compute(
		o.Reseller, makerFilled, takerFilled,
		e.registry.IsFeeExempt(o.MakerCustody),
		e.registry.IsFeeExempt(o.TakerCustody),
	)

	plan, err := e.fillPlan(o, taker, makerFilled, takerFilled,
		makerExchangeFee, makerResellerFee, takerExchangeFee, takerResellerFee)
	if err != nil {
		return zero, e.fail(err)
	}
	if err := e.executePlan(ctx, plan); err != nil {
		return zero, e.fail(err)
	}

	if err := e.store.AddFilled(ctx, info.Fingerprint, takerFilled); err != nil {
		// The transfers have landed; unwinding them is the only way to keep
		// the fill atomic when the state write fails.
		e.unwind(ctx, plan, len(plan))
		return zero, e.fail(err)
	}

	res := models.FillResults{
		MakerFilled:      makerFilled,
		TakerFilled:      takerFilled,
		MakerExchangeFee: makerExchangeFee,
		MakerResellerFee: makerResellerFee,
		TakerExchangeFee: takerExchangeFee,
		TakerResellerFee: takerResellerFee,
	}
	e.emitFill(ctx, o, taker, info.Fingerprint, res)
	metrics.OrderFills.WithLabelValues("single").Inc()
	e.logger.Info("order filled",
		zap.String("fingerprint", info.Fingerprint.Hex()),
		zap.String("maker", o.Maker.Hex()),
		zap.String("taker", taker.Hex()),
		zap.String("maker_filled", makerFilled.String()),
		zap.String("taker_filled", takerFilled.String()),
	)
	return res, nil
}

// fillPlan builds the ordered transfer sequence for a single fill:
// maker-exchange fee, maker-reseller fee, taker-exchange fee, taker-reseller
// fee, maker principal, taker principal. Zero-amount fee legs are omitted.
func (e *Engine) fillPlan(o *models.Order, taker common.Address, makerFilled, takerFilled, makerExchangeFee, makerResellerFee, takerExchangeFee, takerResellerFee *big.Int) ([]plannedTransfer, error) {
	makerSvc, ok := e.custodies.Lookup(o.MakerCustody)
	if !ok {
		return nil, errors.Configuration("custody_unbound", "no custody service registered at %s", o.MakerCustody.Hex())
	}
	takerSvc, ok := e.custodies.Lookup(o.TakerCustody)
	if !ok {
		return nil, errors.Configuration("custody_unbound", "no custody service registered at %s", o.TakerCustody.Hex())
	}
	feeAccount := e.fees.FeeAccount()

	var plan []plannedTransfer
	addFee := func(svc custody.Transferrer, asset, from, to common.Address, amount *big.Int, data []byte) {
		if amount.Sign() > 0 {
			plan = append(plan, plannedTransfer{svc: svc, transfer: custody.Transfer{
				Asset: asset, From: from, To: to, Amount: amount, Data: data,
				PullFromDeposit: true, PushToDeposit: true,
			}})
		}
	}

	addFee(makerSvc, o.MakerAsset, o.Maker, feeAccount, makerExchangeFee, o.MakerData)
	addFee(makerSvc, o.MakerAsset, o.Maker, o.Reseller, makerResellerFee, o.MakerData)
	addFee(takerSvc, o.TakerAsset, taker, feeAccount, takerExchangeFee, o.TakerData)
	addFee(takerSvc, o.TakerAsset, taker, o.Reseller, takerResellerFee, o.TakerData)

	plan = append(plan,
		plannedTransfer{svc: makerSvc, transfer: custody.Transfer{
			Asset: o.MakerAsset, From: o.Maker, To: taker, Amount: makerFilled,
			Data: o.MakerData, PullFromDeposit: true, PushToDeposit: true,
		}},
		plannedTransfer{svc: takerSvc, transfer: custody.Transfer{
			Asset: o.TakerAsset, From: taker, To: o.Maker, Amount: takerFilled,
			Data: o.TakerData, PullFromDeposit: true, PushToDeposit: true,
		}},
	)
	return plan, nil
}

type plannedTransfer struct {
	svc      custody.Transferrer
	transfer custody.Transfer
}

// executePlan runs the transfers in order. On a mid-sequence failure the
// already-executed prefix is reversed so the operation leaves zero partial
// state.
func (e *Engine) executePlan(ctx context.Context, plan []plannedTransfer) error {
	for i, pt := range plan {
		if err := pt.svc.TransferFrom(ctx, e.address, pt.transfer); err != nil {
			e.unwind(ctx, plan, i)
			return err
		}
	}
	return nil
}

func (e *Engine) unwind(ctx context.Context, plan []plannedTransfer, executed int) {
	for i := executed - 1; i >= 0; i-- {
		if err := plan[i].svc.Reverse(ctx, e.address, plan[i].transfer); err != nil {
			// Reversal re-credits exactly what the forward leg moved, so a
			// failure here indicates a concurrent drain of those funds and
			// demands operator attention.
			e.logger.Error("transfer reversal failed",
				zap.String("asset", plan[i].transfer.Asset.Hex()),
				zap.String("from", plan[i].transfer.From.Hex()),
				zap.String("to", plan[i].transfer.To.Hex()),
				zap.String("amount", plan[i].transfer.Amount.String()),
				zap.Error(err),
			)
		}
	}
}

// Cancel permanently removes the order from circulation. Only the maker may
// cancel, and only while the order is still fillable; cancelling twice fails
// because the first cancel makes the order non-fillable.
func (e *Engine) Cancel(ctx context.Context, o *models.Order, caller common.Address) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	if caller != o.Maker {
		return e.fail(errors.Eligibility("not_maker", "only the maker may cancel"))
	}
	info, err := e.DeriveStatus(ctx, o)
	if err != nil {
		return e.fail(err)
	}
	if info.Status != models.OrderFillable {
		return e.fail(errors.Eligibility("order_not_fillable", "order is %s", info.Status))
	}
	if err := e.store.SetCancelled(ctx, info.Fingerprint); err != nil {
		return e.fail(err)
	}

	e.publisher.PublishCancel(ctx, models.CancelEvent{
		ID:          uuid.New(),
		Fingerprint: info.Fingerprint,
		Maker:       o.Maker,
		MakerAsset:  o.MakerAsset,
		TakerAsset:  o.TakerAsset,
		Reseller:    o.Reseller,
		MakerAmount: amt(o.MakerAmount),
		TakerAmount: amt(o.TakerAmount),
		MakerData:   o.MakerData,
		At:          e.now(),
	})
	metrics.OrderCancels.Inc()
	e.logger.Info("order cancelled",
		zap.String("fingerprint", info.Fingerprint.Hex()),
		zap.String("maker", o.Maker.Hex()),
	)
	return nil
}

func (e *Engine) emitFill(ctx context.Context, o *models.Order, taker common.Address, fp common.Hash, res models.FillResults) {
	e.publisher.PublishFill(ctx, models.FillEvent{
		ID:               uuid.New(),
		Fingerprint:      fp,
		Maker:            o.Maker,
		Taker:            taker,
		MakerAsset:       o.MakerAsset,
		TakerAsset:       o.TakerAsset,
		Reseller:         o.Reseller,
		MakerFilled:      res.MakerFilled,
		TakerFilled:      res.TakerFilled,
		MakerExchangeFee: res.MakerExchangeFee,
		MakerResellerFee: res.MakerResellerFee,
		TakerExchangeFee: res.TakerExchangeFee,
		TakerResellerFee: res.TakerResellerFee,
		MakerData:        o.MakerData,
		TakerData:        o.TakerData,
		At:               e.now(),
	})
}

func (e *Engine) fail(err error) error {
	metrics.OperationFailures.WithLabelValues(string(errors.CategoryOf(err))).Inc()
	return err
}

// amt normalizes possibly-nil big.Int order fields.
func amt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
