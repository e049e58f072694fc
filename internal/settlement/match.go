package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/everbloomhq/exchange/internal/custody"
	"github.com/everbloomhq/exchange/pkg/errors"
	"github.com/everbloomhq/exchange/pkg/metrics"
	"github.com/everbloomhq/exchange/pkg/models"
)

// Match settles two complementary orders against each other, fully consuming
// whichever order's remaining value is the limiting one and routing the
// rounding surplus to spreadReceiver.
//
// The rounding direction flips between the two branches so that whichever
// order is NOT fully consumed, its maker never settles worse than its quoted
// rate; the residual that bias creates is the spread.
func (e *Engine) Match(ctx context.Context, left, right *models.Order, spreadReceiver common.Address) (models.MatchedFillResults, error) {
	if err := e.guard.Enter(); err != nil {
		return zeroMatched(), err
	}
	defer e.guard.Exit()
	return e.match(ctx, left, right, spreadReceiver)
}

func (e *Engine) match(ctx context.Context, left, right *models.Order, spreadReceiver common.Address) (models.MatchedFillResults, error) {
	zero := zeroMatched()

	// The two orders must trade exact opposite assets on mirrored custody
	// services: left's maker asset is what right buys, and vice versa.
	if left.MakerAsset != right.TakerAsset || left.TakerAsset != right.MakerAsset {
		return zero, e.fail(errors.Eligibility("asset_mismatch", "orders do not trade opposite assets"))
	}
	if left.MakerCustody != right.TakerCustody || left.TakerCustody != right.MakerCustody {
		return zero, e.fail(errors.Eligibility("custody_mismatch", "orders do not share mirrored custody services"))
	}

	// Prices cross when left.makerAmount/left.takerAmount >=
	// right.takerAmount/right.makerAmount, checked by cross-multiplication to
	// avoid division and precision loss.
	lhs := new(big.Int).Mul(amt(left.MakerAmount), amt(right.MakerAmount))
	rhs := new(big.Int).Mul(amt(left.TakerAmount), amt(right.TakerAmount))
	if lhs.Cmp(rhs) < 0 {
		return zero, e.fail(errors.Eligibility("prices_do_not_cross", "negative spread between orders"))
	}

	leftInfo, err := e.DeriveStatus(ctx, left)
	if err != nil {
		return zero, e.fail(err)
	}
	rightInfo, err := e.DeriveStatus(ctx, right)
	if err != nil {
		return zero, e.fail(err)
	}
	if leftInfo.Status != models.OrderFillable {
		return zero, e.fail(errors.Eligibility("order_not_fillable", "left order is %s", leftInfo.Status))
	}
	if rightInfo.Status != models.OrderFillable {
		return zero, e.fail(errors.Eligibility("order_not_fillable", "right order is %s", rightInfo.Status))
	}
	if left.RestrictsTaker() && right.Maker != left.Taker {
		return zero, e.fail(errors.Eligibility("taker_mismatch", "left order is restricted to taker %s", left.Taker.Hex()))
	}
	if right.RestrictsTaker() && left.Maker != right.Taker {
		return zero, e.fail(errors.Eligibility("taker_mismatch", "right order is restricted to taker %s", right.Taker.Hex()))
	}

	res, err := e.matchedAmounts(left, right, leftInfo.FilledAmount, rightInfo.FilledAmount)
	if err != nil {
		return zero, e.fail(err)
	}

	// Each side must pass the same per-fill eligibility checks as a single
	// fill, evaluated on the full intended match amount.
	if err := e.checkSideEligibility(ctx, left, right.Maker, res.Left.TakerFilled); err != nil {
		return zero, e.fail(err)
	}
	if err := e.checkSideEligibility(ctx, right, left.Maker, res.Right.TakerFilled); err != nil {
		return zero, e.fail(err)
	}

	e.applyMatchFees(left, right, &res)

	plan, err := e.matchPlan(left, right, spreadReceiver, &res)
	if err != nil {
		return zero, e.fail(err)
	}
	if err := e.executePlan(ctx, plan); err != nil {
		return zero, e.fail(err)
	}

	// Both fill records land in one store write; a failed batch commits
	// neither, so reversing the transfers restores the exact pre-match state.
	incs := []FillIncrement{
		{Fingerprint: leftInfo.Fingerprint, Delta: res.Left.TakerFilled},
		{Fingerprint: rightInfo.Fingerprint, Delta: res.Right.TakerFilled},
	}
	if err := e.store.AddFilledBatch(ctx, incs); err != nil {
		e.unwind(ctx, plan, len(plan))
		return zero, e.fail(err)
	}

	e.emitFill(ctx, left, right.Maker, leftInfo.Fingerprint, res.Left)
	e.emitFill(ctx, right, left.Maker, rightInfo.Fingerprint, res.Right)
	metrics.OrderMatches.Inc()
	metrics.OrderFills.WithLabelValues("match").Add(2)
	e.logger.Info("orders matched",
		zap.String("left", leftInfo.Fingerprint.Hex()),
		zap.String("right", rightInfo.Fingerprint.Hex()),
		zap.String("spread", res.Spread.String()),
		zap.String("spread_receiver", spreadReceiver.Hex()),
	)
	return res, nil
}

// matchedAmounts computes both sides' filled amounts and the spread.
func (e *Engine) matchedAmounts(left, right *models.Order, leftFilled, rightFilled *big.Int) (models.MatchedFillResults, error) {
	res := zeroMatched()

	leftRemTaker := left.Remaining(leftFilled)
	rightRemTaker := right.Remaining(rightFilled)

	leftRemMaker, err := floorScaled(left.MakerAmount, leftRemTaker, left.TakerAmount)
	if err != nil {
		return res, err
	}
	rightRemMaker, err := floorScaled(right.MakerAmount, rightRemTaker, right.TakerAmount)
	if err != nil {
		return res, err
	}

	if leftRemTaker.Cmp(rightRemMaker) >= 0 {
		// Right order is fully consumed. The left maker amount is floored so
		// the left maker never pays above its quoted rate.
		res.Right.TakerFilled.Set(rightRemTaker)
		res.Right.MakerFilled.Set(rightRemMaker)
		res.Left.TakerFilled.Set(rightRemMaker)
		leftMakerFilled, err := floorScaled(left.MakerAmount, res.Left.TakerFilled, left.TakerAmount)
		if err != nil {
			return res, err
		}
		res.Left.MakerFilled.Set(leftMakerFilled)
	} else {
		// Left order is fully consumed. The right taker amount is ceiled so
		// the right maker, whose order survives, never receives worse than
		// its quoted rate.
		res.Left.TakerFilled.Set(leftRemTaker)
		res.Left.MakerFilled.Set(leftRemMaker)
		res.Right.MakerFilled.Set(leftRemTaker)
		rightTakerFilled, err := ceilScaled(right.TakerAmount, res.Right.MakerFilled, right.MakerAmount)
		if err != nil {
			return res, err
		}
		res.Right.TakerFilled.Set(rightTakerFilled)
	}

	res.Spread.Sub(res.Left.MakerFilled, res.Right.TakerFilled)
	if res.Spread.Sign() < 0 {
		// Cannot happen given the price-crossing precondition and the
		// rounding bias; guard the accounting anyway.
		return res, errors.Arithmetic("negative_spread", "matched amounts produced negative spread")
	}
	return res, nil
}

// checkSideEligibility applies the single-fill taker/minimum/verifier checks
// to one side of a match.
func (e *Engine) checkSideEligibility(ctx context.Context, o *models.Order, taker common.Address, takerFilled *big.Int) error {
	if o.HasMinimum() && takerFilled.Cmp(o.MinTakerAmount) < 0 {
		return errors.Eligibility("below_minimum", "match amount below order minimum %s", o.MinTakerAmount)
	}
	if o.HasVerifier() {
		v, ok := e.verifiers.Lookup(o.Verifier)
		if !ok {
			return errors.Configuration("verifier_unbound", "no verifier registered at %s", o.Verifier.Hex())
		}
		if !v.Verify(ctx, o, takerFilled, taker) {
			return errors.Eligibility("verifier_rejected", "verifier %s rejected the match", o.Verifier.Hex())
		}
	}
	return nil
}

func (e *Engine) applyMatchFees(left, right *models.Order, res *models.MatchedFillResults) {
	res.Left.MakerExchangeFee, res.Left.MakerResellerFee, res.Left.TakerExchangeFee, res.Left.TakerResellerFee = e.fees.Compute(
		left.Reseller, res.Left.MakerFilled, res.Left.TakerFilled,
		e.registry.IsFeeExempt(left.MakerCustody),
		e.registry.IsFeeExempt(left.TakerCustody),
	)
	res.Right.MakerExchangeFee, res.Right.MakerResellerFee, res.Right.TakerExchangeFee, res.Right.TakerResellerFee = e.fees.Compute(
		right.Reseller, res.Right.MakerFilled, res.Right.TakerFilled,
		e.registry.IsFeeExempt(right.MakerCustody),
		e.registry.IsFeeExempt(right.TakerCustody),
	)
}

// matchPlan builds the transfer sequence for a match: each order's fees in
// single-fill order, then the principal legs, then the spread.
func (e *Engine) matchPlan(left, right *models.Order, spreadReceiver common.Address, res *models.MatchedFillResults) ([]plannedTransfer, error) {
	makerSideSvc, ok := e.custodies.Lookup(left.MakerCustody)
	if !ok {
		return nil, errors.Configuration("custody_unbound", "no custody service registered at %s", left.MakerCustody.Hex())
	}
	takerSideSvc, ok := e.custodies.Lookup(left.TakerCustody)
	if !ok {
		return nil, errors.Configuration("custody_unbound", "no custody service registered at %s", left.TakerCustody.Hex())
	}
	feeAccount := e.fees.FeeAccount()

	var plan []plannedTransfer
	addLeg := func(svc custody.Transferrer, asset, from, to common.Address, amount *big.Int, data []byte) {
		if amount.Sign() > 0 {
			plan = append(plan, plannedTransfer{svc: svc, transfer: custody.Transfer{
				Asset: asset, From: from, To: to, Amount: amount, Data: data,
				PullFromDeposit: true, PushToDeposit: true,
			}})
		}
	}

	// Left order fees: maker side in left's maker asset, taker side (paid by
	// the right maker, acting as left's taker) in left's taker asset.
	addLeg(makerSideSvc, left.MakerAsset, left.Maker, feeAccount, res.Left.MakerExchangeFee, left.MakerData)
	addLeg(makerSideSvc, left.MakerAsset, left.Maker, left.Reseller, res.Left.MakerResellerFee, left.MakerData)
	addLeg(takerSideSvc, left.TakerAsset, right.Maker, feeAccount, res.Left.TakerExchangeFee, left.TakerData)
	addLeg(takerSideSvc, left.TakerAsset, right.Maker, left.Reseller, res.Left.TakerResellerFee, left.TakerData)

	// Right order fees, symmetric.
	addLeg(takerSideSvc, right.MakerAsset, right.Maker, feeAccount, res.Right.MakerExchangeFee, right.MakerData)
	addLeg(takerSideSvc, right.MakerAsset, right.Maker, right.Reseller, res.Right.MakerResellerFee, right.MakerData)
	addLeg(makerSideSvc, right.TakerAsset, left.Maker, feeAccount, res.Right.TakerExchangeFee, right.TakerData)
	addLeg(makerSideSvc, right.TakerAsset, left.Maker, right.Reseller, res.Right.TakerResellerFee, right.TakerData)

	// Principals: the left maker's asset covers the right maker's buy plus
	// the spread; the right maker's asset settles the left maker in full.
	addLeg(makerSideSvc, left.MakerAsset, left.Maker, right.Maker, res.Right.TakerFilled, left.MakerData)
	addLeg(takerSideSvc, right.MakerAsset, right.Maker, left.Maker, res.Left.TakerFilled, right.MakerData)
	addLeg(makerSideSvc, left.MakerAsset, left.Maker, spreadReceiver, res.Spread, left.MakerData)

	return plan, nil
}

func zeroMatched() models.MatchedFillResults {
	return models.MatchedFillResults{
		Left:   models.ZeroFillResults(),
		Right:  models.ZeroFillResults(),
		Spread: new(big.Int),
	}
}
