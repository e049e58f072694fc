// Package fees manages per-reseller fee schedules and computes the four fee
// amounts charged on a fill.
package fees

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/everbloomhq/exchange/pkg/errors"
	"github.com/everbloomhq/exchange/pkg/models"
)

// Service holds the fee account, the global rate cap and one FeeSchedule per
// reseller. The zero address is the null reseller: orders without a reseller
// use its schedule, whose reseller-side rates must be exactly zero.
type Service struct {
	mu     sync.RWMutex
	logger *zap.Logger

	maxTotalRate decimal.Decimal
	feeAccount   common.Address
	schedules    map[common.Address]models.FeeSchedule
}

// NewService builds a fee service with the given protocol-wide rate cap.
func NewService(logger *zap.Logger, maxTotalRate decimal.Decimal) *Service {
	return &Service{
		logger:       logger,
		maxTotalRate: maxTotalRate,
		schedules:    make(map[common.Address]models.FeeSchedule),
	}
}

// SetFeeAccount rotates the account receiving exchange-side fees.
func (s *Service) SetFeeAccount(addr common.Address) {
	s.mu.Lock()
	s.feeAccount = addr
	s.mu.Unlock()
	s.logger.Info("fee account updated", zap.String("address", addr.Hex()))
}

// FeeAccount returns the current exchange fee account.
func (s *Service) FeeAccount() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeAccount
}

// SetSchedule installs or replaces a reseller's fee schedule. The total of
// the four rates must not exceed the protocol cap, and the null reseller may
// not carry reseller-side rates.
func (s *Service) SetSchedule(reseller common.Address, sched models.FeeSchedule) error {
	if sched.MakerExchange.IsNegative() || sched.MakerReseller.IsNegative() ||
		sched.TakerExchange.IsNegative() || sched.TakerReseller.IsNegative() {
		return errors.Configuration("negative_fee_rate", "fee rates must be non-negative")
	}
	if sched.Total().GreaterThan(s.maxTotalRate) {
		return errors.Configuration("fee_cap_exceeded", "total fee rate %s exceeds cap %s", sched.Total(), s.maxTotalRate)
	}
	if reseller == (common.Address{}) && sched.HasResellerRates() {
		return errors.Configuration("reseller_fee_without_reseller", "null reseller cannot carry reseller rates")
	}

	s.mu.Lock()
	s.schedules[reseller] = sched
	s.mu.Unlock()

	s.logger.Info("fee schedule updated",
		zap.String("reseller", reseller.Hex()),
		zap.String("total_rate", sched.Total().String()),
	)
	return nil
}

// RemoveSchedule deletes a reseller's schedule; its orders fall back to zero fees.
func (s *Service) RemoveSchedule(reseller common.Address) {
	s.mu.Lock()
	delete(s.schedules, reseller)
	s.mu.Unlock()
	s.logger.Info("fee schedule removed", zap.String("reseller", reseller.Hex()))
}

// ScheduleFor returns the reseller's schedule, or an all-zero schedule when
// none is configured.
func (s *Service) ScheduleFor(reseller common.Address) models.FeeSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedules[reseller]
}

// Compute derives the four fee amounts for a fill. Maker-side fees scale off
// the filled maker amount, taker-side fees off the filled taker amount. A
// fee-exempt custody service zeroes its entire side.
func (s *Service) Compute(reseller common.Address, makerFilled, takerFilled *big.Int, makerExempt, takerExempt bool) (makerExchange, makerReseller, takerExchange, takerReseller *big.Int) {
	sched := s.ScheduleFor(reseller)

	makerExchange, makerReseller = new(big.Int), new(big.Int)
	takerExchange, takerReseller = new(big.Int), new(big.Int)

	if !makerExempt {
		makerExchange = apply(sched.MakerExchange, makerFilled)
		makerReseller = apply(sched.MakerReseller, makerFilled)
	}
	if !takerExempt {
		takerExchange = apply(sched.TakerExchange, takerFilled)
		takerReseller = apply(sched.TakerReseller, takerFilled)
	}
	return
}

// apply computes floor(rate * amount) in base units.
func apply(rate decimal.Decimal, amount *big.Int) *big.Int {
	if rate.IsZero() || amount.Sign() == 0 {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(amount, 0).Mul(rate).Floor().BigInt()
}
