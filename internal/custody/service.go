// Package custody implements the balance-holding service mediating all asset
// movements. Its transfer primitive is dual-authorized: the caller must be a
// platform-whitelisted operator AND the funds' owner must have separately
// opted in to trust that caller. Neither condition alone moves funds.
package custody

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/everbloomhq/exchange/internal/guard"
	"github.com/everbloomhq/exchange/pkg/errors"
	"github.com/everbloomhq/exchange/pkg/metrics"
)

// Transfer describes one authorized movement between owners.
//
// PullFromDeposit selects the source: the owner's deposit balance, or their
// pre-approved external allowance. PushToDeposit selects the destination: the
// recipient's deposit balance, or delivery outside the custody ledger.
type Transfer struct {
	Asset           common.Address
	From            common.Address
	To              common.Address
	Amount          *big.Int
	Data            []byte
	PullFromDeposit bool
	PushToDeposit   bool
}

// Transferrer is the capability the settlement engine and router hold on a
// custody service.
type Transferrer interface {
	Address() common.Address
	TransferFrom(ctx context.Context, caller common.Address, t Transfer) error
	Reverse(ctx context.Context, caller common.Address, t Transfer) error
}

// Service is one custody service instance, identified by its address.
type Service struct {
	address common.Address
	store   Store
	logger  *zap.Logger
	guard   guard.Guard

	mu         sync.RWMutex
	operators  map[common.Address]bool
	approvals  map[common.Address]map[common.Address]bool
	allowances map[common.Address]map[common.Address]*big.Int
}

var _ Transferrer = (*Service)(nil)

// NewService builds a custody service over the given balance store.
func NewService(address common.Address, store Store, logger *zap.Logger) *Service {
	return &Service{
		address:    address,
		store:      store,
		logger:     logger,
		operators:  make(map[common.Address]bool),
		approvals:  make(map[common.Address]map[common.Address]bool),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Address returns the service's identity.
func (s *Service) Address() common.Address { return s.address }

// SetOperator toggles platform-level operator trust. Admin controlled.
func (s *Service) SetOperator(operator common.Address, trusted bool) {
	s.mu.Lock()
	if trusted {
		s.operators[operator] = true
	} else {
		delete(s.operators, operator)
	}
	s.mu.Unlock()
	s.logger.Info("custody operator updated",
		zap.String("service", s.address.Hex()),
		zap.String("operator", operator.Hex()),
		zap.Bool("trusted", trusted),
	)
}

// ApproveOperator records the owner's personal opt-in for one operator.
func (s *Service) ApproveOperator(owner, operator common.Address, approved bool) {
	s.mu.Lock()
	if approved {
		if s.approvals[owner] == nil {
			s.approvals[owner] = make(map[common.Address]bool)
		}
		s.approvals[owner][operator] = true
	} else {
		delete(s.approvals[owner], operator)
	}
	s.mu.Unlock()
}

// SetAllowance records external funds the owner has pre-approved for pull.
func (s *Service) SetAllowance(asset, owner common.Address, amount *big.Int) {
	s.mu.Lock()
	if s.allowances[asset] == nil {
		s.allowances[asset] = make(map[common.Address]*big.Int)
	}
	s.allowances[asset][owner] = new(big.Int).Set(amount)
	s.mu.Unlock()
}

func (s *Service) allowance(asset, owner common.Address) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.allowances[asset][owner]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Deposit credits the owner's balance.
func (s *Service) Deposit(ctx context.Context, asset, owner common.Address, amount *big.Int, data []byte) error {
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return errors.Eligibility("invalid_amount", "deposit amount must be positive")
	}
	if err := s.store.Apply(ctx, []Movement{{Asset: asset, Owner: owner, Delta: amount}}); err != nil {
		return err
	}
	metrics.CustodyTransfers.WithLabelValues("deposit").Inc()
	s.logger.Debug("deposit",
		zap.String("asset", asset.Hex()),
		zap.String("owner", owner.Hex()),
		zap.String("amount", amount.String()),
	)
	return nil
}

// Withdraw debits the owner's balance.
func (s *Service) Withdraw(ctx context.Context, asset, owner common.Address, amount *big.Int, data []byte) error {
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return errors.Eligibility("invalid_amount", "withdraw amount must be positive")
	}
	if err := s.store.Apply(ctx, []Movement{{Asset: asset, Owner: owner, Delta: new(big.Int).Neg(amount)}}); err != nil {
		return err
	}
	metrics.CustodyTransfers.WithLabelValues("withdraw").Inc()
	s.logger.Debug("withdraw",
		zap.String("asset", asset.Hex()),
		zap.String("owner", owner.Hex()),
		zap.String("amount", amount.String()),
	)
	return nil
}

// BalanceOf returns the owner's deposit balance.
func (s *Service) BalanceOf(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	return s.store.Balance(ctx, asset, owner)
}

// Available returns the deposit balance plus any pre-approved external
// allowance, the total a transfer may pull.
func (s *Service) Available(ctx context.Context, asset, owner common.Address, data []byte) (*big.Int, error) {
	bal, err := s.store.Balance(ctx, asset, owner)
	if err != nil {
		return nil, err
	}
	return bal.Add(bal, s.allowance(asset, owner)), nil
}

// Authorize checks the dual-authorization invariant for a prospective caller
// without moving funds.
func (s *Service) Authorize(caller, from common.Address) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.operators[caller] {
		return errors.Authorization("operator_not_whitelisted", "caller %s is not a whitelisted operator", caller.Hex())
	}
	if !s.approvals[from][caller] {
		return errors.Authorization("operator_not_approved", "owner %s has not approved operator %s", from.Hex(), caller.Hex())
	}
	return nil
}

// TransferFrom moves funds on behalf of their owner. Both legs of the dual
// authorization are required.
func (s *Service) TransferFrom(ctx context.Context, caller common.Address, t Transfer) error {
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()

	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return errors.Eligibility("invalid_amount", "transfer amount must be positive")
	}
	if err := s.Authorize(caller, t.From); err != nil {
		return err
	}

	moves, err := s.plan(t)
	if err != nil {
		return err
	}
	if err := s.store.Apply(ctx, moves); err != nil {
		return err
	}
	s.settleAllowance(t, false)

	metrics.CustodyTransfers.WithLabelValues("transfer").Inc()
	s.logger.Debug("transfer",
		zap.String("caller", caller.Hex()),
		zap.String("asset", t.Asset.Hex()),
		zap.String("from", t.From.Hex()),
		zap.String("to", t.To.Hex()),
		zap.String("amount", t.Amount.String()),
	)
	return nil
}

// Reverse unwinds a previously executed transfer, restoring balances when a
// later step of an atomic plan fails. The caller must be a whitelisted
// operator; the owner approval leg is not required since a reversal only
// re-credits what the matching forward transfer debited.
func (s *Service) Reverse(ctx context.Context, caller common.Address, t Transfer) error {
	s.mu.RLock()
	trusted := s.operators[caller]
	s.mu.RUnlock()
	if !trusted {
		return errors.Authorization("operator_not_whitelisted", "caller %s is not a whitelisted operator", caller.Hex())
	}

	moves, err := s.plan(t)
	if err != nil {
		return err
	}
	for i := range moves {
		moves[i].Delta = new(big.Int).Neg(moves[i].Delta)
	}
	if err := s.store.Apply(ctx, moves); err != nil {
		return err
	}
	s.settleAllowance(t, true)
	return nil
}

// plan translates a Transfer into ledger movements. Pulling from the external
// allowance or pushing outside the ledger crosses the custody boundary, so
// those legs carry no deposit movement.
func (s *Service) plan(t Transfer) ([]Movement, error) {
	var moves []Movement
	if t.PullFromDeposit {
		moves = append(moves, Movement{Asset: t.Asset, Owner: t.From, Delta: new(big.Int).Neg(t.Amount)})
	} else if s.allowance(t.Asset, t.From).Cmp(t.Amount) < 0 {
		return nil, errors.Eligibility("insufficient_allowance", "external allowance of %s below transfer amount", t.From.Hex())
	}
	if t.PushToDeposit {
		moves = append(moves, Movement{Asset: t.Asset, Owner: t.To, Delta: new(big.Int).Set(t.Amount)})
	}
	return moves, nil
}

// settleAllowance consumes (or on reverse, restores) the external allowance
// backing a non-deposit pull.
func (s *Service) settleAllowance(t Transfer, reverse bool) {
	if t.PullFromDeposit {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowances[t.Asset] == nil {
		s.allowances[t.Asset] = make(map[common.Address]*big.Int)
	}
	cur := s.allowances[t.Asset][t.From]
	if cur == nil {
		cur = new(big.Int)
	}
	if reverse {
		cur = new(big.Int).Add(cur, t.Amount)
	} else {
		cur = new(big.Int).Sub(cur, t.Amount)
	}
	s.allowances[t.Asset][t.From] = cur
}
