// Package registry holds the four admin-controlled whitelists checked on
// every order status derivation: trusted custody services, fee-exempt custody
// services, trusted resellers and trusted verifiers.
package registry

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Registry is safe for concurrent use. Membership toggles are rare admin
// operations; lookups happen on the hot path.
type Registry struct {
	mu     sync.RWMutex
	logger *zap.Logger

	custodyServices map[common.Address]bool
	feeExempt       map[common.Address]bool
	resellers       map[common.Address]bool
	verifiers       map[common.Address]bool
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:          logger,
		custodyServices: make(map[common.Address]bool),
		feeExempt:       make(map[common.Address]bool),
		resellers:       make(map[common.Address]bool),
		verifiers:       make(map[common.Address]bool),
	}
}

// SetCustodyService toggles custody-service trust.
func (r *Registry) SetCustodyService(addr common.Address, trusted bool) {
	r.set(r.custodyServices, addr, trusted, "custody_service")
}

// IsCustodyService reports whether addr is a trusted custody service.
func (r *Registry) IsCustodyService(addr common.Address) bool {
	return r.get(r.custodyServices, addr)
}

// SetFeeExempt toggles the fee exemption for a custody service. Exempt
// services hold indivisible assets for which proportional fees make no sense.
func (r *Registry) SetFeeExempt(addr common.Address, exempt bool) {
	r.set(r.feeExempt, addr, exempt, "fee_exempt")
}

// IsFeeExempt reports whether fees are skipped for the custody service.
func (r *Registry) IsFeeExempt(addr common.Address) bool {
	return r.get(r.feeExempt, addr)
}

// SetReseller toggles reseller trust.
func (r *Registry) SetReseller(addr common.Address, trusted bool) {
	r.set(r.resellers, addr, trusted, "reseller")
}

// IsReseller reports whether addr is a trusted reseller.
func (r *Registry) IsReseller(addr common.Address) bool {
	return r.get(r.resellers, addr)
}

// SetVerifier toggles verifier trust.
func (r *Registry) SetVerifier(addr common.Address, trusted bool) {
	r.set(r.verifiers, addr, trusted, "verifier")
}

// IsVerifier reports whether addr is a trusted verifier.
func (r *Registry) IsVerifier(addr common.Address) bool {
	return r.get(r.verifiers, addr)
}

func (r *Registry) set(m map[common.Address]bool, addr common.Address, v bool, kind string) {
	r.mu.Lock()
	if v {
		m[addr] = true
	} else {
		delete(m, addr)
	}
	r.mu.Unlock()

	r.logger.Info("whitelist updated",
		zap.String("kind", kind),
		zap.String("address", addr.Hex()),
		zap.Bool("member", v),
	)
}

func (r *Registry) get(m map[common.Address]bool, addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return m[addr]
}
