package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWhitelistToggles(t *testing.T) {
	r := New(zap.NewNop())
	addr := common.HexToAddress("0xc1")

	assert.False(t, r.IsCustodyService(addr))
	r.SetCustodyService(addr, true)
	assert.True(t, r.IsCustodyService(addr))
	r.SetCustodyService(addr, false)
	assert.False(t, r.IsCustodyService(addr))
}

func TestWhitelistsAreIndependent(t *testing.T) {
	r := New(zap.NewNop())
	addr := common.HexToAddress("0x4e")

	r.SetReseller(addr, true)
	assert.True(t, r.IsReseller(addr))
	assert.False(t, r.IsVerifier(addr))
	assert.False(t, r.IsCustodyService(addr))
	assert.False(t, r.IsFeeExempt(addr))

	r.SetVerifier(addr, true)
	r.SetFeeExempt(addr, true)
	assert.True(t, r.IsVerifier(addr))
	assert.True(t, r.IsFeeExempt(addr))
}
