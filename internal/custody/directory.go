package custody

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Directory resolves custody services by address. The settlement engine and
// router look services up per order; registration happens at wiring time.
type Directory struct {
	mu       sync.RWMutex
	services map[common.Address]Transferrer
}

func NewDirectory() *Directory {
	return &Directory{services: make(map[common.Address]Transferrer)}
}

// Register adds or replaces a custody service.
func (d *Directory) Register(svc Transferrer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services[svc.Address()] = svc
}

// Lookup returns the custody service at addr.
func (d *Directory) Lookup(addr common.Address) (Transferrer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	svc, ok := d.services[addr]
	return svc, ok
}
