package custody

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/everbloomhq/exchange/pkg/errors"
	"github.com/everbloomhq/exchange/pkg/models"
)

// Movement is a signed balance delta for one (asset, owner) pair.
type Movement struct {
	Asset common.Address
	Owner common.Address
	Delta *big.Int
}

// Store persists custody balances. Apply commits a batch of movements
// atomically: either every delta lands or none does, and no balance may go
// negative.
type Store interface {
	Balance(ctx context.Context, asset, owner common.Address) (*big.Int, error)
	Apply(ctx context.Context, moves []Movement) error
}

// MemoryStore keeps balances in process. Used in tests and embedded setups.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

func (m *MemoryStore) Balance(_ context.Context, asset, owner common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.balances[asset][owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (m *MemoryStore) Apply(_ context.Context, moves []Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch against current balances before mutating.
	next := make(map[common.Address]map[common.Address]*big.Int, len(moves))
	for _, mv := range moves {
		cur := next[mv.Asset][mv.Owner]
		if cur == nil {
			cur = new(big.Int)
			if b, ok := m.balances[mv.Asset][mv.Owner]; ok {
				cur.Set(b)
			}
		}
		cur = new(big.Int).Add(cur, mv.Delta)
		if cur.Sign() < 0 {
			return errors.Eligibility("insufficient_balance", "balance of %s for asset %s would go negative", mv.Owner.Hex(), mv.Asset.Hex())
		}
		if next[mv.Asset] == nil {
			next[mv.Asset] = make(map[common.Address]*big.Int)
		}
		next[mv.Asset][mv.Owner] = cur
	}

	for asset, owners := range next {
		if m.balances[asset] == nil {
			m.balances[asset] = make(map[common.Address]*big.Int)
		}
		for owner, bal := range owners {
			m.balances[asset][owner] = bal
		}
	}
	return nil
}

// GormStore persists balances in the custody_accounts table, one row per
// (service, asset, owner). All movements of a batch commit in one database
// transaction with row-level locks.
type GormStore struct {
	db      *gorm.DB
	service common.Address
}

func NewGormStore(db *gorm.DB, service common.Address) *GormStore {
	return &GormStore{db: db, service: service}
}

// Migrate creates the custody_accounts table.
func (g *GormStore) Migrate() error {
	return g.db.AutoMigrate(&models.CustodyAccount{})
}

func (g *GormStore) Balance(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	var row models.CustodyAccount
	err := g.db.WithContext(ctx).
		Where("service = ? AND asset = ? AND owner = ?", g.service.Hex(), asset.Hex(), owner.Hex()).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return new(big.Int), nil
		}
		return nil, errors.Internal("custody_store_read", err)
	}
	return parseAmount(row.Balance)
}

func (g *GormStore) Apply(ctx context.Context, moves []Movement) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, mv := range moves {
			var row models.CustodyAccount
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("service = ? AND asset = ? AND owner = ?", g.service.Hex(), mv.Asset.Hex(), mv.Owner.Hex()).
				First(&row).Error
			switch {
			case err == nil:
			case errors.Is(err, gorm.ErrRecordNotFound):
				row = models.CustodyAccount{
					Service: g.service.Hex(),
					Asset:   mv.Asset.Hex(),
					Owner:   mv.Owner.Hex(),
					Balance: "0",
				}
			default:
				return errors.Internal("custody_store_read", err)
			}

			bal, err := parseAmount(row.Balance)
			if err != nil {
				return err
			}
			bal.Add(bal, mv.Delta)
			if bal.Sign() < 0 {
				return errors.Eligibility("insufficient_balance", "balance of %s for asset %s would go negative", mv.Owner.Hex(), mv.Asset.Hex())
			}

			row.Balance = bal.String()
			row.UpdatedAt = time.Now()
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "service"}, {Name: "asset"}, {Name: "owner"}},
				DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return errors.Internal("custody_store_write", err)
			}
		}
		return nil
	})
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Internal("custody_store_corrupt", errors.New(errors.CategoryInternal, "bad_amount", "unparseable balance %q", s))
	}
	return v, nil
}
