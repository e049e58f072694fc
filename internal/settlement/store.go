package settlement

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

// Store persists the only durable state the engine owns: per-fingerprint
// cumulative filled amounts (monotonically non-decreasing, never reset) and
// one-way cancel flags. Everything else is derived.
type Store interface {
	FilledAmount(ctx context.Context, fp common.Hash) (*big.Int, error)
	AddFilled(ctx context.Context, fp common.Hash, delta *big.Int) error
	// AddFilledBatch applies every increment or none of them. The match path
	// depends on this: two orders' fill records must move together.
	AddFilledBatch(ctx context.Context, incs []FillIncrement) error
	IsCancelled(ctx context.Context, fp common.Hash) (bool, error)
	SetCancelled(ctx context.Context, fp common.Hash) error
}

// FillIncrement is one order's fill growth within an atomic batch write.
type FillIncrement struct {
	Fingerprint common.Hash
	Delta       *big.Int
}

// MemoryStore keeps fill/cancel state in process.
type MemoryStore struct {
	mu        sync.RWMutex
	filled    map[common.Hash]*big.Int
	cancelled map[common.Hash]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		filled:    make(map[common.Hash]*big.Int),
		cancelled: make(map[common.Hash]bool),
	}
}

func (m *MemoryStore) FilledAmount(_ context.Context, fp common.Hash) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.filled[fp]; ok {
		return new(big.Int).Set(f), nil
	}
	return new(big.Int), nil
}

func (m *MemoryStore) AddFilled(ctx context.Context, fp common.Hash, delta *big.Int) error {
	return m.AddFilledBatch(ctx, []FillIncrement{{Fingerprint: fp, Delta: delta}})
}

func (m *MemoryStore) AddFilledBatch(_ context.Context, incs []FillIncrement) error {
	for _, inc := range incs {
		if inc.Delta.Sign() < 0 {
			return errors.Arithmetic("negative_fill_delta", "filled amount can only grow")
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inc := range incs {
		cur := m.filled[inc.Fingerprint]
		if cur == nil {
			cur = new(big.Int)
		}
		m.filled[inc.Fingerprint] = new(big.Int).Add(cur, inc.Delta)
	}
	return nil
}

func (m *MemoryStore) IsCancelled(_ context.Context, fp common.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancelled[fp], nil
}

func (m *MemoryStore) SetCancelled(_ context.Context, fp common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[fp] = true
	return nil
}

// GormStore persists fill/cancel state in the order_states table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the order_states table.
func (g *GormStore) Migrate() error {
	return g.db.AutoMigrate(&models.OrderState{})
}

func (g *GormStore) FilledAmount(ctx context.Context, fp common.Hash) (*big.Int, error) {
	row, err := g.load(ctx, fp)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(row.Filled, 10)
	if !ok {
		return nil, errors.Internal("order_store_corrupt", errors.New(errors.CategoryInternal, "bad_amount", "unparseable filled amount %q", row.Filled))
	}
	return v, nil
}

func (g *GormStore) AddFilled(ctx context.Context, fp common.Hash, delta *big.Int) error {
	return g.AddFilledBatch(ctx, []FillIncrement{{Fingerprint: fp, Delta: delta}})
}

func (g *GormStore) AddFilledBatch(ctx context.Context, incs []FillIncrement) error {
	for _, inc := range incs {
		if inc.Delta.Sign() < 0 {
			return errors.Arithmetic("negative_fill_delta", "filled amount can only grow")
		}
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, inc := range incs {
			if err := addFilledLocked(tx, inc.Fingerprint, inc.Delta); err != nil {
				return err
			}
		}
		return nil
	})
}

// addFilledLocked increments one row under the enclosing transaction's lock.
func addFilledLocked(tx *gorm.DB, fp common.Hash, delta *big.Int) error {
	var row models.OrderState
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("fingerprint = ?", fp.Hex()).
		First(&row).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.OrderState{Fingerprint: fp.Hex(), Filled: "0"}
	default:
		return errors.Internal("order_store_read", err)
	}

	cur, ok := new(big.Int).SetString(row.Filled, 10)
	if !ok {
		return errors.Internal("order_store_corrupt", errors.New(errors.CategoryInternal, "bad_amount", "unparseable filled amount %q", row.Filled))
	}
	row.Filled = cur.Add(cur, delta).String()
	row.UpdatedAt = time.Now()
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{"filled", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return errors.Internal("order_store_write", err)
	}
	return nil
}

func (g *GormStore) IsCancelled(ctx context.Context, fp common.Hash) (bool, error) {
	row, err := g.load(ctx, fp)
	if err != nil {
		return false, err
	}
	return row != nil && row.Cancelled, nil
}

func (g *GormStore) SetCancelled(ctx context.Context, fp common.Hash) error {
	row := models.OrderState{Fingerprint: fp.Hex(), Filled: "0", Cancelled: true, UpdatedAt: time.Now()}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"cancelled": true, "updated_at": time.Now()}),
	}).Create(&row).Error
	if err != nil {
		return errors.Internal("order_store_write", err)
	}
	return nil
}

func (g *GormStore) load(ctx context.Context, fp common.Hash) (*models.OrderState, error) {
	var row models.OrderState
	err := g.db.WithContext(ctx).Where("fingerprint = ?", fp.Hex()).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Internal("order_store_read", err)
	}
	return &row, nil
}
