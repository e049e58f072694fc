package models

import "time"

// CustodyAccount is the durable balance row for one (service, asset, owner)
// triple. Amounts are stored as decimal strings because they are unbounded
// integers in base units.
type CustodyAccount struct {
	Service   string    `json:"service" gorm:"primaryKey;size:42"`
	Asset     string    `json:"asset" gorm:"primaryKey;size:42"`
	Owner     string    `json:"owner" gorm:"primaryKey;size:42"`
	Balance   string    `json:"balance" gorm:"type:numeric;not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderState is the durable per-fingerprint settlement record: cumulative
// filled amount (monotonically non-decreasing) and the one-way cancel flag.
type OrderState struct {
	Fingerprint string    `json:"fingerprint" gorm:"primaryKey;size:66"`
	Filled      string    `json:"filled" gorm:"type:numeric;not null;default:0"`
	Cancelled   bool      `json:"cancelled" gorm:"not null;default:false"`
	UpdatedAt   time.Time `json:"updated_at"`
}
