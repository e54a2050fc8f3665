package models

import (
	"math"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// User represents a user in the system
type User struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Address   string         `json:"address" gorm:"uniqueIndex;not null;size:42"`
	Nonce     string         `json:"nonce" gorm:"size:64"`
	Roles     pq.StringArray `json:"roles" gorm:"type:text"`
	IsActive  *bool          `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`
}

// TableName returns the table name for User model
func (User) TableName() string {
	return "users"
}

// BeforeCreate hook to set default values
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.Roles == nil {
		u.Roles = pq.StringArray{"user"}
	}
	return nil
}

// StakingPool holds the configuration and aggregate counters of a staking pool.
// Amounts are in token base units; times are unix seconds.
type StakingPool struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	PoolID         string    `json:"pool_id" gorm:"uniqueIndex;not null;size:64"`
	Owner          string    `json:"owner" gorm:"not null;size:42;index"`
	CustodyAddress string    `json:"custody_address" gorm:"not null;size:42"`
	APY            uint64    `json:"apy" gorm:"not null"`           // Whole percent per year (12 = 12%)
	LockDuration   int64     `json:"lock_duration" gorm:"not null"` // Seconds
	StartTime      int64     `json:"start_time" gorm:"not null"`
	EndTime        int64     `json:"end_time" gorm:"not null"`
	TotalStaked    uint64    `json:"total_staked" gorm:"not null;default:0"`
	RewardPool     uint64    `json:"reward_pool" gorm:"not null;default:0"`
	TokenDecimals  int32     `json:"token_decimals" gorm:"not null;default:9"`
	Version        uint64    `json:"version" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the table name for StakingPool model
func (StakingPool) TableName() string {
	return "staking_pools"
}

// BeforeCreate hook to validate pool data
func (p *StakingPool) BeforeCreate(tx *gorm.DB) error {
	if p.PoolID == "" || p.Owner == "" {
		return gorm.ErrInvalidData
	}
	if p.StartTime > p.EndTime || p.LockDuration < 0 {
		return gorm.ErrInvalidData
	}
	return nil
}

// UserPosition is a participant's stake in a pool. LockDuration and APY are
// copied from the pool when the stake opens and never re-read afterwards.
type UserPosition struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	PoolID          string    `json:"pool_id" gorm:"not null;size:64;uniqueIndex:idx_position_pool_owner"`
	Owner           string    `json:"owner" gorm:"not null;size:42;uniqueIndex:idx_position_pool_owner"`
	StakedAmount    uint64    `json:"staked_amount" gorm:"not null;default:0"`
	StakeStartTime  int64     `json:"stake_start_time" gorm:"not null;default:0"`
	RewardStartTime int64     `json:"reward_start_time" gorm:"not null;default:0"`
	LockDuration    int64     `json:"lock_duration" gorm:"not null;default:0"`
	APY             uint64    `json:"apy" gorm:"not null;default:0"`
	Version         uint64    `json:"version" gorm:"not null;default:0"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the table name for UserPosition model
func (UserPosition) TableName() string {
	return "user_positions"
}

// IsOpen reports whether the position currently holds principal
func (p *UserPosition) IsOpen() bool {
	return p.StakedAmount > 0
}

// UnlockTime is the first timestamp at which the principal may be withdrawn.
// It saturates at math.MaxInt64 instead of wrapping.
func (p *UserPosition) UnlockTime() int64 {
	if p.StakeStartTime > 0 && p.LockDuration > math.MaxInt64-p.StakeStartTime {
		return math.MaxInt64
	}
	return p.StakeStartTime + p.LockDuration
}

// Close zeroes the principal and the reward clock. StakeStartTime is kept
// so the last stake remains inspectable.
func (p *UserPosition) Close() {
	p.StakedAmount = 0
	p.RewardStartTime = 0
}

// Account is a token balance held by the ledger
type Account struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Address   string    `json:"address" gorm:"uniqueIndex;not null;size:42"`
	Balance   uint64    `json:"balance" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Account model
func (Account) TableName() string {
	return "ledger_accounts"
}
