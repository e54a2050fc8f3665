package models

import (
	"time"
)

// TransactionType represents the staking operation recorded in the journal
type TransactionType string

const (
	TransactionTypeInitialize   TransactionType = "initialize"
	TransactionTypeStake        TransactionType = "stake"
	TransactionTypeClaim        TransactionType = "claim"
	TransactionTypeUnstake      TransactionType = "unstake"
	TransactionTypeUpdateParams TransactionType = "update_params"
	TransactionTypeAddRewards   TransactionType = "add_rewards"
)

// TransactionStatus represents the status of a journal entry
type TransactionStatus string

const (
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is one committed staking operation
type Transaction struct {
	ID          uint              `json:"id" gorm:"primaryKey"`
	OpID        string            `json:"op_id" gorm:"uniqueIndex;not null;size:36"`
	UserAddress string            `json:"user_address" gorm:"not null;size:42;index"`
	PoolID      string            `json:"pool_id" gorm:"not null;size:64;index"`
	Type        TransactionType   `json:"type" gorm:"not null;size:20"`
	Status      TransactionStatus `json:"status" gorm:"not null;size:20;default:'confirmed'"`
	Amount      uint64            `json:"amount"`
	Reward      uint64            `json:"reward"`
	Timestamp   int64             `json:"timestamp" gorm:"column:op_time;not null;index"` // Operation clock, unix seconds
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TableName returns the table name for Transaction model
func (Transaction) TableName() string {
	return "transactions"
}

// AllModels lists every model that is auto-migrated
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&StakingPool{},
		&UserPosition{},
		&Account{},
		&Transaction{},
	}
}
