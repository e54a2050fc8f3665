package transaction

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/irfndi/AetherStake/internal/database"
	"github.com/irfndi/AetherStake/internal/models"
	"gorm.io/gorm"
)

// TransactionRepository interface defines journal database operations
type TransactionRepository interface {
	Create(ctx context.Context, transaction *models.Transaction) error
	GetByOpID(ctx context.Context, opID string) (*models.Transaction, error)
	GetByUserAddress(ctx context.Context, userAddress string, limit, offset int) ([]*models.Transaction, error)
	GetByPoolID(ctx context.Context, poolID string, limit, offset int) ([]*models.Transaction, error)
	GetByType(ctx context.Context, poolID string, txType models.TransactionType, limit, offset int) ([]*models.Transaction, error)
	GetByTimeRange(ctx context.Context, poolID string, from, to int64) ([]*models.Transaction, error)
	GetUserTransactionCount(ctx context.Context, userAddress string) (int64, error)
	GetPoolRewardsPaid(ctx context.Context, poolID string) (uint64, error)
}

// transactionRepository implements TransactionRepository interface
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// Create appends a journal entry, assigning an operation ID when missing
func (r *transactionRepository) Create(ctx context.Context, transaction *models.Transaction) error {
	if transaction == nil {
		return errors.New("transaction cannot be nil")
	}
	if transaction.OpID == "" {
		transaction.OpID = uuid.NewString()
	}
	if transaction.Status == "" {
		transaction.Status = models.TransactionStatusConfirmed
	}
	return database.Conn(ctx, r.db).Create(transaction).Error
}

// GetByOpID retrieves a journal entry by its operation ID
func (r *transactionRepository) GetByOpID(ctx context.Context, opID string) (*models.Transaction, error) {
	if opID == "" {
		return nil, errors.New("opID cannot be empty")
	}

	var transaction models.Transaction
	err := database.Conn(ctx, r.db).Where("op_id = ?", opID).First(&transaction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &transaction, nil
}

// GetByUserAddress retrieves entries of a user, newest first
func (r *transactionRepository) GetByUserAddress(ctx context.Context, userAddress string, limit, offset int) ([]*models.Transaction, error) {
	if userAddress == "" {
		return nil, errors.New("userAddress cannot be empty")
	}

	var transactions []*models.Transaction
	err := database.Conn(ctx, r.db).Where("user_address = ?", userAddress).
		Order("op_time DESC, id DESC").Limit(limit).Offset(offset).Find(&transactions).Error
	return transactions, err
}

// GetByPoolID retrieves entries of a pool, newest first
func (r *transactionRepository) GetByPoolID(ctx context.Context, poolID string, limit, offset int) ([]*models.Transaction, error) {
	if poolID == "" {
		return nil, errors.New("poolID cannot be empty")
	}

	var transactions []*models.Transaction
	err := database.Conn(ctx, r.db).Where("pool_id = ?", poolID).
		Order("op_time DESC, id DESC").Limit(limit).Offset(offset).Find(&transactions).Error
	return transactions, err
}

// GetByType retrieves entries of one operation type within a pool
func (r *transactionRepository) GetByType(ctx context.Context, poolID string, txType models.TransactionType, limit, offset int) ([]*models.Transaction, error) {
	if poolID == "" {
		return nil, errors.New("poolID cannot be empty")
	}
	if txType == "" {
		return nil, errors.New("type cannot be empty")
	}

	var transactions []*models.Transaction
	err := database.Conn(ctx, r.db).Where("pool_id = ? AND type = ?", poolID, txType).
		Order("op_time DESC, id DESC").Limit(limit).Offset(offset).Find(&transactions).Error
	return transactions, err
}

// GetByTimeRange retrieves entries of a pool whose operation time is within [from, to]
func (r *transactionRepository) GetByTimeRange(ctx context.Context, poolID string, from, to int64) ([]*models.Transaction, error) {
	if poolID == "" {
		return nil, errors.New("poolID cannot be empty")
	}

	var transactions []*models.Transaction
	err := database.Conn(ctx, r.db).
		Where("pool_id = ? AND op_time BETWEEN ? AND ?", poolID, from, to).
		Order("op_time ASC, id ASC").Find(&transactions).Error
	return transactions, err
}

// GetUserTransactionCount gets the total number of entries for a user
func (r *transactionRepository) GetUserTransactionCount(ctx context.Context, userAddress string) (int64, error) {
	if userAddress == "" {
		return 0, errors.New("userAddress cannot be empty")
	}

	var count int64
	err := database.Conn(ctx, r.db).Model(&models.Transaction{}).
		Where("user_address = ?", userAddress).Count(&count).Error
	return count, err
}

// GetPoolRewardsPaid sums the rewards paid out of a pool
func (r *transactionRepository) GetPoolRewardsPaid(ctx context.Context, poolID string) (uint64, error) {
	if poolID == "" {
		return 0, errors.New("poolID cannot be empty")
	}

	var result struct {
		TotalReward int64
	}
	err := database.Conn(ctx, r.db).Model(&models.Transaction{}).
		Select("COALESCE(SUM(reward), 0) as total_reward").
		Where("pool_id = ? AND status = ?", poolID, models.TransactionStatusConfirmed).
		Scan(&result).Error
	if err != nil {
		return 0, err
	}
	return uint64(result.TotalReward), nil
}
