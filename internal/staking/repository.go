package staking

import (
	"context"
	"errors"

	"github.com/irfndi/AetherStake/internal/database"
	"github.com/irfndi/AetherStake/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists pools and positions. Every method joins the
// transaction carried by ctx.
type Repository interface {
	CreatePool(ctx context.Context, pool *models.StakingPool) error
	GetPool(ctx context.Context, poolID string) (*models.StakingPool, error)
	GetPoolForUpdate(ctx context.Context, poolID string) (*models.StakingPool, error)
	SavePool(ctx context.Context, pool *models.StakingPool) error
	GetPosition(ctx context.Context, poolID, owner string) (*models.UserPosition, error)
	GetPositionForUpdate(ctx context.Context, poolID, owner string) (*models.UserPosition, error)
	SavePosition(ctx context.Context, position *models.UserPosition) error
	ListPositions(ctx context.Context, poolID string, limit, offset int) ([]*models.UserPosition, error)
	SumOpenPositions(ctx context.Context, poolID string) (uint64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new staking repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreatePool(ctx context.Context, pool *models.StakingPool) error {
	if pool == nil {
		return errors.New("pool cannot be nil")
	}
	return database.Conn(ctx, r.db).Create(pool).Error
}

func (r *repository) GetPool(ctx context.Context, poolID string) (*models.StakingPool, error) {
	return r.findPool(database.Conn(ctx, r.db), poolID)
}

func (r *repository) GetPoolForUpdate(ctx context.Context, poolID string) (*models.StakingPool, error) {
	return r.findPool(database.Conn(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}), poolID)
}

func (r *repository) findPool(conn *gorm.DB, poolID string) (*models.StakingPool, error) {
	var pool models.StakingPool
	err := conn.Where("pool_id = ?", poolID).First(&pool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pool, nil
}

// SavePool writes the mutable pool fields if nobody else bumped the version
// since pool was read
func (r *repository) SavePool(ctx context.Context, pool *models.StakingPool) error {
	result := database.Conn(ctx, r.db).Model(&models.StakingPool{}).
		Where("id = ? AND version = ?", pool.ID, pool.Version).
		Updates(map[string]interface{}{
			"apy":           pool.APY,
			"lock_duration": pool.LockDuration,
			"start_time":    pool.StartTime,
			"end_time":      pool.EndTime,
			"total_staked":  pool.TotalStaked,
			"reward_pool":   pool.RewardPool,
			"version":       pool.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	pool.Version++
	return nil
}

func (r *repository) GetPosition(ctx context.Context, poolID, owner string) (*models.UserPosition, error) {
	return r.findPosition(database.Conn(ctx, r.db), poolID, owner)
}

func (r *repository) GetPositionForUpdate(ctx context.Context, poolID, owner string) (*models.UserPosition, error) {
	return r.findPosition(database.Conn(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}), poolID, owner)
}

func (r *repository) findPosition(conn *gorm.DB, poolID, owner string) (*models.UserPosition, error) {
	var position models.UserPosition
	err := conn.Where("pool_id = ? AND owner = ?", poolID, owner).First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

// SavePosition inserts a new position or updates an existing one under the
// same version check as SavePool
func (r *repository) SavePosition(ctx context.Context, position *models.UserPosition) error {
	conn := database.Conn(ctx, r.db)
	if position.ID == 0 {
		return conn.Create(position).Error
	}

	result := conn.Model(&models.UserPosition{}).
		Where("id = ? AND version = ?", position.ID, position.Version).
		Updates(map[string]interface{}{
			"staked_amount":     position.StakedAmount,
			"stake_start_time":  position.StakeStartTime,
			"reward_start_time": position.RewardStartTime,
			"lock_duration":     position.LockDuration,
			"apy":               position.APY,
			"version":           position.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	position.Version++
	return nil
}

func (r *repository) ListPositions(ctx context.Context, poolID string, limit, offset int) ([]*models.UserPosition, error) {
	var positions []*models.UserPosition
	err := database.Conn(ctx, r.db).Where("pool_id = ?", poolID).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&positions).Error
	return positions, err
}

// SumOpenPositions adds up the principal of every open position in the pool
func (r *repository) SumOpenPositions(ctx context.Context, poolID string) (uint64, error) {
	var total int64
	err := database.Conn(ctx, r.db).Model(&models.UserPosition{}).
		Where("pool_id = ? AND staked_amount > 0", poolID).
		Select("COALESCE(SUM(staked_amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return uint64(total), nil
}
