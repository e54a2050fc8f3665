package staking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/irfndi/AetherStake/internal/database"
	"github.com/irfndi/AetherStake/internal/ledger"
	"github.com/irfndi/AetherStake/internal/models"
	"github.com/irfndi/AetherStake/internal/reward"
	"github.com/irfndi/AetherStake/internal/transaction"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	maxPoolIDLength = 64
	maxAttempts     = 3
)

// Params are the administrable pool terms
type Params struct {
	APY          uint64 `json:"apy"`
	LockDuration int64  `json:"lock_duration"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
}

// Validate checks the window ordering and lock duration
func (p Params) Validate() error {
	if p.StartTime < 0 || p.StartTime > p.EndTime {
		return fmt.Errorf("%w: start_time must be non-negative and not after end_time", ErrInvalidParams)
	}
	if p.LockDuration < 0 {
		return fmt.Errorf("%w: lock_duration must be non-negative", ErrInvalidParams)
	}
	return nil
}

// Receipt describes one committed operation
type Receipt struct {
	OpID      string                 `json:"op_id,omitempty"`
	Op        models.TransactionType `json:"op"`
	Pool      *models.StakingPool    `json:"pool"`
	Position  *models.UserPosition   `json:"position,omitempty"`
	Amount    uint64                 `json:"amount"`
	Reward    uint64                 `json:"reward"`
	Timestamp int64                  `json:"timestamp"`

	caller string
}

// Caller returns the normalized address that performed the operation
func (r *Receipt) Caller() string {
	return r.caller
}

// Audit compares the stored counters of a pool with what backs them
type Audit struct {
	PoolID         string `json:"pool_id"`
	TotalStaked    uint64 `json:"total_staked"`
	PositionsSum   uint64 `json:"positions_sum"`
	RewardPool     uint64 `json:"reward_pool"`
	CustodyBalance uint64 `json:"custody_balance"`
	Consistent     bool   `json:"consistent"`
}

// FunderPolicy decides who may add rewards to a pool
type FunderPolicy interface {
	CanFund(ctx context.Context, pool *models.StakingPool, caller string) (bool, error)
}

// OwnerOnlyPolicy lets only the pool owner add rewards
type OwnerOnlyPolicy struct{}

// CanFund reports whether caller owns pool
func (OwnerOnlyPolicy) CanFund(_ context.Context, pool *models.StakingPool, caller string) (bool, error) {
	return strings.EqualFold(pool.Owner, caller), nil
}

// Notifier receives committed operations
type Notifier interface {
	Publish(receipt *Receipt)
}

// Recorder collects operation metrics
type Recorder interface {
	ObserveOperation(op, result string, duration time.Duration)
	AddRewardsPaid(amount uint64)
}

// Service is the staking engine
type Service interface {
	Initialize(ctx context.Context, poolID, caller string, params Params) (*Receipt, error)
	Stake(ctx context.Context, poolID, caller string, amount uint64) (*Receipt, error)
	ClaimRewards(ctx context.Context, poolID, caller string) (*Receipt, error)
	Unstake(ctx context.Context, poolID, caller string) (*Receipt, error)
	UpdateParams(ctx context.Context, poolID, caller string, params Params) (*Receipt, error)
	AddRewards(ctx context.Context, poolID, caller string, amount uint64) (*Receipt, error)
	GetPool(ctx context.Context, poolID string) (*models.StakingPool, error)
	GetPosition(ctx context.Context, poolID, owner string) (*models.UserPosition, error)
	ListPositions(ctx context.Context, poolID string, limit, offset int) ([]*models.UserPosition, error)
	PendingReward(ctx context.Context, poolID, owner string) (uint64, error)
	Audit(ctx context.Context, poolID string) (*Audit, error)
}

// Options carries the optional collaborators of the engine. Zero values fall
// back to the wall clock, an in-process locker, owner-only funding and no-op
// notification and metrics.
type Options struct {
	Clock    Clock
	Locker   Locker
	Funders  FunderPolicy
	Notifier Notifier
	Metrics  Recorder
	Logger   *logrus.Logger
	Decimals int32
}

type service struct {
	db       *gorm.DB
	repo     Repository
	ledger   ledger.Ledger
	journal  transaction.TransactionRepository
	clock    Clock
	locker   Locker
	funders  FunderPolicy
	notifier Notifier
	metrics  Recorder
	logger   *logrus.Logger
	decimals int32
}

// NewService creates the staking engine
func NewService(db *gorm.DB, repo Repository, tokens ledger.Ledger, journal transaction.TransactionRepository, opts Options) Service {
	s := &service{
		db:       db,
		repo:     repo,
		ledger:   tokens,
		journal:  journal,
		clock:    opts.Clock,
		locker:   opts.Locker,
		funders:  opts.Funders,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		decimals: opts.Decimals,
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	if s.funders == nil {
		s.funders = OwnerOnlyPolicy{}
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	return s
}

// CustodyAddress derives the account holding a pool's principal and rewards
func CustodyAddress(poolID string) string {
	return common.BytesToAddress(crypto.Keccak256([]byte("aetherstake:custody:" + poolID))).Hex()
}

// NormalizeAddress validates a hex address and returns its checksummed form
func NormalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(address).Hex(), nil
}

func validPoolID(poolID string) error {
	if poolID == "" || len(poolID) > maxPoolIDLength {
		return fmt.Errorf("%w: pool_id must be 1 to %d characters", ErrInvalidParams, maxPoolIDLength)
	}
	return nil
}

func (s *service) Initialize(ctx context.Context, poolID, caller string, params Params) (*Receipt, error) {
	return s.run(ctx, models.TransactionTypeInitialize, poolID, caller, func(ctx context.Context, caller string, now int64) (*Receipt, error) {
		if err := params.Validate(); err != nil {
			return nil, err
		}

		existing, err := s.repo.GetPoolForUpdate(ctx, poolID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrPoolExists
		}

		pool := &models.StakingPool{
			PoolID:         poolID,
			Owner:          caller,
			CustodyAddress: CustodyAddress(poolID),
			APY:            params.APY,
			LockDuration:   params.LockDuration,
			StartTime:      params.StartTime,
			EndTime:        params.EndTime,
			TokenDecimals:  s.decimals,
		}
		if err := s.repo.CreatePool(ctx, pool); err != nil {
			return nil, err
		}
		return &Receipt{Pool: pool}, nil
	})
}

func (s *service) Stake(ctx context.Context, poolID, caller string, amount uint64) (*Receipt, error) {
	return s.run(ctx, models.TransactionTypeStake, poolID, caller, func(ctx context.Context, caller string, now int64) (*Receipt, error) {
		if amount == 0 {
			return nil, ErrInvalidAmount
		}

		pool, err := s.lockPool(ctx, poolID)
		if err != nil {
			return nil, err
		}
		if now < pool.StartTime {
			return nil, ErrStakingNotStarted
		}
		if now > pool.EndTime {
			return nil, ErrStakingEnded
		}

		position, err := s.repo.GetPositionForUpdate(ctx, poolID, caller)
		if err != nil {
			return nil, err
		}
		if position == nil {
			position = &models.UserPosition{PoolID: poolID, Owner: caller}
		}
		if position.IsOpen() {
			return nil, ErrAlreadyStaked
		}

		totalStaked, err := addCustody(pool, pool.TotalStaked, amount)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Transfer(ctx, caller, pool.CustodyAddress, caller, amount); err != nil {
			return nil, fmt.Errorf("stake transfer: %w", err)
		}

		position.StakedAmount = amount
		position.StakeStartTime = now
		position.RewardStartTime = now
		position.LockDuration = pool.LockDuration
		position.APY = pool.APY
		pool.TotalStaked = totalStaked

		if err := s.repo.SavePosition(ctx, position); err != nil {
			return nil, err
		}
		if err := s.repo.SavePool(ctx, pool); err != nil {
			return nil, err
		}
		return &Receipt{Pool: pool, Position: position, Amount: amount}, nil
	})
}

func (s *service) ClaimRewards(ctx context.Context, poolID, caller string) (*Receipt, error) {
	return s.run(ctx, models.TransactionTypeClaim, poolID, caller, func(ctx context.Context, caller string, now int64) (*Receipt, error) {
		pool, position, err := s.lockOpenPosition(ctx, poolID, caller)
		if err != nil {
			return nil, err
		}

		earned, err := accrued(position, now)
		if err != nil {
			return nil, err
		}
		if pool.RewardPool < earned {
			return nil, ErrInsufficientRewardPool
		}

		// A zero reward still restarts the reward window
		if earned > 0 {
			if err := s.ledger.Transfer(ctx, pool.CustodyAddress, caller, pool.CustodyAddress, earned); err != nil {
				return nil, fmt.Errorf("reward transfer: %w", err)
			}
			pool.RewardPool -= earned
			if err := s.repo.SavePool(ctx, pool); err != nil {
				return nil, err
			}
		}

		position.RewardStartTime = now
		if err := s.repo.SavePosition(ctx, position); err != nil {
			return nil, err
		}
		return &Receipt{Pool: pool, Position: position, Reward: earned}, nil
	})
}

func (s *service) Unstake(ctx context.Context, poolID, caller string) (*Receipt, error) {
	return s.run(ctx, models.TransactionTypeUnstake, poolID, caller, func(ctx context.Context, caller string, now int64) (*Receipt, error) {
		pool, position, err := s.lockOpenPosition(ctx, poolID, caller)
		if err != nil {
			return nil, err
		}
		if now < position.UnlockTime() {
			return nil, ErrLockPeriodNotOver
		}

		earned, err := accrued(position, now)
		if err != nil {
			return nil, err
		}
		if pool.RewardPool < earned {
			return nil, ErrInsufficientRewardPool
		}

		principal := position.StakedAmount
		payout, err := reward.Add(principal, earned)
		if err != nil {
			return nil, err
		}
		totalStaked, err := reward.Sub(pool.TotalStaked, principal)
		if err != nil {
			return nil, err
		}

		if err := s.ledger.Transfer(ctx, pool.CustodyAddress, caller, pool.CustodyAddress, payout); err != nil {
			return nil, fmt.Errorf("unstake transfer: %w", err)
		}

		pool.TotalStaked = totalStaked
		pool.RewardPool -= earned
		position.Close()

		if err := s.repo.SavePosition(ctx, position); err != nil {
			return nil, err
		}
		if err := s.repo.SavePool(ctx, pool); err != nil {
			return nil, err
		}
		return &Receipt{Pool: pool, Position: position, Amount: principal, Reward: earned}, nil
	})
}

func (s *service) UpdateParams(ctx context.Context, poolID, caller string, params Params) (*Receipt, error) {
	return s.run(ctx, models.TransactionTypeUpdateParams, poolID, caller, func(ctx context.Context, caller string, now int64) (*Receipt, error) {
		pool, err := s.lockPool(ctx, poolID)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(pool.Owner, caller) {
			return nil, ErrNotPoolOwner
		}
		if err := params.Validate(); err != nil {
			return nil, err
		}

		pool.APY = params.APY
		pool.LockDuration = params.LockDuration
		pool.StartTime = params.StartTime
		pool.EndTime = params.EndTime

		if err := s.repo.SavePool(ctx, pool); err != nil {
			return nil, err
		}
		return &Receipt{Pool: pool}, nil
	})
}

func (s *service) AddRewards(ctx context.Context, poolID, caller string, amount uint64) (*Receipt, error) {
	return s.run(ctx, models.TransactionTypeAddRewards, poolID, caller, func(ctx context.Context, caller string, now int64) (*Receipt, error) {
		if amount == 0 {
			return nil, ErrInvalidAmount
		}

		pool, err := s.lockPool(ctx, poolID)
		if err != nil {
			return nil, err
		}
		allowed, err := s.funders.CanFund(ctx, pool, caller)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, ErrNotAuthorizedFunder
		}

		rewardPool, err := addCustody(pool, pool.RewardPool, amount)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Transfer(ctx, caller, pool.CustodyAddress, caller, amount); err != nil {
			return nil, fmt.Errorf("funding transfer: %w", err)
		}

		pool.RewardPool = rewardPool
		if err := s.repo.SavePool(ctx, pool); err != nil {
			return nil, err
		}
		return &Receipt{Pool: pool, Amount: amount}, nil
	})
}

func (s *service) GetPool(ctx context.Context, poolID string) (*models.StakingPool, error) {
	pool, err := s.repo.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

// GetPosition returns nil without error when owner never staked in the pool
func (s *service) GetPosition(ctx context.Context, poolID, owner string) (*models.UserPosition, error) {
	owner, err := NormalizeAddress(owner)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetPool(ctx, poolID); err != nil {
		return nil, err
	}
	return s.repo.GetPosition(ctx, poolID, owner)
}

func (s *service) ListPositions(ctx context.Context, poolID string, limit, offset int) ([]*models.UserPosition, error) {
	if _, err := s.GetPool(ctx, poolID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListPositions(ctx, poolID, limit, offset)
}

// PendingReward previews what a claim would pay right now without mutating
// anything. Closed positions and reward pool shortfalls are not checked.
func (s *service) PendingReward(ctx context.Context, poolID, owner string) (uint64, error) {
	position, err := s.GetPosition(ctx, poolID, owner)
	if err != nil {
		return 0, err
	}
	if position == nil || !position.IsOpen() {
		return 0, nil
	}

	return accrued(position, s.clock.Now())
}

// Audit checks totalStaked against the open positions and the custody
// balance against totalStaked plus rewardPool
func (s *service) Audit(ctx context.Context, poolID string) (*Audit, error) {
	pool, err := s.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	sum, err := s.repo.SumOpenPositions(ctx, poolID)
	if err != nil {
		return nil, err
	}
	custody, err := s.ledger.Balance(ctx, pool.CustodyAddress)
	if err != nil {
		return nil, err
	}

	audit := &Audit{
		PoolID:         poolID,
		TotalStaked:    pool.TotalStaked,
		PositionsSum:   sum,
		RewardPool:     pool.RewardPool,
		CustodyBalance: custody,
	}
	backing, err := reward.Add(pool.TotalStaked, pool.RewardPool)
	audit.Consistent = err == nil && sum == pool.TotalStaked && custody >= backing
	return audit, nil
}

type operation func(ctx context.Context, caller string, now int64) (*Receipt, error)

// run executes op under the pool lock inside one database transaction and
// journals the result. Version conflicts are retried with the same clock
// reading.
func (s *service) run(ctx context.Context, op models.TransactionType, poolID, caller string, fn operation) (*Receipt, error) {
	start := time.Now()

	receipt, err := s.execute(ctx, op, poolID, caller, fn)
	s.finish(op, poolID, caller, receipt, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *service) execute(ctx context.Context, op models.TransactionType, poolID, caller string, fn operation) (*Receipt, error) {
	if err := validPoolID(poolID); err != nil {
		return nil, err
	}
	caller, err := NormalizeAddress(caller)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("lock pool %s: %w", poolID, err)
	}
	defer unlock()

	now := s.clock.Now()

	var receipt *Receipt
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = database.InTx(ctx, s.db, func(ctx context.Context) error {
			r, err := fn(ctx, caller, now)
			if err != nil {
				return err
			}
			r.Op = op
			r.Timestamp = now
			r.caller = caller

			entry := &models.Transaction{
				UserAddress: caller,
				PoolID:      poolID,
				Type:        op,
				Amount:      r.Amount,
				Reward:      r.Reward,
				Timestamp:   now,
			}
			if err := s.journal.Create(ctx, entry); err != nil {
				return err
			}
			r.OpID = entry.OpID
			receipt = r
			return nil
		})
		if !errors.Is(err, ErrConcurrentUpdate) {
			break
		}
		s.logger.WithFields(logrus.Fields{
			"pool_id": poolID,
			"op":      op,
			"attempt": attempt,
		}).Warn("Version conflict, retrying")
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *service) finish(op models.TransactionType, poolID, caller string, receipt *Receipt, err error, elapsed time.Duration) {
	fields := logrus.Fields{
		"pool_id": poolID,
		"owner":   caller,
		"op":      op,
	}

	result := "ok"
	switch {
	case err == nil:
		fields["amount"] = receipt.Amount
		fields["reward"] = receipt.Reward
		s.logger.WithFields(fields).Info("Staking operation committed")
	case IsRejection(err):
		result = "rejected"
		s.logger.WithFields(fields).WithError(err).Warn("Staking operation rejected")
	default:
		result = "error"
		s.logger.WithFields(fields).WithError(err).Error("Staking operation failed")
	}

	if s.metrics != nil {
		s.metrics.ObserveOperation(string(op), result, elapsed)
		if err == nil && receipt.Reward > 0 {
			s.metrics.AddRewardsPaid(receipt.Reward)
		}
	}
	if err == nil && s.notifier != nil {
		s.notifier.Publish(receipt)
	}
}

func (s *service) lockPool(ctx context.Context, poolID string) (*models.StakingPool, error) {
	pool, err := s.repo.GetPoolForUpdate(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

func (s *service) lockOpenPosition(ctx context.Context, poolID, caller string) (*models.StakingPool, *models.UserPosition, error) {
	pool, err := s.lockPool(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}
	position, err := s.repo.GetPositionForUpdate(ctx, poolID, caller)
	if err != nil {
		return nil, nil, err
	}
	if position == nil || !position.IsOpen() {
		return nil, nil, ErrNothingStaked
	}
	return pool, position, nil
}

// accrued is the reward owed to position at now. The clock must not run
// behind the position's reward start.
func accrued(position *models.UserPosition, now int64) (uint64, error) {
	if now < position.RewardStartTime {
		return 0, fmt.Errorf("%w: now %d precedes reward start %d", ErrClockSkew, now, position.RewardStartTime)
	}
	return reward.Calculate(position.StakedAmount, position.APY, position.RewardStartTime, now)
}

// addCustody adds amount to one of the pool counters while keeping the sum
// of both counters within what the ledger can hold
func addCustody(pool *models.StakingPool, counter, amount uint64) (uint64, error) {
	next, err := reward.Add(counter, amount)
	if err != nil {
		return 0, err
	}
	total, err := reward.Add(pool.TotalStaked+pool.RewardPool, amount)
	if err != nil || total > ledger.MaxBalance {
		return 0, reward.ErrOverflow
	}
	return next, nil
}
