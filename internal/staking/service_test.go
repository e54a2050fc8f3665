package staking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/irfndi/AetherStake/internal/database"
	"github.com/irfndi/AetherStake/internal/ledger"
	"github.com/irfndi/AetherStake/internal/models"
	"github.com/irfndi/AetherStake/internal/transaction"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

const (
	owner  = "0x1111111111111111111111111111111111111111"
	staker = "0x2222222222222222222222222222222222222222"
	funder = "0x3333333333333333333333333333333333333333"
	poolID = "pool-1"
	year   = int64(31_536_000)
)

// MockLedger is a mock implementation of ledger.Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Transfer(ctx context.Context, from, to, authority string, amount uint64) error {
	args := m.Called(ctx, from, to, authority, amount)
	return args.Error(0)
}

func (m *MockLedger) Balance(ctx context.Context, address string) (uint64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockLedger) Mint(ctx context.Context, address string, amount uint64) error {
	args := m.Called(ctx, address, amount)
	return args.Error(0)
}

type recordingNotifier struct {
	mu       sync.Mutex
	receipts []*Receipt
}

func (n *recordingNotifier) Publish(receipt *Receipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, receipt)
}

type recordingMetrics struct {
	mu          sync.Mutex
	results     []string
	rewardsPaid uint64
}

func (m *recordingMetrics) ObserveOperation(op, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, op+":"+result)
}

func (m *recordingMetrics) AddRewardsPaid(amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewardsPaid += amount
}

type allowFunder struct {
	address string
}

func (p allowFunder) CanFund(_ context.Context, pool *models.StakingPool, caller string) (bool, error) {
	return caller == pool.Owner || caller == p.address, nil
}

// ServiceTestSuite runs the staking engine against in-memory SQLite
type ServiceTestSuite struct {
	suite.Suite
	db       *gorm.DB
	repo     Repository
	ledger   ledger.Ledger
	journal  transaction.TransactionRepository
	notifier *recordingNotifier
	metrics  *recordingMetrics
	logs     *test.Hook
	service  Service
	now      int64
	ctx      context.Context
}

func (suite *ServiceTestSuite) SetupSuite() {
	db, err := database.OpenSQLite("file::memory:?cache=shared")
	suite.Require().NoError(err)
	suite.Require().NoError(database.Migrate(db))

	suite.db = db
	suite.repo = NewRepository(db)
	suite.ledger = ledger.NewLedger(db)
	suite.journal = transaction.NewTransactionRepository(db)
	suite.ctx = context.Background()
}

func (suite *ServiceTestSuite) SetupTest() {
	for _, table := range []string{"staking_pools", "user_positions", "ledger_accounts", "transactions"} {
		suite.db.Exec("DELETE FROM " + table)
	}

	suite.now = 0
	suite.notifier = &recordingNotifier{}
	suite.metrics = &recordingMetrics{}
	suite.service = suite.newService(suite.ledger, OwnerOnlyPolicy{})
}

func (suite *ServiceTestSuite) TearDownSuite() {
	if sqlDB, err := suite.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (suite *ServiceTestSuite) newService(l ledger.Ledger, funders FunderPolicy) Service {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	suite.logs = hook

	return NewService(suite.db, suite.repo, l, suite.journal, Options{
		Clock:    ClockFunc(func() int64 { return suite.now }),
		Locker:   NewLocalLocker(),
		Funders:  funders,
		Notifier: suite.notifier,
		Metrics:  suite.metrics,
		Logger:   logger,
		Decimals: 9,
	})
}

// initPool creates the pool used by most tests: apy 10, no lock, window [0, 1_000_000]
func (suite *ServiceTestSuite) initPool(lockDuration int64) *models.StakingPool {
	receipt, err := suite.service.Initialize(suite.ctx, poolID, owner, Params{
		APY:          10,
		LockDuration: lockDuration,
		StartTime:    0,
		EndTime:      1_000_000,
	})
	suite.Require().NoError(err)
	return receipt.Pool
}

func (suite *ServiceTestSuite) fund(address string, amount uint64) {
	suite.Require().NoError(suite.ledger.Mint(suite.ctx, address, amount))
}

func (suite *ServiceTestSuite) addRewards(amount uint64) {
	suite.fund(owner, amount)
	_, err := suite.service.AddRewards(suite.ctx, poolID, owner, amount)
	suite.Require().NoError(err)
}

func (suite *ServiceTestSuite) stake(amount uint64) {
	suite.fund(staker, amount)
	_, err := suite.service.Stake(suite.ctx, poolID, staker, amount)
	suite.Require().NoError(err)
}

func (suite *ServiceTestSuite) balance(address string) uint64 {
	balance, err := suite.ledger.Balance(suite.ctx, address)
	suite.Require().NoError(err)
	return balance
}

func (suite *ServiceTestSuite) pool() *models.StakingPool {
	pool, err := suite.repo.GetPool(suite.ctx, poolID)
	suite.Require().NoError(err)
	suite.Require().NotNil(pool)
	return pool
}

func (suite *ServiceTestSuite) position() *models.UserPosition {
	position, err := suite.repo.GetPosition(suite.ctx, poolID, staker)
	suite.Require().NoError(err)
	return position
}

func (suite *ServiceTestSuite) TestInitialize() {
	pool := suite.initPool(30)

	suite.Equal(owner, pool.Owner)
	suite.Equal(CustodyAddress(poolID), pool.CustodyAddress)
	suite.Equal(uint64(10), pool.APY)
	suite.Equal(int64(30), pool.LockDuration)
	suite.Zero(pool.TotalStaked)
	suite.Zero(pool.RewardPool)
	suite.Equal(int32(9), pool.TokenDecimals)

	entries, err := suite.journal.GetByPoolID(suite.ctx, poolID, 10, 0)
	suite.NoError(err)
	suite.Require().Len(entries, 1)
	suite.Equal(models.TransactionTypeInitialize, entries[0].Type)
}

func (suite *ServiceTestSuite) TestInitializeRejections() {
	suite.initPool(0)

	_, err := suite.service.Initialize(suite.ctx, poolID, funder, Params{EndTime: 10})
	suite.ErrorIs(err, ErrPoolExists)
	suite.Equal(owner, suite.pool().Owner)

	_, err = suite.service.Initialize(suite.ctx, "pool-2", owner, Params{StartTime: 10, EndTime: 5})
	suite.ErrorIs(err, ErrInvalidParams)

	_, err = suite.service.Initialize(suite.ctx, "pool-2", owner, Params{EndTime: 5, LockDuration: -1})
	suite.ErrorIs(err, ErrInvalidParams)

	_, err = suite.service.Initialize(suite.ctx, "", owner, Params{EndTime: 5})
	suite.ErrorIs(err, ErrInvalidParams)

	_, err = suite.service.Initialize(suite.ctx, "pool-2", "not-an-address", Params{EndTime: 5})
	suite.ErrorIs(err, ErrInvalidAddress)
}

func (suite *ServiceTestSuite) TestOneYearClaim() {
	suite.initPool(0)
	suite.stake(1000)
	suite.addRewards(100)

	suite.now = year
	receipt, err := suite.service.ClaimRewards(suite.ctx, poolID, staker)
	suite.Require().NoError(err)
	suite.Equal(uint64(100), receipt.Reward)
	suite.NotEmpty(receipt.OpID)

	position := suite.position()
	suite.Equal(year, position.RewardStartTime)
	suite.Equal(uint64(1000), position.StakedAmount)
	suite.Zero(suite.pool().RewardPool)
	suite.Equal(uint64(100), suite.balance(staker))
	suite.Equal(uint64(1000), suite.balance(CustodyAddress(poolID)))

	receipt, err = suite.service.ClaimRewards(suite.ctx, poolID, staker)
	suite.Require().NoError(err)
	suite.Zero(receipt.Reward)
	suite.Equal(uint64(100), suite.balance(staker))
	suite.Equal(uint64(100), suite.metrics.rewardsPaid)
}

func (suite *ServiceTestSuite) TestImmediateClaimPaysNothing() {
	suite.initPool(0)
	suite.stake(1000)
	suite.addRewards(500)
	before := suite.pool()

	suite.now = 0
	receipt, err := suite.service.ClaimRewards(suite.ctx, poolID, staker)
	suite.Require().NoError(err)
	suite.Zero(receipt.Reward)
	suite.NotEmpty(receipt.OpID)

	suite.Equal(before, suite.pool())
	suite.Equal(uint64(0), suite.balance(staker))
	suite.Contains(suite.metrics.results, "claim:ok")

	claims, err := suite.journal.GetByType(suite.ctx, poolID, models.TransactionTypeClaim, 10, 0)
	suite.NoError(err)
	suite.Require().Len(claims, 1)
	suite.Zero(claims[0].Reward)
}

func (suite *ServiceTestSuite) TestZeroRewardClaimRestartsWindow() {
	suite.initPool(0)
	suite.stake(1000)
	suite.addRewards(100)

	// 100 per year accrues one unit every 315_360 seconds
	suite.now = 200_000
	receipt, err := suite.service.ClaimRewards(suite.ctx, poolID, staker)
	suite.Require().NoError(err)
	suite.Zero(receipt.Reward)
	suite.Equal(int64(200_000), suite.position().RewardStartTime)

	suite.now = 400_000
	receipt, err = suite.service.ClaimRewards(suite.ctx, poolID, staker)
	suite.Require().NoError(err)
	suite.Zero(receipt.Reward)
	suite.Equal(int64(400_000), suite.position().RewardStartTime)
	suite.Equal(uint64(100), suite.pool().RewardPool)
}

func (suite *ServiceTestSuite) TestClockBehindRewardStartFails() {
	suite.initPool(0)
	suite.now = 500
	suite.stake(1000)
	suite.addRewards(100)
	pool := suite.pool()
	position := suite.position()

	suite.now = 400
	_, err := suite.service.PendingReward(suite.ctx, poolID, staker)
	suite.ErrorIs(err, ErrClockSkew)

	_, err = suite.service.ClaimRewards(suite.ctx, poolID, staker)
	suite.ErrorIs(err, ErrClockSkew)
	suite.False(IsRejection(err))
	suite.Contains(suite.metrics.results, "claim:error")
	suite.Equal(logrus.ErrorLevel, suite.logs.LastEntry().Level)

	suite.Equal(pool, suite.pool())
	suite.Equal(position, suite.position())
	suite.Zero(suite.balance(staker))
}

func (suite *ServiceTestSuite) TestInsufficientRewardPool() {
	suite.initPool(0)
	suite.stake(1000)
	suite.addRewards(50)

	suite.now = year
	pool := suite.pool()
	position := suite.position()

	_, err := suite.service.ClaimRewards(suite.ctx, poolID, staker)
	suite.ErrorIs(err, ErrInsufficientRewardPool)
	suite.Equal(pool, suite.pool())
	suite.Equal(position, suite.position())

	_, err = suite.service.Unstake(suite.ctx, poolID, staker)
	suite.ErrorIs(err, ErrInsufficientRewardPool)
	suite.Equal(pool, suite.pool())
	suite.Equal(position, suite.position())
	suite.Zero(suite.balance(staker))
	suite.Contains(suite.metrics.results, "unstake:rejected")
}

func (suite *ServiceTestSuite) TestStakeWindow() {
	_, err := suite.service.Initialize(suite.ctx, poolID, owner, Params{APY: 10, StartTime: 100, EndTime: 200})
	suite.Require().NoError(err)
	suite.fund(staker, 1000)

	suite.now = 99
	_, err = suite.service.Stake(suite.ctx, poolID, staker, 1000)
	suite.ErrorIs(err, ErrStakingNotStarted)

	suite.now = 201
	_, err = suite.service.Stake(suite.ctx, poolID, staker, 1000)
	suite.ErrorIs(err, ErrStakingEnded)

	suite.Equal(uint64(1000), suite.balance(staker))
	suite.Zero(suite.balance(CustodyAddress(poolID)))
	suite.Nil(suite.position())
	suite.Zero(suite.pool().TotalStaked)

	for _, ts := range []int64{100, 200} {
		suite.now = ts
		_, err = suite.service.Stake(suite.ctx, poolID, staker, 500)
		suite.Require().NoError(err)
		_, err = suite.service.Unstake(suite.ctx, poolID, staker)
		suite.Require().NoError(err)
	}
}

func (suite *ServiceTestSuite) TestStakeRejections() {
	_, err := suite.service.Stake(suite.ctx, poolID, staker, 10)
	suite.ErrorIs(err, ErrPoolNotFound)

	suite.initPool(0)
	_, err = suite.service.Stake(suite.ctx, poolID, staker, 0)
	suite.ErrorIs(err, ErrInvalidAmount)

	_, err = suite.service.Stake(suite.ctx, poolID, staker, 10)
	suite.ErrorIs(err, ledger.ErrInsufficientBalance)
	suite.Nil(suite.position())
	suite.Zero(suite.pool().TotalStaked)

	suite.stake(1000)
	suite.fund(staker, 1000)
	_, err = suite.service.Stake(suite.ctx, poolID, staker, 1000)
	suite.ErrorIs(err, ErrAlreadyStaked)
	suite.Equal(uint64(1000), suite.pool().TotalStaked)
	suite.Equal(uint64(1000), suite.balance(staker))
}

func (suite *ServiceTestSuite) TestStakeSnapshotsPoolTerms() {
	suite.initPool(30)
	suite.now = 5
	suite.stake(1000)

	position := suite.position()
	suite.Equal(uint64(1000), position.StakedAmount)
	suite.Equal(int64(5), position.StakeStartTime)
	suite.Equal(int64(5), position.RewardStartTime)
	suite.Equal(int64(30), position.LockDuration)
	suite.Equal(uint64(10), position.APY)
	suite.Equal(uint64(1000), suite.pool().TotalStaked)
	suite.Equal(uint64(1000), suite.balance(CustodyAddress(poolID)))
}

func (suite *ServiceTestSuite) TestUnstakeBeforeLockEnds() {
	suite.initPool(100)
	suite.stake(1000)
	suite.addRewards(1000)

	suite.now = 99
	pool := suite.pool()
	position := suite.position()

	_, err := suite.service.Unstake(suite.ctx, poolID, staker)
	suite.ErrorIs(err, ErrLockPeriodNotOver)
	suite.Equal(pool, suite.pool())
	suite.Equal(position, suite.position())
	suite.Zero(suite.balance(staker))

	suite.now = 100
	_, err = suite.service.Unstake(suite.ctx, poolID, staker)
	suite.NoError(err)
}

func (suite *ServiceTestSuite) TestStakeUnstakeRoundTrip() {
	_, err := suite.service.Initialize(suite.ctx, poolID, owner, Params{APY: 10, EndTime: 3 * year})
	suite.Require().NoError(err)
	suite.addRewards(1000)
	suite.now = 10
	suite.stake(1000)
	suite.Equal(uint64(1000), suite.pool().TotalStaked)

	suite.now = 10 + year
	receipt, err := suite.service.Unstake(suite.ctx, poolID, staker)
	suite.Require().NoError(err)
	suite.Equal(uint64(1000), receipt.Amount)
	suite.Equal(uint64(100), receipt.Reward)

	pool := suite.pool()
	suite.Zero(pool.TotalStaked)
	suite.Equal(uint64(900), pool.RewardPool)
	suite.Equal(uint64(1100), suite.balance(staker))
	suite.Equal(uint64(900), suite.balance(CustodyAddress(poolID)))

	position := suite.position()
	suite.Zero(position.StakedAmount)
	suite.Zero(position.RewardStartTime)
	suite.Equal(int64(10), position.StakeStartTime)

	_, err = suite.service.Unstake(suite.ctx, poolID, staker)
	suite.ErrorIs(err, ErrNothingStaked)
	_, err = suite.service.ClaimRewards(suite.ctx, poolID, staker)
	suite.ErrorIs(err, ErrNothingStaked)

	// Re-staking reuses the closed position
	suite.now = 20 + year
	_, err = suite.service.Stake(suite.ctx, poolID, staker, 500)
	suite.Require().NoError(err)
	position = suite.position()
	suite.Equal(uint64(500), position.StakedAmount)
	suite.Equal(20+year, position.StakeStartTime)
}

func (suite *ServiceTestSuite) TestUpdateParamsKeepsSnapshots() {
	suite.initPool(0)
	suite.stake(1000)
	suite.addRewards(1000)

	_, err := suite.service.UpdateParams(suite.ctx, poolID, staker, Params{APY: 50, EndTime: 10})
	suite.ErrorIs(err, ErrNotPoolOwner)

	_, err = suite.service.UpdateParams(suite.ctx, poolID, owner, Params{APY: 50, StartTime: 10, EndTime: 5})
	suite.ErrorIs(err, ErrInvalidParams)

	receipt, err := suite.service.UpdateParams(suite.ctx, poolID, owner, Params{APY: 50, LockDuration: 500, StartTime: 0, EndTime: 2_000_000})
	suite.Require().NoError(err)
	suite.Equal(uint64(50), receipt.Pool.APY)
	suite.Equal(int64(2_000_000), receipt.Pool.EndTime)

	position := suite.position()
	suite.Equal(uint64(10), position.APY)
	suite.Zero(position.LockDuration)

	suite.now = year
	claim, err := suite.service.ClaimRewards(suite.ctx, poolID, staker)
	suite.Require().NoError(err)
	suite.Equal(uint64(100), claim.Reward)
}

func (suite *ServiceTestSuite) TestAddRewards() {
	suite.initPool(0)

	_, err := suite.service.AddRewards(suite.ctx, poolID, owner, 0)
	suite.ErrorIs(err, ErrInvalidAmount)

	_, err = suite.service.AddRewards(suite.ctx, poolID, owner, 10)
	suite.ErrorIs(err, ledger.ErrInsufficientBalance)
	suite.Zero(suite.pool().RewardPool)

	suite.fund(funder, 300)
	_, err = suite.service.AddRewards(suite.ctx, poolID, funder, 300)
	suite.ErrorIs(err, ErrNotAuthorizedFunder)

	suite.service = suite.newService(suite.ledger, allowFunder{address: funder})
	receipt, err := suite.service.AddRewards(suite.ctx, poolID, funder, 300)
	suite.Require().NoError(err)
	suite.Equal(uint64(300), receipt.Amount)
	suite.Equal(uint64(300), suite.pool().RewardPool)
	suite.Zero(suite.balance(funder))
	suite.Equal(uint64(300), suite.balance(CustodyAddress(poolID)))
}

func (suite *ServiceTestSuite) TestTransferFailureRollsBack() {
	suite.initPool(0)

	failing := new(MockLedger)
	failing.On("Transfer", mock.Anything, staker, CustodyAddress(poolID), staker, uint64(1000)).
		Return(errors.New("ledger unavailable"))
	suite.service = suite.newService(failing, OwnerOnlyPolicy{})

	_, err := suite.service.Stake(suite.ctx, poolID, staker, 1000)
	suite.Error(err)
	suite.False(IsRejection(err))
	suite.Nil(suite.position())
	suite.Zero(suite.pool().TotalStaked)
	suite.Contains(suite.metrics.results, "stake:error")
	failing.AssertExpectations(suite.T())

	entries, err := suite.journal.GetByType(suite.ctx, poolID, models.TransactionTypeStake, 10, 0)
	suite.NoError(err)
	suite.Empty(entries)
}

func (suite *ServiceTestSuite) TestNotifierReceivesCommittedOperations() {
	suite.initPool(0)
	suite.stake(1000)

	_, err := suite.service.Stake(suite.ctx, poolID, staker, 1000)
	suite.ErrorIs(err, ErrAlreadyStaked)

	suite.Require().Len(suite.notifier.receipts, 2)
	last := suite.notifier.receipts[1]
	suite.Equal(models.TransactionTypeStake, last.Op)
	suite.Equal(staker, last.Caller())
	suite.Equal(uint64(1000), last.Pool.TotalStaked)
	suite.Require().NotNil(last.Position)
	suite.Equal(uint64(1000), last.Position.StakedAmount)

	var warned bool
	for _, entry := range suite.logs.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["op"] == models.TransactionTypeStake {
			warned = true
		}
	}
	suite.True(warned)
}

func (suite *ServiceTestSuite) TestConcurrentClaimsPayOnce() {
	suite.initPool(0)
	suite.stake(1000)
	suite.addRewards(1000)
	suite.now = year

	var wg sync.WaitGroup
	rewards := make(chan uint64, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := suite.service.ClaimRewards(suite.ctx, poolID, staker)
			if err == nil {
				rewards <- receipt.Reward
			}
		}()
	}
	wg.Wait()
	close(rewards)

	var total uint64
	var count int
	for r := range rewards {
		total += r
		count++
	}
	suite.Equal(5, count)
	suite.Equal(uint64(100), total)
	suite.Equal(uint64(900), suite.pool().RewardPool)
	suite.Equal(uint64(100), suite.balance(staker))
}

func (suite *ServiceTestSuite) TestReads() {
	_, err := suite.service.GetPool(suite.ctx, poolID)
	suite.ErrorIs(err, ErrPoolNotFound)

	suite.initPool(0)
	suite.stake(1000)
	suite.addRewards(40)

	position, err := suite.service.GetPosition(suite.ctx, poolID, staker)
	suite.NoError(err)
	suite.Require().NotNil(position)

	position, err = suite.service.GetPosition(suite.ctx, poolID, funder)
	suite.NoError(err)
	suite.Nil(position)

	_, err = suite.service.GetPosition(suite.ctx, poolID, "bogus")
	suite.ErrorIs(err, ErrInvalidAddress)

	suite.now = year / 2
	pending, err := suite.service.PendingReward(suite.ctx, poolID, staker)
	suite.NoError(err)
	suite.Equal(uint64(50), pending)

	pending, err = suite.service.PendingReward(suite.ctx, poolID, funder)
	suite.NoError(err)
	suite.Zero(pending)

	positions, err := suite.service.ListPositions(suite.ctx, poolID, 0, -1)
	suite.NoError(err)
	suite.Len(positions, 1)

	audit, err := suite.service.Audit(suite.ctx, poolID)
	suite.NoError(err)
	suite.True(audit.Consistent)
	suite.Equal(uint64(1000), audit.PositionsSum)
	suite.Equal(uint64(1040), audit.CustodyBalance)

	suite.db.Model(&models.StakingPool{}).Where("pool_id = ?", poolID).Update("total_staked", 999)
	audit, err = suite.service.Audit(suite.ctx, poolID)
	suite.NoError(err)
	suite.False(audit.Consistent)
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
