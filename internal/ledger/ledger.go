package ledger

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strings"

	"github.com/irfndi/AetherStake/internal/database"
	"github.com/irfndi/AetherStake/internal/models"
	"github.com/irfndi/AetherStake/internal/reward"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxBalance bounds stored balances to what SQL integer columns hold
const MaxBalance = math.MaxInt64

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrUnauthorizedTransfer = errors.New("authority does not own the source account")
	ErrInvalidAddress       = errors.New("address cannot be empty")
)

// Ledger moves token balances between accounts
type Ledger interface {
	Transfer(ctx context.Context, from, to, authority string, amount uint64) error
	Balance(ctx context.Context, address string) (uint64, error)
	Mint(ctx context.Context, address string, amount uint64) error
}

// gormLedger keeps balances in the ledger_accounts table. It joins a
// transaction carried by the context so transfers commit together with the
// caller's own writes.
type gormLedger struct {
	db *gorm.DB
}

// NewLedger creates a new database backed ledger
func NewLedger(db *gorm.DB) Ledger {
	return &gormLedger{db: db}
}

// Transfer debits from and credits to. The authority must own the source account.
func (l *gormLedger) Transfer(ctx context.Context, from, to, authority string, amount uint64) error {
	if from == "" || to == "" {
		return ErrInvalidAddress
	}
	if !strings.EqualFold(from, authority) {
		return ErrUnauthorizedTransfer
	}
	if amount == 0 || strings.EqualFold(from, to) {
		return nil
	}

	return database.InTx(ctx, l.db, func(ctx context.Context) error {
		conn := database.Conn(ctx, l.db)

		src, err := l.lockAccount(conn, from)
		if err != nil {
			return err
		}
		if src == nil || src.Balance < amount {
			return ErrInsufficientBalance
		}

		dst, err := l.lockOrCreate(conn, to)
		if err != nil {
			return err
		}
		credited, err := credit(dst.Balance, amount)
		if err != nil {
			return err
		}

		if err := conn.Model(&models.Account{}).Where("id = ?", src.ID).
			Update("balance", src.Balance-amount).Error; err != nil {
			return err
		}
		return conn.Model(&models.Account{}).Where("id = ?", dst.ID).
			Update("balance", credited).Error
	})
}

// Balance returns the balance of address, zero for unknown accounts
func (l *gormLedger) Balance(ctx context.Context, address string) (uint64, error) {
	if address == "" {
		return 0, ErrInvalidAddress
	}

	var account models.Account
	err := database.Conn(ctx, l.db).Where("address = ?", address).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

// Mint credits address with newly issued tokens
func (l *gormLedger) Mint(ctx context.Context, address string, amount uint64) error {
	if address == "" {
		return ErrInvalidAddress
	}

	return database.InTx(ctx, l.db, func(ctx context.Context) error {
		conn := database.Conn(ctx, l.db)
		account, err := l.lockOrCreate(conn, address)
		if err != nil {
			return err
		}
		balance, err := credit(account.Balance, amount)
		if err != nil {
			return err
		}
		return conn.Model(&models.Account{}).Where("id = ?", account.ID).Update("balance", balance).Error
	})
}

func (l *gormLedger) lockAccount(conn *gorm.DB, address string) (*models.Account, error) {
	var account models.Account
	err := conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ?", address).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (l *gormLedger) lockOrCreate(conn *gorm.DB, address string) (*models.Account, error) {
	account, err := l.lockAccount(conn, address)
	if err != nil || account != nil {
		return account, err
	}
	account = &models.Account{Address: address}
	if err := conn.Create(account).Error; err != nil {
		return nil, err
	}
	return account, nil
}

func credit(balance, amount uint64) (uint64, error) {
	sum, err := reward.Add(balance, amount)
	if err != nil || sum > MaxBalance {
		return 0, reward.ErrOverflow
	}
	return sum, nil
}

// ToDecimal converts base units into whole tokens
func ToDecimal(amount uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals)
}
