package economy

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Account is a player wallet row.
type Account struct {
	gorm.Model `json:"-"`
	PlayerID   string    `gorm:"uniqueIndex" json:"player_id"`
	Balance    float64   `json:"balance"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Wallet is the gorm-backed Provider used when no external economy is
// wired in. Every balance change is a conditional update so two
// concurrent withdrawals can never both succeed past zero.
type Wallet struct {
	db *gorm.DB
}

func NewWallet(db *gorm.DB) *Wallet {
	return &Wallet{db: db}
}

func (w *Wallet) GetBalance(playerID string) float64 {
	var acct Account
	if err := w.db.Where("player_id = ?", playerID).First(&acct).Error; err != nil {
		return 0
	}
	return acct.Balance
}

func (w *Wallet) Has(playerID string, amount float64) bool {
	return w.GetBalance(playerID) >= amount
}

// Withdraw debits the account, returning false when funds are short or
// the write fails. The guard lives in the WHERE clause: the update only
// lands if the balance still covers the amount.
func (w *Wallet) Withdraw(playerID string, amount float64) bool {
	if amount < 0 {
		return false
	}
	result := w.db.Model(&Account{}).
		Where("player_id = ? AND balance >= ?", playerID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		log.Error().Err(result.Error).Str("player_id", playerID).Float64("amount", amount).Msg("wallet withdraw failed")
		return false
	}
	return result.RowsAffected == 1
}

func (w *Wallet) Deposit(playerID string, amount float64) bool {
	if amount < 0 {
		return false
	}
	result := w.db.Model(&Account{}).
		Where("player_id = ?", playerID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		log.Error().Err(result.Error).Str("player_id", playerID).Float64("amount", amount).Msg("wallet deposit failed")
		return false
	}
	if result.RowsAffected == 0 {
		// first credit creates the account
		if err := w.db.Create(&Account{PlayerID: playerID, Balance: amount, UpdatedAt: time.Now()}).Error; err != nil {
			log.Error().Err(err).Str("player_id", playerID).Msg("wallet account create failed")
			return false
		}
	}
	return true
}

func (w *Wallet) DepositOffline(playerID string, amount float64) bool {
	return w.Deposit(playerID, amount)
}

func (w *Wallet) Format(amount float64) string {
	return FormatAmount(amount)
}

// EnsureAccount creates a zero-balance account if none exists.
func (w *Wallet) EnsureAccount(playerID string) error {
	var acct Account
	err := w.db.Where("player_id = ?", playerID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return w.db.Create(&Account{PlayerID: playerID, UpdatedAt: time.Now()}).Error
	}
	return err
}
