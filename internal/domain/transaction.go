package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TxDeposit    = "deposit"
	TxWithdrawal = "withdrawal"
	TxTransfer   = "transfer"
)

// Transaction Model. A row is written once by the transaction engine
// and never updated or deleted afterwards; it is the audit trail.
type Transaction struct {
	ID            uint            `gorm:"primaryKey" json:"id"`                      // Primary key, monotonically increasing
	FromAccountID *uint           `gorm:"index" json:"from_account_id"`              // Debited account, NULL for deposits
	ToAccountID   *uint           `gorm:"index" json:"to_account_id"`                // Credited account, NULL for withdrawals
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"` // Moved amount, always > 0
	Type          string          `gorm:"not null" json:"type"`                      // deposit, withdrawal or transfer
	Description   string          `json:"description"`                               // Optional free text
	CreatedAt     time.Time       `json:"created_at"`                                // Timestamp of commit
}
