package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account Model
type Account struct {
	ID            uint            `gorm:"primaryKey" json:"id"`                        // Primary key
	UserID        uint            `gorm:"index;not null" json:"user_id"`               // Foreign key to the owning User
	AccountType   string          `gorm:"not null" json:"account_type"`                // Free-form label (savings, checking, ...)
	AccountNumber string          `gorm:"unique;not null" json:"account_number"`       // Globally unique account number
	Balance       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"balance"`  // Balance, never negative
	CreatedAt     time.Time       `json:"created_at"`                                  // Timestamp of creation
	UpdatedAt     time.Time       `json:"updated_at"`                                  // Timestamp of last write
}
