package store

import (
	"context"
	"errors"
	"strings"

	"bank_system/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountStore holds the authoritative account records. Every read and
// write path is scoped to the owning user so that another user's
// accounts behave exactly like accounts that do not exist.
type AccountStore struct {
	db *gorm.DB
}

// NewAccountStore wraps a gorm handle
func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// validAmount reports whether d carries at most 2 fractional digits.
// Precision is enforced here rather than left to column coercion.
func validAmount(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// Get returns the account only if it belongs to ownerID.
func (s *AccountStore) Get(ctx context.Context, accountID, ownerID uint) (*domain.Account, error) {
	var acct domain.Account
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", accountID, ownerID).
		First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// List returns all accounts owned by ownerID, oldest first.
func (s *AccountStore) List(ctx context.Context, ownerID uint) ([]domain.Account, error) {
	var accts []domain.Account
	err := s.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("id").
		Find(&accts).Error
	if err != nil {
		return nil, err
	}
	return accts, nil
}

// Create opens a new account for ownerID. The opening balance must be
// non-negative with at most 2 fractional digits. When accountNumber is
// empty a unique one is derived server-side.
func (s *AccountStore) Create(ctx context.Context, ownerID uint, accountType, accountNumber string, openingBalance decimal.Decimal) (*domain.Account, error) {
	if openingBalance.IsNegative() || !validAmount(openingBalance) {
		return nil, domain.ErrInvalidAmount
	}
	if accountNumber == "" {
		// No number supplied, derive one from a fresh UUID
		accountNumber = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
	}
	acct := domain.Account{
		UserID:        ownerID,
		AccountType:   accountType,
		AccountNumber: accountNumber,
		Balance:       openingBalance,
	}
	if err := s.db.WithContext(ctx).Create(&acct).Error; err != nil {
		// The unique index on account_number is the source of truth
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, domain.ErrDuplicateAccountNumber
		}
		return nil, err
	}
	return &acct, nil
}

// UpdateFields applies non-financial edits (type and/or number). The
// balance is deliberately untouchable here; only the transaction
// engine mutates it. Empty arguments leave the field as is.
func (s *AccountStore) UpdateFields(ctx context.Context, accountID, ownerID uint, accountType, accountNumber string) (*domain.Account, error) {
	acct, err := s.Get(ctx, accountID, ownerID)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if accountType != "" {
		updates["account_type"] = accountType
	}
	if accountNumber != "" {
		updates["account_number"] = accountNumber
	}
	if len(updates) == 0 {
		return acct, nil
	}
	if err := s.db.WithContext(ctx).Model(acct).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, domain.ErrDuplicateAccountNumber
		}
		return nil, err
	}
	return acct, nil
}

// Delete removes the account permanently. There is no soft delete.
func (s *AccountStore) Delete(ctx context.Context, accountID, ownerID uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", accountID, ownerID).
		Delete(&domain.Account{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// GetForUpdate loads the account under a row lock inside the caller's
// open transaction. Used by the transaction engine to pin the rows a
// money movement touches until commit.
func (s *AccountStore) GetForUpdate(tx *gorm.DB, accountID, ownerID uint) (*domain.Account, error) {
	var acct domain.Account
	err := lockForUpdate(tx).
		Where("id = ? AND user_id = ?", accountID, ownerID).
		First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// AdjustBalance applies delta (positive or negative) to the account's
// balance inside the caller's open transaction. This is the only code
// path that writes balances and it is reserved for the transaction
// engine; the row must already be locked via GetForUpdate. The
// resulting balance is recomputed from the locked row, never from a
// value read outside the transaction.
func (s *AccountStore) AdjustBalance(tx *gorm.DB, accountID uint, delta decimal.Decimal) error {
	var acct domain.Account
	if err := lockForUpdate(tx).First(&acct, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrAccountNotFound
		}
		return err
	}
	next := acct.Balance.Add(delta)
	if next.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	return tx.Model(&acct).Update("balance", next).Error
}

// lockForUpdate adds a SELECT ... FOR UPDATE clause. SQLite has no row
// locks and rejects the syntax; its single-writer model already
// serializes the transaction, so the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
