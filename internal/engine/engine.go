package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"bank_system/internal/domain"
	"bank_system/internal/store"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// maxAttempts bounds the internal retry on write contention before
// ErrStorageConflict is surfaced to the caller.
const maxAttempts = 3

// CredentialVerifier re-checks the acting user's password at the time
// of a money movement, independent of session authentication.
type CredentialVerifier interface {
	Verify(ctx context.Context, userID uint, plaintext string) bool
}

// Engine validates and atomically applies money movements. Each
// successful call commits exactly one immutable ledger row together
// with its balance change(s); a failed call commits nothing.
type Engine struct {
	db       *gorm.DB
	accounts *store.AccountStore
	verifier CredentialVerifier
}

// New builds an Engine on top of the account store.
func New(db *gorm.DB, accounts *store.AccountStore, verifier CredentialVerifier) *Engine {
	return &Engine{db: db, accounts: accounts, verifier: verifier}
}

// ApplyInput carries one requested money movement.
type ApplyInput struct {
	ActorUserID     uint             // authenticated caller
	Type            string           // deposit, withdrawal or transfer
	FromAccountID   *uint            // required for withdrawal and transfer
	ToAccountID     *uint            // required for deposit and transfer
	Amount          decimal.Decimal  // must be > 0 with at most 2 fractional digits
	Description     string           // optional free text
	ConfirmPassword string           // re-authentication credential
}

// ListFilter narrows a ledger listing. Nil/empty fields mean no
// restriction on that dimension; the date range is inclusive on both
// ends.
type ListFilter struct {
	AccountID *uint
	Type      string
	StartDate *time.Time
	EndDate   *time.Time
}

// Apply runs the precondition chain in order (re-auth, amount,
// account resolution, funds) and, only if every check passes, commits
// the balance mutation(s) and the ledger insert as one transaction.
// The first failing check returns with zero side effects.
func (e *Engine) Apply(ctx context.Context, in ApplyInput) (*domain.Transaction, error) {
	if !e.verifier.Verify(ctx, in.ActorUserID, in.ConfirmPassword) {
		return nil, domain.ErrUnauthorized
	}
	if !in.Amount.IsPositive() || !in.Amount.Equal(in.Amount.Round(2)) {
		return nil, domain.ErrInvalidAmount
	}
	if err := validateShape(in); err != nil {
		return nil, err
	}

	var tr *domain.Transaction
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tr, err = e.applyOnce(ctx, in)
		if err == nil || !isConflict(err) {
			break
		}
		logrus.WithFields(logrus.Fields{
			"user_id": in.ActorUserID,
			"type":    in.Type,
			"attempt": attempt,
		}).Warn("Transaction retried on write contention")
	}
	if err != nil {
		if isConflict(err) {
			err = domain.ErrStorageConflict
		}
		logrus.WithFields(logrus.Fields{
			"user_id": in.ActorUserID,
			"type":    in.Type,
			"amount":  in.Amount.String(),
			"error":   err.Error(),
		}).Error("Transaction failed")
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":        in.ActorUserID,
		"type":           in.Type,
		"amount":         in.Amount.String(),
		"transaction_id": tr.ID,
	}).Info("Transaction applied")
	return tr, nil
}

// validateShape checks that the account sides match the operation
// type. A transfer between the same account is rejected up front.
func validateShape(in ApplyInput) error {
	switch in.Type {
	case domain.TxDeposit:
		if in.ToAccountID == nil {
			return domain.ErrInvalidTransaction
		}
	case domain.TxWithdrawal:
		if in.FromAccountID == nil {
			return domain.ErrInvalidTransaction
		}
	case domain.TxTransfer:
		if in.FromAccountID == nil || in.ToAccountID == nil {
			return domain.ErrInvalidTransaction
		}
		if *in.FromAccountID == *in.ToAccountID {
			return domain.ErrInvalidTransaction
		}
	default:
		return domain.ErrInvalidTransaction
	}
	return nil
}

// applyOnce performs one attempt at the atomic unit: resolve and lock
// the touched rows, check funds, mutate balances, insert the ledger
// row. Any error rolls the whole unit back.
func (e *Engine) applyOnce(ctx context.Context, in ApplyInput) (*domain.Transaction, error) {
	tr := &domain.Transaction{
		Amount:      in.Amount,
		Type:        in.Type,
		Description: in.Description,
	}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Rows are locked in ascending account id order so that
		// overlapping transfers cannot deadlock each other.
		for _, id := range lockOrder(in) {
			if _, err := e.accounts.GetForUpdate(tx, id, in.ActorUserID); err != nil {
				return err
			}
		}
		switch in.Type {
		case domain.TxDeposit:
			tr.ToAccountID = in.ToAccountID
			if err := e.accounts.AdjustBalance(tx, *in.ToAccountID, in.Amount); err != nil {
				return err
			}
		case domain.TxWithdrawal:
			tr.FromAccountID = in.FromAccountID
			if err := e.accounts.AdjustBalance(tx, *in.FromAccountID, in.Amount.Neg()); err != nil {
				return err
			}
		case domain.TxTransfer:
			tr.FromAccountID = in.FromAccountID
			tr.ToAccountID = in.ToAccountID
			if err := e.accounts.AdjustBalance(tx, *in.FromAccountID, in.Amount.Neg()); err != nil {
				return err
			}
			if err := e.accounts.AdjustBalance(tx, *in.ToAccountID, in.Amount); err != nil {
				return err
			}
		}
		return tx.Create(tr).Error
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// lockOrder returns the distinct account ids a movement touches,
// ascending.
func lockOrder(in ApplyInput) []uint {
	var ids []uint
	if in.FromAccountID != nil {
		ids = append(ids, *in.FromAccountID)
	}
	if in.ToAccountID != nil {
		ids = append(ids, *in.ToAccountID)
	}
	if len(ids) == 2 && ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return ids
}

// isConflict reports whether err looks like transient write
// contention (deadlock victim, serialization failure, busy database).
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrStorageConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "try restarting transaction") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// ListTransactions returns every ledger row where at least one side
// belongs to an account owned by ownerID, narrowed by the filter.
func (e *Engine) ListTransactions(ctx context.Context, ownerID uint, f ListFilter) ([]domain.Transaction, error) {
	q := e.ownedTransactions(ctx, ownerID)
	if f.AccountID != nil {
		q = q.Where(e.db.Where("from_account_id = ?", *f.AccountID).Or("to_account_id = ?", *f.AccountID))
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.StartDate != nil {
		q = q.Where("created_at >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("created_at <= ?", *f.EndDate)
	}
	var txs []domain.Transaction
	if err := q.Order("id desc").Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

// GetTransaction returns one ledger row by id, visible only when one
// of its sides belongs to the owner.
func (e *Engine) GetTransaction(ctx context.Context, ownerID, transactionID uint) (*domain.Transaction, error) {
	var tr domain.Transaction
	err := e.ownedTransactions(ctx, ownerID).
		Where("transactions.id = ?", transactionID).
		First(&tr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

// ownedTransactions scopes a ledger query to rows touching any of the
// owner's accounts.
func (e *Engine) ownedTransactions(ctx context.Context, ownerID uint) *gorm.DB {
	owned := e.db.Model(&domain.Account{}).Select("id").Where("user_id = ?", ownerID)
	return e.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("from_account_id IN (?) OR to_account_id IN (?)", owned, owned)
}
