package domain

import "errors"

// Error taxonomy shared by the account store and the transaction
// engine. Callers match with errors.Is.
var (
	ErrUnauthorized           = errors.New("unauthorized")              // re-auth credential rejected
	ErrAccountNotFound        = errors.New("account not found")         // missing or owned by another user
	ErrTransactionNotFound    = errors.New("transaction not found")     // missing or not visible to the caller
	ErrInvalidAmount          = errors.New("invalid amount")            // non-positive or more than 2 fractional digits
	ErrInvalidTransaction     = errors.New("invalid transaction")       // unknown type or missing/colliding account sides
	ErrInsufficientFunds      = errors.New("insufficient funds")        // would drive a balance negative
	ErrDuplicateAccountNumber = errors.New("account number already in use")
	ErrStorageConflict        = errors.New("storage conflict")          // write contention, retried before surfacing
)
