package api

import (
	"errors"
	"net/http"

	"bank_system/internal/domain"

	"github.com/gin-gonic/gin"
)

// statusFor maps a domain error to the HTTP status and message the
// web layer should respond with.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "Password confirmation failed"
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, "Transaction not found"
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, domain.ErrInvalidTransaction):
		return http.StatusBadRequest, "Invalid transaction request"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusBadRequest, "Insufficient funds"
	case errors.Is(err, domain.ErrDuplicateAccountNumber):
		return http.StatusConflict, "Account number already in use"
	case errors.Is(err, domain.ErrStorageConflict):
		return http.StatusServiceUnavailable, "Please retry the transaction"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// abortWith writes the mapped error response
func abortWith(c *gin.Context, err error) {
	status, msg := statusFor(err)
	c.JSON(status, gin.H{"error": msg})
}
