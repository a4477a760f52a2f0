package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"time"     // Time parsing

	"bank_system/internal/domain" // Importing domain models
	"bank_system/internal/engine" // Transaction engine
	"bank_system/internal/utils"  // Utility functions

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/shopspring/decimal"
)

// txHistoryCacheKey is the per-user cache key for the unfiltered
// transaction history.
func txHistoryCacheKey(userID uint) string {
	return "txhistory:user:" + strconv.Itoa(int(userID))
}

// TransactionRequest carries one requested money movement
type TransactionRequest struct {
	Type            string `json:"type" binding:"required"`             // deposit, withdrawal or transfer
	FromAccountID   *uint  `json:"from_account_id"`                     // Source account, when applicable
	ToAccountID     *uint  `json:"to_account_id"`                       // Destination account, when applicable
	Amount          string `json:"amount" binding:"required"`           // Decimal string, e.g. "120.50"
	Description     string `json:"description"`                         // Optional free text
	ConfirmPassword string `json:"confirm_password" binding:"required"` // Re-authentication credential
}

// ApplyTransactionHandler validates and applies a money movement
// through the transaction engine.
func ApplyTransactionHandler(eng *engine.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req TransactionRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
			return
		}
		tr, err := eng.Apply(c.Request.Context(), engine.ApplyInput{
			ActorUserID:     userID,
			Type:            req.Type,
			FromAccountID:   req.FromAccountID,
			ToAccountID:     req.ToAccountID,
			Amount:          amount,
			Description:     req.Description,
			ConfirmPassword: req.ConfirmPassword,
		})
		if err != nil {
			abortWith(c, err)
			return
		}
		// Balances and history changed, drop the cached reads
		invalidateUserCaches(c.Request.Context(), rdb, userID)
		c.JSON(http.StatusCreated, gin.H{"message": "Transaction completed successfully", "transaction": tr})
	}
}

// parseDate accepts a bare date or a full RFC3339 timestamp
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// ListTransactionsHandler returns the ledger rows visible to the
// authenticated user, optionally filtered by account, type and an
// inclusive date range.
func ListTransactionsHandler(eng *engine.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var f engine.ListFilter
		filtered := false
		if v := c.Query("account_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
				return
			}
			accountID := uint(id)
			f.AccountID = &accountID
			filtered = true
		}
		if v := c.Query("type"); v != "" {
			f.Type = v
			filtered = true
		}
		if v := c.Query("start_date"); v != "" {
			t, err := parseDate(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start date"})
				return
			}
			f.StartDate = &t
			filtered = true
		}
		if v := c.Query("end_date"); v != "" {
			t, err := parseDate(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end date"})
				return
			}
			// A bare end date means the whole day, inclusive
			if len(v) == len("2006-01-02") {
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			f.EndDate = &t
			filtered = true
		}
		ctx := c.Request.Context()
		// Only the unfiltered history is cached; filter combinations
		// are too sparse to be worth the invalidation bookkeeping.
		if !filtered {
			var cached []domain.Transaction
			found, err := utils.GetCache(ctx, rdb, txHistoryCacheKey(userID), &cached)
			if err == nil && found {
				c.JSON(http.StatusOK, gin.H{"transactions": cached, "cached": true})
				return
			}
		}
		txs, err := eng.ListTransactions(ctx, userID, f)
		if err != nil {
			abortWith(c, err)
			return
		}
		if !filtered {
			_ = utils.SetCache(ctx, rdb, txHistoryCacheKey(userID), txs, accountCacheTTL)
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txs, "cached": false})
	}
}

// GetTransactionHandler returns one ledger row if one of its sides
// belongs to the authenticated user.
func GetTransactionHandler(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		transactionID, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction id"})
			return
		}
		tr, err := eng.GetTransaction(c.Request.Context(), userID, uint(transactionID))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": tr})
	}
}
