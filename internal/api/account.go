package api

import (
	"context"  // Context for Redis operations
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"time"     // Time durations

	"bank_system/internal/domain" // Importing domain models
	"bank_system/internal/store"  // Account store
	"bank_system/internal/utils"  // Utility functions

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus" // Logging library
)

// accountCacheTTL bounds how stale a cached account list may get
const accountCacheTTL = 60 * time.Second

// currentUserID extracts the authenticated user id set by the JWT
// middleware.
func currentUserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get("userID")
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// accountsCacheKey is the per-user cache key for the account list
func accountsCacheKey(userID uint) string {
	return "accounts:user:" + strconv.Itoa(int(userID))
}

// invalidateUserCaches drops the cached account list and transaction
// history after any successful write.
func invalidateUserCaches(ctx context.Context, rdb *redis.Client, userID uint) {
	_ = utils.DeleteCache(ctx, rdb, accountsCacheKey(userID))
	_ = utils.DeleteCache(ctx, rdb, txHistoryCacheKey(userID))
}

// CreateAccountRequest carries a new account
type CreateAccountRequest struct {
	AccountType    string `json:"account_type" binding:"required"` // Type label, e.g. savings
	AccountNumber  string `json:"account_number"`                  // Optional, derived server-side when empty
	OpeningBalance string `json:"balance"`                         // Optional opening balance, defaults to 0
}

// UpdateAccountRequest carries non-financial account edits
type UpdateAccountRequest struct {
	AccountType   string `json:"account_type"`   // New type label, empty keeps current
	AccountNumber string `json:"account_number"` // New number, empty keeps current
}

// CreateAccountHandler opens a new account for the authenticated user
func CreateAccountHandler(accounts *store.AccountStore, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req CreateAccountRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		opening := decimal.Zero
		if req.OpeningBalance != "" {
			var err error
			if opening, err = decimal.NewFromString(req.OpeningBalance); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
				return
			}
		}
		acct, err := accounts.Create(c.Request.Context(), userID, req.AccountType, req.AccountNumber, opening)
		if err != nil {
			abortWith(c, err)
			return
		}
		logrus.WithFields(logrus.Fields{
			"user_id":    userID,
			"account_id": acct.ID,
		}).Info("Account created")
		invalidateUserCaches(c.Request.Context(), rdb, userID)
		c.JSON(http.StatusCreated, gin.H{"account": acct})
	}
}

// ListAccountsHandler returns all accounts of the authenticated user
func ListAccountsHandler(accounts *store.AccountStore, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		ctx := c.Request.Context()
		cacheKey := accountsCacheKey(userID)
		var cached []domain.Account
		found, err := utils.GetCache(ctx, rdb, cacheKey, &cached) // Try the cache first
		if err == nil && found {
			c.JSON(http.StatusOK, gin.H{"accounts": cached, "cached": true})
			return
		}
		accts, err := accounts.List(ctx, userID)
		if err != nil {
			abortWith(c, err)
			return
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, accts, accountCacheTTL)
		c.JSON(http.StatusOK, gin.H{"accounts": accts, "cached": false})
	}
}

// GetAccountHandler returns one account owned by the authenticated user
func GetAccountHandler(accounts *store.AccountStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		accountID, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
			return
		}
		acct, err := accounts.Get(c.Request.Context(), uint(accountID), userID)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"account": acct})
	}
}

// UpdateAccountHandler edits account type and/or number. The balance
// cannot be changed here; only the transaction engine moves money.
func UpdateAccountHandler(accounts *store.AccountStore, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		accountID, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
			return
		}
		var req UpdateAccountRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		acct, err := accounts.UpdateFields(c.Request.Context(), uint(accountID), userID, req.AccountType, req.AccountNumber)
		if err != nil {
			abortWith(c, err)
			return
		}
		invalidateUserCaches(c.Request.Context(), rdb, userID)
		c.JSON(http.StatusOK, gin.H{"account": acct})
	}
}

// DeleteAccountHandler removes an account owned by the authenticated
// user. The deletion is irreversible.
func DeleteAccountHandler(accounts *store.AccountStore, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		accountID, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
			return
		}
		if err := accounts.Delete(c.Request.Context(), uint(accountID), userID); err != nil {
			abortWith(c, err)
			return
		}
		logrus.WithFields(logrus.Fields{
			"user_id":    userID,
			"account_id": accountID,
		}).Info("Account deleted")
		invalidateUserCaches(c.Request.Context(), rdb, userID)
		c.JSON(http.StatusOK, gin.H{"message": "Account deleted"})
	}
}
