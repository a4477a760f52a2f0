package main

import (
	"context" // context package is needed for Redis operations
	"log"     // log package is needed for logging

	"bank_system/internal/api"        // Custom package for API handlers
	"bank_system/internal/auth"       // Credential verifier
	"bank_system/internal/config"     // Custom package for configuration
	"bank_system/internal/engine"     // Transaction engine
	"bank_system/internal/middleware" // Custom package for middleware
	"bank_system/internal/store"      // Account store

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logrus for structured logging
	"gorm.io/driver/mysql"         // MySQL driver for GORM
	"gorm.io/gorm"                 // GORM ORM library
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Connect to the database; TranslateError maps driver errors like
	// duplicate keys to gorm sentinels.
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err)
	}

	// Setup Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr, // Redis server address
		Password: cfg.RedisPass, // Redis password
		DB:       cfg.RedisDB,   // Redis database number
	})

	// Test Redis connection
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	// Core components: the store owns account records, the engine owns
	// money movement, the verifier backs the re-auth step.
	accounts := store.NewAccountStore(db)
	eng := engine.New(db, accounts, auth.NewVerifier(db))

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup Gin
	r := gin.Default() // Gin router instance

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	// Auth routes
	r.POST("/user", api.RegisterHandler(db))            // Registration endpoint
	r.GET("/user", api.LoginHandler(db, cfg.JWTSecret)) // Login endpoint

	// Account routes (protected by JWT)
	accountGroup := r.Group("/accounts")
	accountGroup.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	accountGroup.POST("", api.CreateAccountHandler(accounts, redisClient))       // Create account
	accountGroup.GET("", api.ListAccountsHandler(accounts, redisClient))         // List accounts
	accountGroup.GET("/:id", api.GetAccountHandler(accounts))                    // Account details
	accountGroup.PUT("/:id", api.UpdateAccountHandler(accounts, redisClient))    // Edit type/number
	accountGroup.DELETE("/:id", api.DeleteAccountHandler(accounts, redisClient)) // Delete account

	// Transaction routes (protected by JWT)
	txGroup := r.Group("/transactions")
	txGroup.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	txGroup.POST("", api.ApplyTransactionHandler(eng, redisClient))    // Apply a money movement
	txGroup.GET("", api.ListTransactionsHandler(eng, redisClient))     // Ledger listing with filters
	txGroup.GET("/:id", api.GetTransactionHandler(eng))                // Ledger row details

	log.Println("Server running on " + cfg.AppPort) // Log server start
	r.Run(":" + cfg.AppPort)                        // Start the server on port cfg.AppPort
}
