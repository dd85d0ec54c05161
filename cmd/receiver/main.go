package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/infoset/collector/internal/config"
	"github.com/infoset/collector/internal/database"
	"github.com/infoset/collector/internal/handlers"
	"github.com/infoset/collector/internal/logger"
	"github.com/infoset/collector/internal/retry"
	"github.com/infoset/collector/internal/store"
	"github.com/infoset/collector/internal/validation"
	"github.com/infoset/collector/internal/valkey"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Set Gin mode
	gin.SetMode(cfg.GinMode)

	// Initialize database (the validator's duplicate check reads it)
	var db *database.DB
	err := retry.WithExponentialBackoff(context.Background(), retry.DefaultConfig(), "database connect", func() error {
		var err error
		db, err = database.New(cfg)
		return err
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize Valkey for upload deduplication
	var valkeyClient *valkey.Client
	err = retry.WithExponentialBackoff(context.Background(), retry.DefaultConfig(), "valkey connect", func() error {
		var err error
		valkeyClient, err = valkey.New(cfg)
		return err
	})
	if err != nil {
		log.Fatalf("Failed to initialize Valkey: %v", err)
	}
	defer valkeyClient.Close()

	// Initialize router
	router := gin.Default()

	// Configure CORS - agents upload from anywhere
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "infoset-receiver",
		})
	})

	// Initialize handlers
	appLogger := logger.New()
	gateway := store.NewPostgres(db.DB)
	deduper := validation.NewDeduper(valkeyClient, 2*time.Duration(cfg.StepSeconds)*time.Second)
	receiveHandler := handlers.NewReceiveHandler(cfg, gateway, deduper)
	dataHandler := handlers.NewDataHandler(gateway, cfg.StepSeconds, appLogger)

	// Upload routes (for agents only)
	router.POST("/receive/:uid", receiveHandler.Receive)
	router.POST("/prometheus/:uid", receiveHandler.ReceivePrometheus)

	// Chart data route
	router.GET("/data/:idx", dataHandler.Data)

	// Start server
	addr := ":" + cfg.Port
	log.Printf("Starting receiver service on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
