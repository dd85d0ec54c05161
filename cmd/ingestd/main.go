package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infoset/collector/internal/cleaner"
	"github.com/infoset/collector/internal/config"
	"github.com/infoset/collector/internal/database"
	"github.com/infoset/collector/internal/ingest"
	"github.com/infoset/collector/internal/retry"
	"github.com/infoset/collector/internal/store"
)

func main() {
	log.Println("Starting ingest daemon...")

	// Load configuration
	cfg := config.Load()

	// Initialize database
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

	gateway := store.NewPostgres(db.DB)
	scheduler := ingest.NewScheduler(ingest.Options{
		CacheDir:   cfg.CacheDir,
		FailureDir: cfg.FailureDir,
		LockFile:   cfg.LockFile,
		Workers:    cfg.IngestWorkers,
		Step:       cfg.StepSeconds,
		MinFileAge: cfg.CacheMinAge,
		DBTimeout:  cfg.DBTimeout,
	}, gateway)

	// Create cleaner instance
	cleanerInstance := cleaner.New(db.DB, cfg)

	// Drain on every tick; clean up hourly
	drainTicker := time.NewTicker(cfg.IngestInterval)
	defer drainTicker.Stop()
	cleanupTicker := time.NewTicker(1 * time.Hour)
	defer cleanupTicker.Stop()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Printf("Ingest daemon ready (draining every %v)", cfg.IngestInterval)

	// Run one drain immediately on startup
	runDrain(ctx, scheduler)
	go runCleanup(ctx, cleanerInstance)

	for {
		select {
		case <-sigChan:
			log.Println("Shutting down...")
			cancel()
			log.Println("Ingest daemon stopped")
			return
		case <-cleanupTicker.C:
			// Run cleanup in background (don't block draining)
			go runCleanup(ctx, cleanerInstance)
		case <-drainTicker.C:
			runDrain(ctx, scheduler)
		}
	}
}

func runDrain(ctx context.Context, scheduler *ingest.Scheduler) {
	start := time.Now()
	err := scheduler.Run(ctx)
	switch {
	case errors.Is(err, ingest.ErrLocked):
		// A previous run is still draining; the next tick will retry.
	case err != nil:
		log.Printf("[ERROR] Drain run failed: %v", err)
	default:
		log.Printf("[DEBUG] Drain run finished in %v", time.Since(start))
	}
}

func runCleanup(ctx context.Context, c *cleaner.Cleaner) {
	log.Printf("[CLEANUP] Running cleanup at %s", time.Now().UTC().Format(time.RFC3339))

	// Bounded so a slow cleanup never overlaps the next run
	cleanupCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	if err := c.Run(cleanupCtx); err != nil {
		log.Printf("[CLEANUP] Failed: %v", err)
	} else {
		log.Printf("[CLEANUP] Completed successfully")
	}
}
