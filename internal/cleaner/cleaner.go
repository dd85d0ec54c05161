package cleaner

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/infoset/collector/internal/config"
)

// Cleaner orchestrates all data retention jobs
type Cleaner struct {
	db  *sql.DB
	cfg *config.Config
}

// New creates a new Cleaner instance
func New(db *sql.DB, cfg *config.Config) *Cleaner {
	return &Cleaner{
		db:  db,
		cfg: cfg,
	}
}

// Run executes all cleanup jobs
func (c *Cleaner) Run(ctx context.Context) error {
	logInfo("Starting cleanup jobs...")
	start := time.Now()

	if err := c.CleanOldObservations(ctx); err != nil {
		return fmt.Errorf("observation cleanup failed: %w", err)
	}

	if err := c.CleanOldQuarantineFiles(); err != nil {
		return fmt.Errorf("quarantine cleanup failed: %w", err)
	}

	duration := time.Since(start)
	logInfo(fmt.Sprintf("All cleanup jobs completed in %v", duration))
	return nil
}

// CleanOldObservations deletes observations older than the retention
// window. Datapoint metadata and watermarks are kept; only the fact rows
// age out.
func (c *Cleaner) CleanOldObservations(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -c.cfg.RetentionDays).Unix()

	if c.cfg.DryRun {
		var count int64
		err := c.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM infoset.observations WHERE timestamp < $1`, cutoff,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to count expired observations: %w", err)
		}
		logInfo(fmt.Sprintf("[DRY RUN] Would delete %d observations older than %d days", count, c.cfg.RetentionDays))
		return nil
	}

	result, err := c.db.ExecContext(ctx,
		`DELETE FROM infoset.observations WHERE timestamp < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete expired observations: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		logInfo(fmt.Sprintf("Deleted %d observations older than %d days", rowsAffected, c.cfg.RetentionDays))
	}
	return nil
}

// CleanOldQuarantineFiles removes quarantined cache files past their
// retention window. Operators get two weeks by default to inspect them.
func (c *Cleaner) CleanOldQuarantineFiles() error {
	entries, err := os.ReadDir(c.cfg.FailureDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read quarantine directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -c.cfg.QuarantineRetentionDays)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(c.cfg.FailureDir, entry.Name())
		if c.cfg.DryRun {
			logInfo(fmt.Sprintf("[DRY RUN] Would delete quarantined file %s", path))
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Printf("[WARN] Failed to delete quarantined file %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		logInfo(fmt.Sprintf("Deleted %d expired quarantine file(s)", removed))
	}
	return nil
}

// logInfo logs info-level messages
func logInfo(msg string) {
	log.Printf("[INFO] %s", msg)
}
