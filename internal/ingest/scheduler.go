package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/infoset/collector/internal/cache"
	"github.com/infoset/collector/internal/store"
)

// ErrLocked means another scheduler run holds the lock file. The caller
// logs it and waits for the next tick.
var ErrLocked = errors.New("ingest lock file present")

// Options configures a Scheduler. Zero values get sensible defaults.
type Options struct {
	CacheDir   string
	FailureDir string
	LockFile   string
	Workers    int
	Step       int64
	MinFileAge time.Duration
	DBTimeout  time.Duration
}

// Scheduler drains the cache directory into storage. One run discovers
// ready files, groups them per agent UID, and replays each UID's files
// sequentially in timestamp order while different UIDs drain in
// parallel on a bounded worker pool. A lock file guarantees at most one
// run is active process-wide; a run that finds the lock aborts whole.
//
// The lock is advisory. If a run dies without removing it, the next run
// cannot start until an operator deletes the file by hand.
type Scheduler struct {
	opts       Options
	gateway    store.Gateway
	validator  *cache.Validator
	reconciler *Reconciler
}

func NewScheduler(opts Options, gateway store.Gateway) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 20
	}
	if opts.Step <= 0 {
		opts.Step = 300
	}
	if opts.DBTimeout <= 0 {
		opts.DBTimeout = 30 * time.Second
	}
	if opts.MinFileAge <= 0 {
		opts.MinFileAge = 15 * time.Second
	}
	return &Scheduler{
		opts:       opts,
		gateway:    gateway,
		validator:  cache.NewValidator(gateway, opts.Step),
		reconciler: NewReconciler(gateway),
	}
}

// Run performs one scheduler pass. Per-file failures are logged and
// contained; only coordination failures (lock held, broken cache
// directory) surface as errors.
func (s *Scheduler) Run(ctx context.Context) error {
	groups, err := cache.Discover(s.opts.CacheDir, s.opts.MinFileAge)
	if err != nil {
		return fmt.Errorf("failed to scan cache directory %s: %w", s.opts.CacheDir, err)
	}
	if len(groups) == 0 {
		return nil
	}

	// Exclusive-create is the mutual exclusion: exactly one run may
	// drain the cache directory at a time, even across slow runs that
	// outlive the tick interval.
	lock, err := os.OpenFile(s.opts.LockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			log.Printf("[WARN] Ingest lock file %s exists. A previous run may still be draining, or it died and the lock needs manual cleanup. Will try again later.", s.opts.LockFile)
			return ErrLocked
		}
		return fmt.Errorf("failed to create lock file %s: %w", s.opts.LockFile, err)
	}
	lock.Close()
	defer os.Remove(s.opts.LockFile)

	// One work item per UID; workers pull items so a slow UID never
	// blocks the others.
	items := make(chan []cache.File, len(groups))
	for _, files := range groups {
		items <- files
	}
	close(items)

	workers := s.opts.Workers
	if len(groups) < workers {
		workers = len(groups)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for files := range items {
				s.drainUID(ctx, files)
			}
		}()
	}
	wg.Wait()

	return nil
}

// drainUID replays one UID's cache files strictly in timestamp order.
// Watermark advancement and counter deltas are only correct when samples
// apply oldest first, so ordering here is load-bearing, not cosmetic.
func (s *Scheduler) drainUID(ctx context.Context, files []cache.File) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Timestamp < files[j].Timestamp
	})

	start := time.Now()
	uid := files[0].UID
	var maxTimestamp int64
	var idxAgent, idxHost int64
	var hostname string

	for _, file := range files {
		doc, result := s.validator.ValidateFile(ctx, file.Path)
		if !result.OK {
			if result.Duplicate {
				// Expected under at-least-once delivery; discard quietly.
				log.Printf("[DEBUG] Duplicate cache file %s: %s", file.Path, result.Error())
				os.Remove(file.Path)
				continue
			}
			log.Printf("[WARN] Cache ingest file %s is invalid, quarantining: %s", file.Path, result.Error())
			s.quarantine(file.Path)
			continue
		}

		drain := cache.NewDrain(doc, file.Path)

		agentIdx, hostIdx, datapoints, err := s.withTimeout(ctx, func(c context.Context) (reconcileResult, error) {
			a, h, d, err := s.reconciler.Reconcile(c, drain)
			return reconcileResult{a, h, d}, err
		})
		if err != nil {
			// Leave the file for the next run and stop this UID: writing
			// later files first would corrupt the watermarks. The batch's
			// earlier commits still get their agent-level bookkeeping below.
			log.Printf("[ERROR] Identity reconcile failed for %s, leaving file for retry: %v", file.Path, err)
			break
		}

		if err := s.persist(ctx, drain, agentIdx, datapoints); err != nil {
			log.Printf("[ERROR] Persist failed for %s, leaving file for retry: %v", file.Path, err)
			break
		}

		idxAgent, idxHost = agentIdx, hostIdx
		hostname = drain.Hostname()
		drain.Purge()
		if drain.Timestamp() > maxTimestamp {
			maxTimestamp = drain.Timestamp()
		}
	}

	if maxTimestamp == 0 {
		return
	}

	// Agent-level bookkeeping after the batch, whether it completed or a
	// failure halted it early: watermark to the max committed timestamp,
	// hostname refreshed from the last committed drain.
	if err := s.gatewayCall(ctx, func(c context.Context) error {
		return s.gateway.AgentWatermarkAdvance(c, idxAgent, maxTimestamp)
	}); err != nil {
		log.Printf("[ERROR] Failed to advance agent watermark for UID %s: %v", uid, err)
	}
	if err := s.gatewayCall(ctx, func(c context.Context) error {
		return s.gateway.HostAgentWatermarkAdvance(c, idxHost, idxAgent, maxTimestamp)
	}); err != nil {
		log.Printf("[ERROR] Failed to advance host/agent watermark for UID %s: %v", uid, err)
	}
	if err := s.gatewayCall(ctx, func(c context.Context) error {
		return s.gateway.AgentUpdateHostname(c, idxAgent, hostname)
	}); err != nil {
		log.Printf("[ERROR] Failed to refresh hostname for UID %s: %v", uid, err)
	}

	log.Printf("[INFO] UID %s processed in %v", uid, time.Since(start))
}

// persist writes one decoded document: new observations for chartable
// facts, latest-value updates for scalar facts, and per-datapoint
// watermark advances. Raw counter values are stored as-is; conversion to
// deltas happens at read time.
func (s *Scheduler) persist(ctx context.Context, drain *cache.Drain, idxAgent int64, datapoints map[string]store.DatapointRow) error {
	observations := []store.Observation{}
	watermarks := make(map[int64]int64)
	inserted := make(map[[2]int64]bool)

	for _, fact := range drain.Chartable() {
		row, ok := datapoints[fact.DID]
		if !ok {
			continue
		}
		// Only samples newer than the datapoint watermark are written;
		// everything else is a replay and must not create a second row.
		if fact.Timestamp <= row.LastTimestamp {
			continue
		}
		key := [2]int64{row.Idx, fact.Timestamp}
		if inserted[key] {
			continue
		}
		inserted[key] = true

		observations = append(observations, store.Observation{
			IdxDatapoint: row.Idx,
			IdxAgent:     idxAgent,
			Timestamp:    fact.Timestamp,
			Value:        fact.Value,
		})
		if fact.Timestamp > watermarks[row.Idx] {
			watermarks[row.Idx] = fact.Timestamp
		}
	}

	if len(observations) > 0 {
		if err := s.gatewayCall(ctx, func(c context.Context) error {
			return s.gateway.ObservationInsertMany(c, observations)
		}); err != nil {
			return err
		}
	}

	for _, fact := range drain.Other() {
		row, ok := datapoints[fact.DID]
		if !ok {
			continue
		}
		if fact.Timestamp <= row.LastTimestamp {
			continue
		}
		value := fact.Value
		idx := row.Idx
		if err := s.gatewayCall(ctx, func(c context.Context) error {
			return s.gateway.DatapointSetUncharted(c, idx, value)
		}); err != nil {
			return err
		}
		if fact.Timestamp > watermarks[idx] {
			watermarks[idx] = fact.Timestamp
		}
	}

	for idx, timestamp := range watermarks {
		idx, timestamp := idx, timestamp
		if err := s.gatewayCall(ctx, func(c context.Context) error {
			return s.gateway.DatapointWatermarkAdvance(c, idx, timestamp)
		}); err != nil {
			return err
		}
	}

	return nil
}

// quarantine relocates an invalid file for operator inspection instead
// of deleting evidence.
func (s *Scheduler) quarantine(path string) {
	if err := os.MkdirAll(s.opts.FailureDir, 0o755); err != nil {
		log.Printf("[ERROR] Cannot create quarantine directory %s: %v", s.opts.FailureDir, err)
		return
	}
	dest := filepath.Join(s.opts.FailureDir, filepath.Base(path))
	if err := copyFile(path, dest); err != nil {
		log.Printf("[ERROR] Cannot quarantine %s: %v", path, err)
		return
	}
	os.Remove(path)
}

// gatewayCall runs one persistence operation under a bounded timeout.
// A hung storage call must not pin a worker forever; expiry is treated
// as an ordinary retryable persistence failure.
func (s *Scheduler) gatewayCall(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.DBTimeout)
	defer cancel()
	return fn(callCtx)
}

type reconcileResult struct {
	idxAgent   int64
	idxHost    int64
	datapoints map[string]store.DatapointRow
}

func (s *Scheduler) withTimeout(ctx context.Context, fn func(context.Context) (reconcileResult, error)) (int64, int64, map[string]store.DatapointRow, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.DBTimeout)
	defer cancel()
	result, err := fn(callCtx)
	return result.idxAgent, result.idxHost, result.datapoints, err
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
