package validation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/infoset/collector/internal/valkey"
)

// Deduper suppresses repeated deliveries of the same (uid, timestamp)
// upload at the receiver, before a second cache file is ever written.
// Agents retry POSTs on timeouts, so duplicates are routine, not errors.
//
// Degradation strategy: a Valkey failure never rejects an upload. The
// scheduler's watermark checks catch whatever slips through, so this
// cache is an optimization, not a correctness boundary.
type Deduper struct {
	valkey *valkey.Client
	ttl    time.Duration
}

func NewDeduper(valkeyClient *valkey.Client, ttl time.Duration) *Deduper {
	return &Deduper{valkey: valkeyClient, ttl: ttl}
}

// Seen records the (uid, timestamp) pair and reports whether it was
// already recorded within the TTL window.
func (d *Deduper) Seen(ctx context.Context, uid string, timestamp int64) bool {
	if d == nil || d.valkey == nil {
		return false
	}

	key := fmt.Sprintf("ingest:seen:%s:%d", uid, timestamp)
	created, err := d.valkey.SetNX(ctx, key, "1", d.ttl)
	if err != nil {
		log.Printf("[WARN] Dedupe cache unavailable, accepting upload: %v", err)
		return false
	}
	return !created
}
