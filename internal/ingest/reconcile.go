package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/infoset/collector/internal/cache"
	"github.com/infoset/collector/internal/store"
)

// Reconciler ensures the identity rows a decoded document refers to
// exist: agent, host, host/agent association and one datapoint per DID.
// Every step is idempotent, so replaying a document is safe.
type Reconciler struct {
	gateway store.Gateway
}

func NewReconciler(gateway store.Gateway) *Reconciler {
	return &Reconciler{gateway: gateway}
}

// Reconcile resolves identity for one decoded document and returns the
// agent and host indexes plus the agent's datapoint map (did -> row,
// including watermarks) for the persist step.
//
// Concurrent calls for the same UID never happen (the scheduler
// serializes per UID), but different UIDs run concurrently and may race
// on shared host rows; the gateway resolves those races as no-ops.
func (r *Reconciler) Reconcile(ctx context.Context, drain *cache.Drain) (int64, int64, map[string]store.DatapointRow, error) {
	idxAgent, err := r.gateway.AgentGetOrCreate(ctx, drain.UID(), drain.Agent(), drain.Hostname())
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to reconcile agent %s: %w", drain.UID(), err)
	}

	idxHost, err := r.gateway.HostGetOrCreate(ctx, drain.Hostname())
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to reconcile host %s: %w", drain.Hostname(), err)
	}

	if err := r.gateway.HostAgentEnsure(ctx, idxHost, idxAgent); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to reconcile host/agent association: %w", err)
	}

	existing, err := r.gateway.DatapointsByAgent(ctx, idxAgent)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to load datapoints for agent %s: %w", drain.UID(), err)
	}

	created := false
	seen := make(map[string]bool)
	for _, source := range drain.Sources() {
		if seen[source.DID] {
			continue
		}
		seen[source.DID] = true

		if row, ok := existing[source.DID]; ok {
			// First write wins: the row's recorded metadata stays even if
			// the agent now reports something different. Log the drift so
			// an operator can see a renamed label rather than wonder why
			// the chart legend never changed.
			if row.AgentLabel != source.Label || row.AgentSource != source.Source ||
				row.BaseType != source.BaseType {
				log.Printf("[WARN] Datapoint %s metadata drift ignored: stored (%s, %s, %d), reported (%s, %s, %d)",
					source.DID, row.AgentLabel, row.AgentSource, row.BaseType,
					source.Label, source.Source, source.BaseType)
			}
			continue
		}

		if _, err := r.gateway.DatapointGetOrCreate(ctx, store.DatapointRow{
			DID:         source.DID,
			IdxAgent:    idxAgent,
			AgentLabel:  source.Label,
			AgentSource: source.Source,
			Description: source.Description,
			BaseType:    source.BaseType,
		}); err != nil {
			return 0, 0, nil, fmt.Errorf("failed to create datapoint %s: %w", source.DID, err)
		}
		created = true
	}

	if created {
		existing, err = r.gateway.DatapointsByAgent(ctx, idxAgent)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("failed to reload datapoints for agent %s: %w", drain.UID(), err)
		}
	}

	return idxAgent, idxHost, existing, nil
}
