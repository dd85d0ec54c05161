package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups when no row exists.
var ErrNotFound = errors.New("not found")

// AgentRow is one collector instance, keyed externally by its opaque UID.
type AgentRow struct {
	Idx           int64
	UID           string
	Name          string
	Hostname      string
	Enabled       bool
	LastTimestamp int64
}

// HostRow is one monitored host.
type HostRow struct {
	Idx      int64
	Hostname string
	Enabled  bool
}

// DatapointRow is the metadata for one time series, keyed by DID.
// Label, source and base type are fixed at creation; only enabled,
// uncharted_value and last_timestamp change afterwards.
type DatapointRow struct {
	Idx            int64
	DID            string
	IdxAgent       int64
	AgentLabel     string
	AgentSource    string
	Description    string
	BaseType       int
	Enabled        bool
	UnchartedValue string
	LastTimestamp  int64
}

// Observation is one raw chartable sample. Counters are stored raw;
// conversion to deltas happens at read time.
type Observation struct {
	IdxDatapoint int64
	IdxAgent     int64
	Timestamp    int64
	Value        float64
}

// Gateway is the narrow persistence contract the ingest pipeline needs.
// Identity rows are upsert-if-absent then stable, observations are
// append-only, and watermarks never move backward.
type Gateway interface {
	// Identity
	AgentGetOrCreate(ctx context.Context, uid, name, hostname string) (int64, error)
	AgentLookup(ctx context.Context, uid string) (*AgentRow, error)
	AgentUpdateHostname(ctx context.Context, idxAgent int64, hostname string) error
	HostGetOrCreate(ctx context.Context, hostname string) (int64, error)
	HostLookup(ctx context.Context, hostname string) (*HostRow, error)
	HostAgentEnsure(ctx context.Context, idxHost, idxAgent int64) error

	// Datapoints
	DatapointGetOrCreate(ctx context.Context, row DatapointRow) (int64, error)
	DatapointGet(ctx context.Context, idxDatapoint int64) (*DatapointRow, error)
	DatapointsByAgent(ctx context.Context, idxAgent int64) (map[string]DatapointRow, error)
	DatapointSetUncharted(ctx context.Context, idxDatapoint int64, value string) error

	// Observations
	ObservationInsertMany(ctx context.Context, observations []Observation) error
	ObservationsRange(ctx context.Context, idxDatapoint, start, stop int64) ([]Observation, error)

	// Watermarks (monotonically non-decreasing; stale advances are no-ops)
	DatapointWatermarkAdvance(ctx context.Context, idxDatapoint, timestamp int64) error
	AgentWatermarkAdvance(ctx context.Context, idxAgent, timestamp int64) error
	HostAgentWatermark(ctx context.Context, idxHost, idxAgent int64) (int64, error)
	HostAgentWatermarkAdvance(ctx context.Context, idxHost, idxAgent, timestamp int64) error
}
