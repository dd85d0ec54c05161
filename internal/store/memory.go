package store

import (
	"context"
	"sync"
)

// Memory is a mutex-guarded in-memory Gateway. It backs the pipeline
// tests and mirrors the Postgres implementation's semantics: first write
// wins on identity rows, observations keyed by (datapoint, timestamp),
// monotonic watermarks.
type Memory struct {
	mu sync.Mutex

	nextAgentIdx     int64
	nextHostIdx      int64
	nextDatapointIdx int64

	agents       map[string]*AgentRow        // uid -> row
	hosts        map[string]*HostRow         // hostname -> row
	hostAgents   map[[2]int64]int64          // (idx_host, idx_agent) -> last_timestamp
	datapoints   map[string]*DatapointRow    // did -> row
	observations map[[2]int64]Observation    // (idx_datapoint, timestamp) -> row
}

func NewMemory() *Memory {
	return &Memory{
		agents:       make(map[string]*AgentRow),
		hosts:        make(map[string]*HostRow),
		hostAgents:   make(map[[2]int64]int64),
		datapoints:   make(map[string]*DatapointRow),
		observations: make(map[[2]int64]Observation),
	}
}

func (m *Memory) AgentGetOrCreate(_ context.Context, uid, name, hostname string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.agents[uid]; ok {
		return row.Idx, nil
	}
	m.nextAgentIdx++
	m.agents[uid] = &AgentRow{
		Idx:      m.nextAgentIdx,
		UID:      uid,
		Name:     name,
		Hostname: hostname,
		Enabled:  true,
	}
	return m.nextAgentIdx, nil
}

func (m *Memory) AgentLookup(_ context.Context, uid string) (*AgentRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.agents[uid]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *Memory) AgentUpdateHostname(_ context.Context, idxAgent int64, hostname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.agents {
		if row.Idx == idxAgent {
			row.Hostname = hostname
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) HostGetOrCreate(_ context.Context, hostname string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.hosts[hostname]; ok {
		return row.Idx, nil
	}
	m.nextHostIdx++
	m.hosts[hostname] = &HostRow{Idx: m.nextHostIdx, Hostname: hostname, Enabled: true}
	return m.nextHostIdx, nil
}

func (m *Memory) HostLookup(_ context.Context, hostname string) (*HostRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.hosts[hostname]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *Memory) HostAgentEnsure(_ context.Context, idxHost, idxAgent int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{idxHost, idxAgent}
	if _, ok := m.hostAgents[key]; !ok {
		m.hostAgents[key] = 0
	}
	return nil
}

func (m *Memory) DatapointGetOrCreate(_ context.Context, row DatapointRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.datapoints[row.DID]; ok {
		return existing.Idx, nil
	}
	m.nextDatapointIdx++
	row.Idx = m.nextDatapointIdx
	row.Enabled = true
	m.datapoints[row.DID] = &row
	return row.Idx, nil
}

func (m *Memory) DatapointGet(_ context.Context, idxDatapoint int64) (*DatapointRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.datapoints {
		if row.Idx == idxDatapoint {
			copied := *row
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DatapointsByAgent(_ context.Context, idxAgent int64) (map[string]DatapointRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mapping := make(map[string]DatapointRow)
	for did, row := range m.datapoints {
		if row.IdxAgent == idxAgent && row.Enabled {
			mapping[did] = *row
		}
	}
	return mapping, nil
}

func (m *Memory) DatapointSetUncharted(_ context.Context, idxDatapoint int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.datapoints {
		if row.Idx == idxDatapoint {
			row.UnchartedValue = value
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ObservationInsertMany(_ context.Context, observations []Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, obs := range observations {
		key := [2]int64{obs.IdxDatapoint, obs.Timestamp}
		if _, ok := m.observations[key]; ok {
			continue // replay of a committed sample is a no-op
		}
		m.observations[key] = obs
	}
	return nil
}

func (m *Memory) ObservationsRange(_ context.Context, idxDatapoint, start, stop int64) ([]Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	observations := []Observation{}
	for key, obs := range m.observations {
		if key[0] == idxDatapoint && obs.Timestamp >= start && obs.Timestamp <= stop {
			observations = append(observations, obs)
		}
	}
	// Callers expect ascending timestamps, same as the SQL ORDER BY.
	for i := 1; i < len(observations); i++ {
		for j := i; j > 0 && observations[j-1].Timestamp > observations[j].Timestamp; j-- {
			observations[j-1], observations[j] = observations[j], observations[j-1]
		}
	}
	return observations, nil
}

func (m *Memory) DatapointWatermarkAdvance(_ context.Context, idxDatapoint, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.datapoints {
		if row.Idx == idxDatapoint {
			if timestamp > row.LastTimestamp {
				row.LastTimestamp = timestamp
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) AgentWatermarkAdvance(_ context.Context, idxAgent, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.agents {
		if row.Idx == idxAgent {
			if timestamp > row.LastTimestamp {
				row.LastTimestamp = timestamp
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) HostAgentWatermark(_ context.Context, idxHost, idxAgent int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.hostAgents[[2]int64{idxHost, idxAgent}]
	if !ok {
		return 0, ErrNotFound
	}
	return last, nil
}

func (m *Memory) HostAgentWatermarkAdvance(_ context.Context, idxHost, idxAgent, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{idxHost, idxAgent}
	if last, ok := m.hostAgents[key]; !ok || timestamp > last {
		m.hostAgents[key] = timestamp
	}
	return nil
}

// ObservationCount reports the number of stored observations, for tests.
func (m *Memory) ObservationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observations)
}
