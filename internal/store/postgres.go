package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Postgres implements Gateway on a shared *sql.DB. The pool is safe for
// concurrent use; each call acquires its own connection, and nothing here
// holds a transaction across calls.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) AgentGetOrCreate(ctx context.Context, uid, name, hostname string) (int64, error) {
	// ON CONFLICT DO NOTHING keeps the first writer's name/hostname when
	// two workers race on the same uid.
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO infoset.agents (uid, name, hostname)
		VALUES ($1, $2, $3)
		ON CONFLICT (uid) DO NOTHING
	`, uid, name, hostname)
	if err != nil {
		return 0, fmt.Errorf("failed to insert agent %s: %w", uid, err)
	}

	var idx int64
	err = p.db.QueryRowContext(ctx,
		`SELECT idx FROM infoset.agents WHERE uid = $1`, uid,
	).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve agent %s: %w", uid, err)
	}
	return idx, nil
}

func (p *Postgres) AgentLookup(ctx context.Context, uid string) (*AgentRow, error) {
	var row AgentRow
	err := p.db.QueryRowContext(ctx, `
		SELECT idx, uid, name, hostname, enabled, last_timestamp
		FROM infoset.agents
		WHERE uid = $1
	`, uid).Scan(&row.Idx, &row.UID, &row.Name, &row.Hostname, &row.Enabled, &row.LastTimestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up agent %s: %w", uid, err)
	}
	return &row, nil
}

func (p *Postgres) AgentUpdateHostname(ctx context.Context, idxAgent int64, hostname string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE infoset.agents
		SET hostname = $2, updated_at = NOW()
		WHERE idx = $1
	`, idxAgent, hostname)
	if err != nil {
		return fmt.Errorf("failed to update agent %d hostname: %w", idxAgent, err)
	}
	return nil
}

func (p *Postgres) HostGetOrCreate(ctx context.Context, hostname string) (int64, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO infoset.hosts (hostname)
		VALUES ($1)
		ON CONFLICT (hostname) DO NOTHING
	`, hostname)
	if err != nil {
		return 0, fmt.Errorf("failed to insert host %s: %w", hostname, err)
	}

	var idx int64
	err = p.db.QueryRowContext(ctx,
		`SELECT idx FROM infoset.hosts WHERE hostname = $1`, hostname,
	).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve host %s: %w", hostname, err)
	}
	return idx, nil
}

func (p *Postgres) HostLookup(ctx context.Context, hostname string) (*HostRow, error) {
	var row HostRow
	err := p.db.QueryRowContext(ctx, `
		SELECT idx, hostname, enabled FROM infoset.hosts WHERE hostname = $1
	`, hostname).Scan(&row.Idx, &row.Hostname, &row.Enabled)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up host %s: %w", hostname, err)
	}
	return &row, nil
}

func (p *Postgres) HostAgentEnsure(ctx context.Context, idxHost, idxAgent int64) error {
	// Two workers seeing the same hostname for the first time is a benign
	// race; the conflict clause turns the loser into a no-op.
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO infoset.host_agents (idx_host, idx_agent)
		VALUES ($1, $2)
		ON CONFLICT (idx_host, idx_agent) DO NOTHING
	`, idxHost, idxAgent)
	if err != nil {
		return fmt.Errorf("failed to ensure host/agent (%d, %d): %w", idxHost, idxAgent, err)
	}
	return nil
}

func (p *Postgres) DatapointGetOrCreate(ctx context.Context, row DatapointRow) (int64, error) {
	// First write wins: conflicting later metadata never reaches the row.
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO infoset.datapoints
			(id, idx_agent, agent_label, agent_source, description, base_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, row.DID, row.IdxAgent, row.AgentLabel, row.AgentSource, row.Description, row.BaseType)
	if err != nil {
		return 0, fmt.Errorf("failed to insert datapoint %s: %w", row.DID, err)
	}

	var idx int64
	err = p.db.QueryRowContext(ctx,
		`SELECT idx FROM infoset.datapoints WHERE id = $1`, row.DID,
	).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve datapoint %s: %w", row.DID, err)
	}
	return idx, nil
}

func (p *Postgres) DatapointGet(ctx context.Context, idxDatapoint int64) (*DatapointRow, error) {
	var row DatapointRow
	err := p.db.QueryRowContext(ctx, `
		SELECT idx, id, idx_agent, agent_label, agent_source, description,
		       base_type, enabled, uncharted_value, last_timestamp
		FROM infoset.datapoints
		WHERE idx = $1
	`, idxDatapoint).Scan(
		&row.Idx, &row.DID, &row.IdxAgent, &row.AgentLabel, &row.AgentSource,
		&row.Description, &row.BaseType, &row.Enabled, &row.UnchartedValue,
		&row.LastTimestamp,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up datapoint %d: %w", idxDatapoint, err)
	}
	return &row, nil
}

func (p *Postgres) DatapointsByAgent(ctx context.Context, idxAgent int64) (map[string]DatapointRow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT idx, id, idx_agent, agent_label, agent_source, description,
		       base_type, enabled, uncharted_value, last_timestamp
		FROM infoset.datapoints
		WHERE idx_agent = $1 AND enabled = TRUE
	`, idxAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to query datapoints for agent %d: %w", idxAgent, err)
	}
	defer rows.Close()

	mapping := make(map[string]DatapointRow)
	for rows.Next() {
		var row DatapointRow
		if err := rows.Scan(
			&row.Idx, &row.DID, &row.IdxAgent, &row.AgentLabel, &row.AgentSource,
			&row.Description, &row.BaseType, &row.Enabled, &row.UnchartedValue,
			&row.LastTimestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan datapoint row: %w", err)
		}
		mapping[row.DID] = row
	}
	return mapping, rows.Err()
}

func (p *Postgres) DatapointSetUncharted(ctx context.Context, idxDatapoint int64, value string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE infoset.datapoints SET uncharted_value = $2 WHERE idx = $1
	`, idxDatapoint, value)
	if err != nil {
		return fmt.Errorf("failed to update uncharted value for datapoint %d: %w", idxDatapoint, err)
	}
	return nil
}

func (p *Postgres) ObservationInsertMany(ctx context.Context, observations []Observation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	// Build bulk INSERT query with multiple VALUES. The conflict clause
	// makes replays of already-committed samples a no-op instead of an
	// error, which is what at-least-once delivery needs.
	query := `
		INSERT INTO infoset.observations (idx_datapoint, idx_agent, timestamp, value)
		VALUES
	`
	values := []string{}
	args := []any{}
	for i, obs := range observations {
		offset := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)",
			offset+1, offset+2, offset+3, offset+4))
		args = append(args, obs.IdxDatapoint, obs.IdxAgent, obs.Timestamp, obs.Value)
	}
	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (idx_datapoint, timestamp) DO NOTHING`

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to batch insert %d observations: %w", len(observations), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit observations: %w", err)
	}
	return nil
}

func (p *Postgres) ObservationsRange(ctx context.Context, idxDatapoint, start, stop int64) ([]Observation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT idx_datapoint, idx_agent, timestamp, value
		FROM infoset.observations
		WHERE idx_datapoint = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC
	`, idxDatapoint, start, stop)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations for datapoint %d: %w", idxDatapoint, err)
	}
	defer rows.Close()

	observations := []Observation{}
	for rows.Next() {
		var obs Observation
		if err := rows.Scan(&obs.IdxDatapoint, &obs.IdxAgent, &obs.Timestamp, &obs.Value); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func (p *Postgres) DatapointWatermarkAdvance(ctx context.Context, idxDatapoint, timestamp int64) error {
	// GREATEST keeps the watermark monotonic; a stale advance is a no-op.
	_, err := p.db.ExecContext(ctx, `
		UPDATE infoset.datapoints
		SET last_timestamp = GREATEST(last_timestamp, $2)
		WHERE idx = $1
	`, idxDatapoint, timestamp)
	if err != nil {
		return fmt.Errorf("failed to advance datapoint %d watermark: %w", idxDatapoint, err)
	}
	return nil
}

func (p *Postgres) AgentWatermarkAdvance(ctx context.Context, idxAgent, timestamp int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE infoset.agents
		SET last_timestamp = GREATEST(last_timestamp, $2), updated_at = NOW()
		WHERE idx = $1
	`, idxAgent, timestamp)
	if err != nil {
		return fmt.Errorf("failed to advance agent %d watermark: %w", idxAgent, err)
	}
	return nil
}

func (p *Postgres) HostAgentWatermark(ctx context.Context, idxHost, idxAgent int64) (int64, error) {
	var last int64
	err := p.db.QueryRowContext(ctx, `
		SELECT last_timestamp FROM infoset.host_agents
		WHERE idx_host = $1 AND idx_agent = $2
	`, idxHost, idxAgent).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read host/agent (%d, %d) watermark: %w", idxHost, idxAgent, err)
	}
	return last, nil
}

func (p *Postgres) HostAgentWatermarkAdvance(ctx context.Context, idxHost, idxAgent, timestamp int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE infoset.host_agents
		SET last_timestamp = GREATEST(last_timestamp, $3)
		WHERE idx_host = $1 AND idx_agent = $2
	`, idxHost, idxAgent, timestamp)
	if err != nil {
		return fmt.Errorf("failed to advance host/agent (%d, %d) watermark: %w", idxHost, idxAgent, err)
	}
	return nil
}
