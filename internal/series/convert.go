// Package series converts stored raw observations into chartable
// values. Counters are stored raw at ingest time and converted here, so
// the rollover and outage heuristics can change without reprocessing
// history.
package series

import (
	"context"
	"fmt"
	"math"

	"github.com/infoset/collector/internal/models"
	"github.com/infoset/collector/internal/store"
)

// Convert turns raw samples for one datapoint into gauge-equivalent
// values over [start, stop], keyed by timestamp. Every step-aligned
// timestamp in the window is present, zero-filled, so collection gaps
// chart as zero instead of disappearing.
//
// Counter handling assumes at most one wraparound between consecutive
// samples; that holds as long as the polling interval is far shorter
// than the counter's wrap period.
func Convert(baseType int, step, start, stop int64, samples []store.Observation) map[int64]float64 {
	values := make(map[int64]float64)

	// Gauges chart the window's first timestamp too; counters cannot,
	// since the first sample has nothing to subtract against.
	first := start
	if baseType != models.BaseTypeFloating {
		first = start + step
	}
	for ts := first; ts <= stop; ts += step {
		values[ts] = 0
	}

	if baseType == models.BaseTypeFloating || baseType == models.BaseTypeOther {
		for _, obs := range samples {
			if obs.Timestamp >= start && obs.Timestamp <= stop {
				values[obs.Timestamp] = obs.Value
			}
		}
		return values
	}

	var previous store.Observation
	seen := false
	for _, obs := range samples {
		if !seen {
			previous = obs
			seen = true
			continue
		}

		// A gap wider than one step means an outage; a delta across it
		// would chart as a huge bogus spike. Reset instead.
		if obs.Timestamp-previous.Timestamp > step {
			previous = obs
			continue
		}

		delta := obs.Value - previous.Value
		if delta >= 0 {
			values[obs.Timestamp] = delta
		} else {
			// Negative delta: the counter wrapped.
			if baseType == models.BaseTypeCounter32 {
				values[obs.Timestamp] = math.Pow(2, 32) + math.Abs(delta) - 1
			} else {
				values[obs.Timestamp] = math.Pow(2, 64) + math.Abs(delta) - 1
			}
		}
		previous = obs
	}

	return values
}

// Reader serves converted series straight from the persistence gateway.
type Reader struct {
	gateway store.Gateway
	step    int64
}

func NewReader(gateway store.Gateway, step int64) *Reader {
	return &Reader{gateway: gateway, step: step}
}

// Range returns the converted values for one datapoint over
// [start, stop], normalized to the step grid.
func (r *Reader) Range(ctx context.Context, idxDatapoint, start, stop int64) (map[int64]float64, error) {
	start = normalize(start, r.step)
	stop = normalize(stop, r.step)
	if start > stop {
		start = stop
	}

	datapoint, err := r.gateway.DatapointGet(ctx, idxDatapoint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve datapoint %d: %w", idxDatapoint, err)
	}

	samples, err := r.gateway.ObservationsRange(ctx, idxDatapoint, start, stop)
	if err != nil {
		return nil, fmt.Errorf("failed to read observations for datapoint %d: %w", idxDatapoint, err)
	}

	return Convert(datapoint.BaseType, r.step, start, stop, samples), nil
}

func normalize(timestamp, step int64) int64 {
	if step <= 0 {
		return timestamp
	}
	return (timestamp / step) * step
}
