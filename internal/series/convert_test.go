package series

import (
	"context"
	"testing"

	"github.com/infoset/collector/internal/models"
	"github.com/infoset/collector/internal/store"
)

func obs(timestamp int64, value float64) store.Observation {
	return store.Observation{Timestamp: timestamp, Value: value}
}

func TestConvertGaugePassthrough(t *testing.T) {
	samples := []store.Observation{obs(300, 0.25), obs(600, 0.5), obs(900, 0.75)}

	values := Convert(models.BaseTypeFloating, 300, 300, 1200, samples)

	if len(values) != 4 {
		t.Fatalf("Expected 4 grid slots (300..1200), got %d", len(values))
	}
	if values[300] != 0.25 || values[600] != 0.5 || values[900] != 0.75 {
		t.Errorf("Expected gauge values to pass through unchanged, got %v", values)
	}
	if values[1200] != 0 {
		t.Errorf("Expected missing slot 1200 to be zero-filled, got %v", values[1200])
	}
}

func TestConvertCounterDeltas(t *testing.T) {
	samples := []store.Observation{obs(300, 1000), obs(600, 1500), obs(900, 1500), obs(1200, 1800)}

	values := Convert(models.BaseTypeCounter32, 300, 300, 1200, samples)

	// The first sample has no predecessor; its slot is not on the grid.
	if _, ok := values[300]; ok {
		t.Error("Expected no slot for the window start of a counter series")
	}
	if values[600] != 500 {
		t.Errorf("Expected delta 500 at 600, got %v", values[600])
	}
	if values[900] != 0 {
		t.Errorf("Expected flat counter to yield 0 at 900, got %v", values[900])
	}
	if values[1200] != 300 {
		t.Errorf("Expected delta 300 at 1200, got %v", values[1200])
	}
}

func TestConvertCounter32Rollover(t *testing.T) {
	samples := []store.Observation{obs(300, 100), obs(600, 4294967290), obs(900, 50)}

	values := Convert(models.BaseTypeCounter32, 300, 300, 900, samples)

	if values[600] != 4294967190 {
		t.Errorf("Expected delta 4294967190 at 600, got %v", values[600])
	}
	// 2^32 + |50 - 4294967290| - 1
	if values[900] != 8589934535 {
		t.Errorf("Expected rollover value 8589934535 at 900, got %v", values[900])
	}
}

func TestConvertCounter64Rollover(t *testing.T) {
	samples := []store.Observation{obs(300, 1000), obs(600, 400)}

	values := Convert(models.BaseTypeCounter64, 300, 300, 600, samples)

	want := 18446744073709551616.0 + 600 - 1 // 2^64 + |delta| - 1
	if values[600] != want {
		t.Errorf("Expected rollover value %v at 600, got %v", want, values[600])
	}
}

func TestConvertGapSuppressesDelta(t *testing.T) {
	// A 900s hole between samples with a 300s step is an outage; no
	// delta may be charted across it.
	samples := []store.Observation{obs(300, 100), obs(1200, 700), obs(1500, 900)}

	values := Convert(models.BaseTypeCounter32, 300, 300, 1500, samples)

	if values[1200] != 0 {
		t.Errorf("Expected zero across the outage at 1200, got %v", values[1200])
	}
	if values[1500] != 200 {
		t.Errorf("Expected counting to resume with delta 200 at 1500, got %v", values[1500])
	}
}

func TestConvertZeroFillsEmptyWindow(t *testing.T) {
	values := Convert(models.BaseTypeCounter64, 300, 300, 1500, nil)

	if len(values) != 4 {
		t.Fatalf("Expected 4 zero-filled slots, got %d", len(values))
	}
	for ts, value := range values {
		if value != 0 {
			t.Errorf("Expected zero at %d, got %v", ts, value)
		}
	}
}

func TestReaderRange(t *testing.T) {
	gateway := store.NewMemory()
	ctx := context.Background()

	idxAgent, _ := gateway.AgentGetOrCreate(ctx, "abc123", "snmp", "switch1.example.com")
	idx, err := gateway.DatapointGetOrCreate(ctx, store.DatapointRow{
		DID:      "feedface",
		IdxAgent: idxAgent,
		BaseType: models.BaseTypeFloating,
	})
	if err != nil {
		t.Fatalf("Failed to create datapoint: %v", err)
	}
	err = gateway.ObservationInsertMany(ctx, []store.Observation{
		{IdxDatapoint: idx, Timestamp: 600, Value: 1.5},
		{IdxDatapoint: idx, Timestamp: 900, Value: 2.5},
	})
	if err != nil {
		t.Fatalf("Failed to insert observations: %v", err)
	}

	reader := NewReader(gateway, 300)

	// Ragged bounds are normalized onto the step grid.
	values, err := reader.Range(ctx, idx, 420, 1010)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if values[600] != 1.5 || values[900] != 2.5 {
		t.Errorf("Expected stored values at 600 and 900, got %v", values)
	}
	if _, ok := values[300]; !ok {
		t.Error("Expected start 420 to normalize down to slot 300")
	}
}

func TestReaderRangeUnknownDatapoint(t *testing.T) {
	reader := NewReader(store.NewMemory(), 300)

	if _, err := reader.Range(context.Background(), 42, 0, 900); err == nil {
		t.Error("Expected an error for an unknown datapoint")
	}
}
