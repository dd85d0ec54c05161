package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/infoset/collector/internal/store"
)

const validBody = `{
	"timestamp": 1700000100,
	"uid": "abc123",
	"agent": "snmp",
	"hostname": "switch1.example.com",
	"chartable": {
		"ifInOctets": {
			"base_type": "counter32",
			"description": "Interface inbound traffic",
			"data": [[1, 8832991, "Gi0/1"]]
		}
	},
	"other": {
		"release": {
			"base_type": null,
			"description": null,
			"data": [[0, "5.4.0", null]]
		}
	}
}`

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	validator := NewValidator(nil, 300)

	doc, result := validator.Validate(context.Background(), []byte(validBody))
	if !result.OK {
		t.Fatalf("Expected valid document, got reasons: %v", result.Reasons)
	}
	if doc.UID != "abc123" {
		t.Errorf("Expected uid 'abc123', got '%s'", doc.UID)
	}
	if int64(doc.Timestamp) != 1700000100 {
		t.Errorf("Expected timestamp 1700000100, got %d", int64(doc.Timestamp))
	}
}

func TestValidateRejectsNonObject(t *testing.T) {
	validator := NewValidator(nil, 300)

	for _, body := range []string{`[1, 2, 3]`, `"hello"`, `not json`} {
		_, result := validator.Validate(context.Background(), []byte(body))
		if result.OK {
			t.Errorf("Expected rejection for body %q", body)
		}
	}
}

func TestValidateReportsAllMissingKeys(t *testing.T) {
	validator := NewValidator(nil, 300)

	_, result := validator.Validate(context.Background(),
		[]byte(`{"timestamp": 1700000100, "uid": "abc123"}`))
	if result.OK {
		t.Fatal("Expected rejection for document missing agent and hostname")
	}
	if len(result.Reasons) != 2 {
		t.Fatalf("Expected 2 reasons (agent, hostname), got %d: %v",
			len(result.Reasons), result.Reasons)
	}
}

func TestValidateAcceptsStringTimestamp(t *testing.T) {
	validator := NewValidator(nil, 300)
	body := strings.Replace(validBody, `"timestamp": 1700000100`, `"timestamp": "1700000100"`, 1)

	doc, result := validator.Validate(context.Background(), []byte(body))
	if !result.OK {
		t.Fatalf("Expected numeric string timestamp to be accepted, got: %v", result.Reasons)
	}
	if int64(doc.Timestamp) != 1700000100 {
		t.Errorf("Expected timestamp 1700000100, got %d", int64(doc.Timestamp))
	}
}

func TestValidateRejectsNonNumericTimestamp(t *testing.T) {
	validator := NewValidator(nil, 300)
	body := strings.Replace(validBody, `"timestamp": 1700000100`, `"timestamp": "soon"`, 1)

	_, result := validator.Validate(context.Background(), []byte(body))
	if result.OK {
		t.Fatal("Expected rejection for non numeric timestamp")
	}
}

func TestValidateRejectsShortTuple(t *testing.T) {
	validator := NewValidator(nil, 300)
	body := strings.Replace(validBody, `[[1, 8832991, "Gi0/1"]]`, `[[1, 8832991]]`, 1)

	_, result := validator.Validate(context.Background(), []byte(body))
	if result.OK {
		t.Fatal("Expected rejection for a 2-element datapoint")
	}
}

func TestValidateRejectsNonNumericChartable(t *testing.T) {
	validator := NewValidator(nil, 300)
	body := strings.Replace(validBody, `[[1, 8832991, "Gi0/1"]]`, `[[1, "down", "Gi0/1"]]`, 1)

	_, result := validator.Validate(context.Background(), []byte(body))
	if result.OK {
		t.Fatal("Expected rejection for non numeric chartable value")
	}
}

func TestValidateRejectsUnknownBaseType(t *testing.T) {
	validator := NewValidator(nil, 300)
	body := strings.Replace(validBody, `"base_type": "counter32"`, `"base_type": "percentile"`, 1)

	_, result := validator.Validate(context.Background(), []byte(body))
	if result.OK {
		t.Fatal("Expected rejection for unknown chartable base_type")
	}
}

func TestValidateAllowsNonNumericOther(t *testing.T) {
	// The "other" section carries strings; only its shape is checked.
	validator := NewValidator(nil, 300)

	_, result := validator.Validate(context.Background(), []byte(validBody))
	if !result.OK {
		t.Fatalf("Expected string values in other section to pass, got: %v", result.Reasons)
	}
}

func TestValidateDetectsDuplicate(t *testing.T) {
	gateway := store.NewMemory()
	ctx := context.Background()

	idxAgent, err := gateway.AgentGetOrCreate(ctx, "abc123", "snmp", "switch1.example.com")
	if err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}
	idxHost, err := gateway.HostGetOrCreate(ctx, "switch1.example.com")
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	if err := gateway.HostAgentEnsure(ctx, idxHost, idxAgent); err != nil {
		t.Fatalf("Failed to ensure host/agent row: %v", err)
	}
	if err := gateway.HostAgentWatermarkAdvance(ctx, idxHost, idxAgent, 1700000100); err != nil {
		t.Fatalf("Failed to advance watermark: %v", err)
	}

	validator := NewValidator(gateway, 300)

	// At the watermark: duplicate, not an error.
	_, result := validator.Validate(ctx, []byte(validBody))
	if result.OK {
		t.Fatal("Expected duplicate detection for timestamp at the watermark")
	}
	if !result.Duplicate {
		t.Errorf("Expected Duplicate flag, got reasons: %v", result.Reasons)
	}

	// One step past the watermark: accepted.
	body := strings.Replace(validBody, `"timestamp": 1700000100`, `"timestamp": 1700000400`, 1)
	_, result = validator.Validate(ctx, []byte(body))
	if !result.OK {
		t.Errorf("Expected document past the watermark to pass, got: %v", result.Reasons)
	}
}

func TestValidateFirstContactIsNotDuplicate(t *testing.T) {
	// No identity rows exist yet, so the duplicate check cannot fire.
	validator := NewValidator(store.NewMemory(), 300)

	_, result := validator.Validate(context.Background(), []byte(validBody))
	if !result.OK {
		t.Fatalf("Expected first contact to pass, got: %v", result.Reasons)
	}
}

func TestValidateFileRejectsMismatchedName(t *testing.T) {
	validator := NewValidator(nil, 300)
	dir := t.TempDir()

	cases := []struct {
		name   string
		reason string
	}{
		{"1700000100_ffffff_deadbeef.json", "uid mismatch"},
		{"1700000400_abc123_deadbeef.json", "timestamp mismatch"},
		{"observations.json", "bad pattern"},
	}
	for _, tc := range cases {
		path := filepath.Join(dir, tc.name)
		if err := os.WriteFile(path, []byte(validBody), 0o644); err != nil {
			t.Fatalf("Failed to write test file: %v", err)
		}
		if _, result := validator.ValidateFile(context.Background(), path); result.OK {
			t.Errorf("Expected rejection for %s (%s)", tc.name, tc.reason)
		}
	}
}

func TestValidateFileMismatchBeatsDuplicate(t *testing.T) {
	gateway := store.NewMemory()
	ctx := context.Background()

	idxAgent, _ := gateway.AgentGetOrCreate(ctx, "abc123", "snmp", "switch1.example.com")
	idxHost, _ := gateway.HostGetOrCreate(ctx, "switch1.example.com")
	if err := gateway.HostAgentEnsure(ctx, idxHost, idxAgent); err != nil {
		t.Fatalf("Failed to ensure host/agent row: %v", err)
	}
	if err := gateway.HostAgentWatermarkAdvance(ctx, idxHost, idxAgent, 1700000100); err != nil {
		t.Fatalf("Failed to advance watermark: %v", err)
	}

	validator := NewValidator(gateway, 300)
	dir := t.TempDir()

	// The embedded document sits at the watermark, but the filename does
	// not match it. A renamed file is evidence, not a duplicate; it must
	// be flagged invalid so the drainer quarantines instead of deleting.
	path := filepath.Join(dir, "1700000100_ffffff_deadbeef.json")
	if err := os.WriteFile(path, []byte(validBody), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, result := validator.ValidateFile(ctx, path)
	if result.OK {
		t.Fatal("Expected rejection for mismatched filename")
	}
	if result.Duplicate {
		t.Error("Expected the filename mismatch to be reported before the duplicate check")
	}
}

func TestValidateFileRejectsMisalignedTimestamp(t *testing.T) {
	validator := NewValidator(nil, 300)
	dir := t.TempDir()

	body := strings.Replace(validBody, `"timestamp": 1700000100`, `"timestamp": 1700000101`, 1)
	path := filepath.Join(dir, "1700000101_abc123_deadbeef.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, result := validator.ValidateFile(context.Background(), path); result.OK {
		t.Error("Expected rejection for a timestamp off the step grid")
	}
}

func TestValidateFileAcceptsCanonicalFile(t *testing.T) {
	validator := NewValidator(nil, 300)
	dir := t.TempDir()

	path := filepath.Join(dir, "1700000100_abc123_deadbeef.json")
	if err := os.WriteFile(path, []byte(validBody), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	doc, result := validator.ValidateFile(context.Background(), path)
	if !result.OK {
		t.Fatalf("Expected canonical file to pass, got: %v", result.Reasons)
	}
	if doc.Hostname != "switch1.example.com" {
		t.Errorf("Expected hostname 'switch1.example.com', got '%s'", doc.Hostname)
	}
}

func TestValidateNeverPanicsOnGarbage(t *testing.T) {
	validator := NewValidator(nil, 300)

	bodies := []string{
		`{"timestamp": {}, "uid": "abc123", "agent": "a", "hostname": "h"}`,
		`{"timestamp": 1, "uid": "abc123", "agent": "a", "hostname": "h", "chartable": 7}`,
		`{"timestamp": 1, "uid": "abc123", "agent": "a", "hostname": "h", "chartable": {"x": {"base_type": 1, "description": null, "data": "nope"}}}`,
	}
	for _, body := range bodies {
		if !json.Valid([]byte(body)) {
			t.Fatalf("Test body is not valid JSON: %s", body)
		}
		if _, result := validator.Validate(context.Background(), []byte(body)); result.OK {
			t.Errorf("Expected rejection for body %s", body)
		}
	}
}
