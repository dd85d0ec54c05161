package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/infoset/collector/internal/models"
	"github.com/infoset/collector/internal/store"
)

// Cache filenames are <timestamp>_<uid-hex>_<hosthash-hex>.json.
var filenameRegex = regexp.MustCompile(`^\d+_[0-9a-f]+_[0-9a-f]+\.json$`)

// Result is the outcome of validating one ingest document. Duplicate
// marks documents whose timestamp is already covered by the host/agent
// watermark; callers discard those without quarantining.
type Result struct {
	OK        bool
	Duplicate bool
	Reasons   []string
}

func (r Result) Error() string {
	return strings.Join(r.Reasons, "; ")
}

// Validator checks untrusted agent documents before anything touches
// storage. All checks are read-only; a validator never mutates state and
// never panics on malformed input.
type Validator struct {
	gateway store.Gateway
	step    int64
}

func NewValidator(gateway store.Gateway, step int64) *Validator {
	return &Validator{gateway: gateway, step: step}
}

// ValidateFile validates a cache file: the document checks plus the
// filename checks that defend against a renamed or corrupted file
// silently writing under another agent's identity.
func (v *Validator) ValidateFile(ctx context.Context, path string) (*models.Document, Result) {
	filename := filepath.Base(path)
	if !filenameRegex.MatchString(filename) {
		return nil, fail("filename %s does not match cache file pattern", filename)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fail("cannot read cache file %s: %v", path, err)
	}

	doc, result := v.validate(data)
	if !result.OK {
		return nil, result
	}

	// Cross-check filename against document contents. This runs before the
	// duplicate check so a renamed or corrupted file is quarantined as
	// invalid rather than silently discarded as a duplicate.
	name := strings.TrimSuffix(filename, ".json")
	parts := strings.SplitN(name, "_", 3)
	fileTimestamp, _ := strconv.ParseInt(parts[0], 10, 64)
	fileUID := parts[1]

	reasons := []string{}
	if fileUID != doc.UID {
		reasons = append(reasons, fmt.Sprintf(
			"uid %s in document does not match uid %s in filename", doc.UID, fileUID))
	}
	if fileTimestamp != int64(doc.Timestamp) {
		reasons = append(reasons, fmt.Sprintf(
			"timestamp %d in document does not match timestamp %d in filename",
			int64(doc.Timestamp), fileTimestamp))
	}
	if v.step > 0 && fileTimestamp%v.step != 0 {
		reasons = append(reasons, fmt.Sprintf(
			"timestamp %d is not aligned to the %ds step", fileTimestamp, v.step))
	}
	if len(reasons) > 0 {
		return nil, Result{Reasons: reasons}
	}

	if dup := v.checkDuplicate(ctx, doc); dup != "" {
		return nil, Result{Duplicate: true, Reasons: []string{dup}}
	}

	return doc, result
}

// Validate validates an in-memory document. Checks run in categories;
// a failed category short-circuits the later ones, but every check of a
// category runs so one pass yields a complete diagnostic.
func (v *Validator) Validate(ctx context.Context, data []byte) (*models.Document, Result) {
	doc, result := v.validate(data)
	if !result.OK {
		return nil, result
	}

	// Duplicate-submission check against the host/agent watermark. Only
	// possible when identity rows already exist.
	if dup := v.checkDuplicate(ctx, doc); dup != "" {
		return nil, Result{Duplicate: true, Reasons: []string{dup}}
	}

	return doc, result
}

// validate runs the structural checks and builds the typed document,
// leaving the duplicate check to the caller so file-mode validation can
// order it after the filename cross-checks.
func (v *Validator) validate(data []byte) (*models.Document, Result) {
	// Category 1: the document must be a JSON object.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fail("document is not a JSON object: %v", err)
	}

	// Category 2: required top-level keys.
	reasons := []string{}
	for _, key := range []string{"timestamp", "uid", "agent", "hostname"} {
		if _, ok := raw[key]; !ok {
			reasons = append(reasons, fmt.Sprintf("document has no %q key", key))
		}
	}
	if len(reasons) > 0 {
		return nil, Result{Reasons: reasons}
	}

	// Category 3: timestamp must be an integer.
	timestamp, err := parseTimestamp(raw["timestamp"])
	if err != nil {
		return nil, fail("document timestamp is not an integer: %v", err)
	}

	// Categories 5 and 6: reported data shape and chartable values.
	for _, section := range []string{"chartable", "other"} {
		sectionRaw, ok := raw[section]
		if !ok {
			continue
		}
		reasons = append(reasons, checkSection(section, sectionRaw)...)
	}
	if chartableRaw, ok := raw["chartable"]; ok {
		reasons = append(reasons, checkChartable(chartableRaw)...)
	}
	if len(reasons) > 0 {
		return nil, Result{Reasons: reasons}
	}

	// Everything structural passed; build the typed document.
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fail("document decode failed: %v", err)
	}
	doc.Timestamp = models.Timestamp(timestamp)

	return &doc, Result{OK: true}
}

// checkSection verifies that every entry of a chartable/other section is
// an object carrying base_type, description and data keys and that every
// data element is exactly a 3-tuple.
func checkSection(section string, raw json.RawMessage) []string {
	reasons := []string{}

	var entries map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return []string{fmt.Sprintf("%q section is not a map of objects: %v", section, err)}
	}

	for label, entry := range entries {
		for _, key := range []string{"base_type", "description", "data"} {
			if _, ok := entry[key]; !ok {
				reasons = append(reasons, fmt.Sprintf(
					"%q entry %q has no %q key", section, label, key))
			}
		}
		dataRaw, ok := entry["data"]
		if !ok {
			continue
		}
		var data []models.Datum
		if err := json.Unmarshal(dataRaw, &data); err != nil {
			reasons = append(reasons, fmt.Sprintf(
				"%q entry %q has an unparseable data list: %v", section, label, err))
			continue
		}
		for _, datum := range data {
			if datum.Len() != 3 {
				reasons = append(reasons, fmt.Sprintf(
					"%q entry %q has a datapoint with %d elements, want 3",
					section, label, datum.Len()))
			}
		}
	}
	return reasons
}

// checkChartable enforces the stricter chartable rules: base types must
// be acceptable and every value must be numeric. Non-numeric chartable
// data can never be plotted, so it is a hard failure.
func checkChartable(raw json.RawMessage) []string {
	reasons := []string{}

	var entries map[string]struct {
		BaseType models.BaseType `json:"base_type"`
		Data     []models.Datum  `json:"data"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		// Shape errors were already reported by checkSection.
		return reasons
	}

	for label, entry := range entries {
		if !entry.BaseType.Valid() {
			reasons = append(reasons, fmt.Sprintf(
				"chartable entry %q has invalid base_type %q", label, string(entry.BaseType)))
		}
		for _, datum := range entry.Data {
			if datum.Len() != 3 {
				continue
			}
			if _, err := datum.Float(); err != nil {
				reasons = append(reasons, fmt.Sprintf(
					"chartable entry %q has a non numeric data value", label))
				break
			}
		}
	}
	return reasons
}

// checkDuplicate rejects documents whose timestamp is at or below the
// host/agent association watermark. Expected under at-least-once
// delivery; the returned reason is informational, not an error.
func (v *Validator) checkDuplicate(ctx context.Context, doc *models.Document) string {
	if v.gateway == nil {
		return ""
	}

	agent, err := v.gateway.AgentLookup(ctx, doc.UID)
	if errors.Is(err, store.ErrNotFound) {
		return ""
	}
	if err != nil {
		return ""
	}
	host, err := v.gateway.HostLookup(ctx, doc.Hostname)
	if err != nil {
		return ""
	}
	last, err := v.gateway.HostAgentWatermark(ctx, host.Idx, agent.Idx)
	if err != nil {
		return ""
	}
	if int64(doc.Timestamp) <= last {
		return fmt.Sprintf(
			"data for uid %s, hostname %s at timestamp %d is already in the database",
			doc.UID, doc.Hostname, int64(doc.Timestamp))
	}
	return ""
}

// parseTimestamp accepts JSON numbers and numeric strings, truncating
// floats the way the original integer coercion did.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("not a number: %s", string(raw))
}

func fail(format string, args ...any) Result {
	return Result{Reasons: []string{fmt.Sprintf(format, args...)}}
}
