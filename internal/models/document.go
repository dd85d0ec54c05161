package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Base type codes stored on datapoint rows. These mirror the SNMP
// semantics reported by agents: gauges are absolute readings, counters
// accumulate until they wrap.
const (
	BaseTypeOther     = 0
	BaseTypeFloating  = 1
	BaseTypeCounter32 = 32
	BaseTypeCounter64 = 64
)

// Timestamp is a unix-seconds timestamp. Agents are supposed to send a
// plain integer, but numeric strings and floats are coerced the way the
// rest of the pipeline coerces numbers.
type Timestamp int64

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	f, err := rawNumber(data)
	if err != nil {
		return fmt.Errorf("timestamp is not numeric: %w", err)
	}
	*t = Timestamp(f)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(t))
}

// Document is one agent upload: a timestamped set of labelled readings
// for a single (uid, hostname) pair.
type Document struct {
	Timestamp Timestamp        `json:"timestamp"`
	UID       string           `json:"uid"`
	Agent     string           `json:"agent"`
	Hostname  string           `json:"hostname"`
	Chartable map[string]Group `json:"chartable,omitempty"`
	Other     map[string]Group `json:"other,omitempty"`
}

// Group is the set of readings an agent reports under one label, e.g.
// every interface's inbound octet counter.
type Group struct {
	BaseType    BaseType `json:"base_type"`
	Description string   `json:"description"`
	Data        []Datum  `json:"data"`
}

// BaseType is the agent-reported base type. Agents send it as null, a
// string name, or (older agents) the numeric code itself.
type BaseType string

func (b *BaseType) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*b = ""
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*b = BaseType(name)
		return nil
	}
	var code float64
	if err := json.Unmarshal(data, &code); err == nil {
		*b = BaseType(s)
		return nil
	}
	return fmt.Errorf("base_type is neither null, string nor number: %s", s)
}

func (b BaseType) MarshalJSON() ([]byte, error) {
	if b == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(b))
}

// Code maps the wire value to the integer code stored on datapoint rows.
// Unrecognized values degrade to BaseTypeOther so a misspelled agent
// config downgrades data instead of dropping it.
func (b BaseType) Code() int {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "floating", "1":
		return BaseTypeFloating
	case "counter32", "32":
		return BaseTypeCounter32
	case "counter64", "64":
		return BaseTypeCounter64
	default:
		return BaseTypeOther
	}
}

// Valid reports whether the wire value is one agents are allowed to send
// for chartable data: null, a numeric code, or a known type name.
func (b BaseType) Valid() bool {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	switch strings.ToLower(s) {
	case "floating", "counter32", "counter64":
		return true
	}
	return false
}

// Datum is one [index, value, source] triple. The wire format is a JSON
// array of mixed types, so the raw elements are kept and interpreted on
// access; validation decides what is acceptable.
type Datum struct {
	parts []json.RawMessage
}

func NewDatum(index int64, value any, source string) Datum {
	idx, _ := json.Marshal(index)
	val, _ := json.Marshal(value)
	var src json.RawMessage
	if source == "" {
		src = json.RawMessage("null")
	} else {
		src, _ = json.Marshal(source)
	}
	return Datum{parts: []json.RawMessage{idx, val, src}}
}

func (d *Datum) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.parts)
}

func (d Datum) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.parts)
}

// Len returns the number of elements in the triple. Anything other than
// 3 is a validation failure.
func (d Datum) Len() int {
	return len(d.parts)
}

// Index returns the instance index that distinguishes multiple readings
// under one label (e.g. per-interface).
func (d Datum) Index() (int64, error) {
	if len(d.parts) < 1 {
		return 0, fmt.Errorf("datum has no index element")
	}
	f, err := rawNumber(d.parts[0])
	if err != nil {
		return 0, fmt.Errorf("datum index is not numeric: %w", err)
	}
	return int64(f), nil
}

// Float returns the value element as a float64. Numeric strings are
// accepted the same way plain numbers are.
func (d Datum) Float() (float64, error) {
	if len(d.parts) < 2 {
		return 0, fmt.Errorf("datum has no value element")
	}
	return rawNumber(d.parts[1])
}

// Value returns the value element rendered as a string, for non-chartable
// data where any scalar is acceptable.
func (d Datum) Value() string {
	if len(d.parts) < 2 {
		return ""
	}
	return rawString(d.parts[1])
}

// Source returns the human-readable origin of the reading, e.g. an
// interface name. Null and missing both come back empty.
func (d Datum) Source() string {
	if len(d.parts) < 3 {
		return ""
	}
	return rawString(d.parts[2])
}

// rawNumber interprets a raw JSON element as a number, accepting both
// number literals and numeric strings.
func rawNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	return 0, fmt.Errorf("not a number: %s", string(raw))
}

// rawString renders a raw JSON element as a plain string, unquoting
// string literals and passing everything else through as written.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}
