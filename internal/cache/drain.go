package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/infoset/collector/internal/models"
)

// Fact is one decoded chartable sample, raw and undivided.
type Fact struct {
	UID       string
	DID       string
	Value     float64
	Timestamp int64
}

// ScalarFact is one decoded non-chartable value. These are not time
// series; only the latest value is kept per datapoint.
type ScalarFact struct {
	UID       string
	DID       string
	Value     string
	Timestamp int64
}

// SourceMeta describes one distinct (label, index) pair seen in a
// document; it seeds the datapoint metadata row on first sighting.
type SourceMeta struct {
	UID         string
	DID         string
	Label       string
	Source      string
	Description string
	BaseType    int
}

// Drain decodes a validated document into normalized facts and metadata.
// It is deliberately lenient: the validator is the hard gate, and
// anything the decoder cannot interpret degrades instead of failing so a
// maintainer typo never drops data.
type Drain struct {
	doc       *models.Document
	path      string
	chartable []Fact
	other     []ScalarFact
	sources   []SourceMeta
}

// NewDrain decodes doc. path is the backing cache file, empty for
// in-memory documents.
func NewDrain(doc *models.Document, path string) *Drain {
	d := &Drain{doc: doc, path: path}
	d.decode("chartable", doc.Chartable)
	d.decode("other", doc.Other)
	return d
}

func (d *Drain) decode(section string, groups map[string]models.Group) {
	timestamp := int64(d.doc.Timestamp)

	// Labels are walked in sorted order so decoding is deterministic.
	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		group := groups[label]
		baseType := group.BaseType.Code()

		for _, datum := range group.Data {
			index, err := datum.Index()
			if err != nil {
				continue
			}
			did := DID(d.doc.UID, label, index)

			if section == "chartable" {
				value, err := datum.Float()
				if err != nil {
					continue
				}
				d.chartable = append(d.chartable, Fact{
					UID:       d.doc.UID,
					DID:       did,
					Value:     value,
					Timestamp: timestamp,
				})
			} else {
				d.other = append(d.other, ScalarFact{
					UID:       d.doc.UID,
					DID:       did,
					Value:     datum.Value(),
					Timestamp: timestamp,
				})
			}

			d.sources = append(d.sources, SourceMeta{
				UID:         d.doc.UID,
				DID:         did,
				Label:       label,
				Source:      datum.Source(),
				Description: group.Description,
				BaseType:    baseType,
			})
		}
	}
}

func (d *Drain) UID() string      { return d.doc.UID }
func (d *Drain) Timestamp() int64 { return int64(d.doc.Timestamp) }
func (d *Drain) Agent() string    { return d.doc.Agent }
func (d *Drain) Hostname() string { return d.doc.Hostname }

// Chartable returns every numeric series sample regardless of base type.
func (d *Drain) Chartable() []Fact { return d.chartable }

// Other returns the non-chartable scalar values.
func (d *Drain) Other() []ScalarFact { return d.other }

// Sources returns one metadata entry per decoded (label, index) pair.
func (d *Drain) Sources() []SourceMeta { return d.sources }

// Purge deletes the backing cache file. Callers invoke it only after a
// successful downstream commit, never before.
func (d *Drain) Purge() error {
	if d.path == "" {
		return nil
	}
	if err := os.Remove(d.path); err != nil {
		log.Printf("[WARN] Failed to delete ingest cache file %s: %v", d.path, err)
		return fmt.Errorf("failed to delete cache file %s: %w", d.path, err)
	}
	log.Printf("[DEBUG] Ingest cache file %s deleted", d.path)
	return nil
}

// DID derives the stable datapoint identifier for a (uid, label, index)
// triple. The same inputs always hash to the same DID, which is what
// makes re-ingestion idempotent.
func DID(uid, label string, index int64) string {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s%s%d", uid, label, index)
	return hex.EncodeToString(hasher.Sum(nil))
}
