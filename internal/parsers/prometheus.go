package parsers

import (
	"fmt"
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/infoset/collector/internal/models"
)

// ParsePrometheusText converts a Prometheus text exposition into an
// ingest document for the given agent identity. Counters and gauges
// become chartable groups keyed by metric name; histogram, summary and
// untyped families are skipped since they have no series mapping here.
//
// Prometheus counters are cumulative doubles; they map to counter64
// since no width information exists in the exposition format.
func ParsePrometheusText(reader io.Reader, uid, hostname string, timestamp int64) (*models.Document, error) {
	var parser expfmt.TextParser
	metricFamilies, err := parser.TextToMetricFamilies(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Prometheus text format: %w", err)
	}

	doc := &models.Document{
		Timestamp: models.Timestamp(timestamp),
		UID:       uid,
		Agent:     "prometheus",
		Hostname:  hostname,
		Chartable: make(map[string]models.Group),
		Other:     make(map[string]models.Group),
	}

	// Family order is randomized by the map; sort for stable indexes.
	names := make([]string, 0, len(metricFamilies))
	for name := range metricFamilies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mf := metricFamilies[name]

		var baseType string
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			baseType = "counter64"
		case dto.MetricType_GAUGE:
			baseType = "floating"
		default:
			// Histograms, summaries and untyped metrics have no direct
			// chartable mapping here.
			continue
		}

		group := models.Group{
			BaseType:    models.BaseType(baseType),
			Description: mf.GetHelp(),
		}

		for i, m := range mf.GetMetric() {
			var value float64
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value = m.GetGauge().GetValue()
			}

			// Label pairs become the source string, e.g. "cpu=0,mode=idle".
			parts := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				parts = append(parts, fmt.Sprintf("%s=%s", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(parts)

			group.Data = append(group.Data,
				models.NewDatum(int64(i), value, strings.Join(parts, ",")))
		}

		doc.Chartable[name] = group
	}

	return doc, nil
}
