package metrics

import (
	"fmt"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// ParseRunnerMetrics parses a runner-reported Prometheus text exposition into
// metric families. Runners attach this text to their status updates so the
// gateway can surface engine-level gauges without scraping each machine.
func ParseRunnerMetrics(text string) (map[string]*dto.MetricFamily, error) {
	if strings.TrimSpace(text) == "" {
		return map[string]*dto.MetricFamily{}, nil
	}
	parser := expfmt.NewTextParser(model.LegacyValidation)
	families, err := parser.TextToMetricFamilies(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse runner metrics: %w", err)
	}
	return families, nil
}

// RunnerGauges flattens a runner-reported metrics exposition into simple
// name/value pairs for the admin surfaces. Only single-sample scalar families
// survive the flattening; histograms, summaries and labeled series are engine
// internals the admin view does not render. Malformed expositions yield nil
// rather than an error, as a runner's metrics are best-effort decoration.
func RunnerGauges(text string) map[string]float64 {
	families, err := ParseRunnerMetrics(text)
	if err != nil || len(families) == 0 {
		return nil
	}
	gauges := make(map[string]float64)
	for name, family := range families {
		if len(family.Metric) != 1 || len(family.Metric[0].Label) > 0 {
			continue
		}
		if value, ok := GaugeValue(families, name); ok {
			gauges[name] = value
		}
	}
	if len(gauges) == 0 {
		return nil
	}
	return gauges
}

// GaugeValue extracts the first sample of a gauge or untyped family.
func GaugeValue(families map[string]*dto.MetricFamily, name string) (float64, bool) {
	family, ok := families[name]
	if !ok || len(family.Metric) == 0 {
		return 0, false
	}
	m := family.Metric[0]
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	}
	return 0, false
}
