package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PrometheusFormat exports all metrics in Prometheus text exposition format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func (m *Metrics) PrometheusFormat() string {
	var sb strings.Builder

	m.RunDuration.Set(time.Since(m.startTime).Seconds())

	// Query metrics
	writeCounter(&sb, m.QueriesSubmitted)
	writeCounter(&sb, m.QueriesCompleted)
	writeGauge(&sb, m.QueriesInFlight)

	// Platform metrics
	writeCounterVec(&sb, m.Executions)
	writeHistogramVec(&sb, m.ExecutionLatency)
	writeCounterVec(&sb, m.PlatformErrors)
	writeHistogramVec(&sb, m.IndexLoadLatency)

	// Scores
	writeGaugeVec(&sb, m.Scores)

	// Cache and bus metrics
	writeCounterVec(&sb, m.CacheHits)
	writeCounterVec(&sb, m.CacheMisses)
	writeCounterVec(&sb, m.BusEventsPublished)
	writeHistogramVec(&sb, m.BusEventLatency)
	writeCounterVec(&sb, m.BusErrors)

	writeGauge(&sb, m.RunDuration)

	return sb.String()
}

// WriteTextfile writes the exposition to path for a node_exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rice-eval-*.prom")
	if err != nil {
		return fmt.Errorf("creating metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(m.PrometheusFormat()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing metrics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing metrics file: %w", err)
	}
	return nil
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	sb.WriteString("# HELP ")
	sb.WriteString(name)
	sb.WriteString(" ")
	sb.WriteString(help)
	sb.WriteString("\n")

	sb.WriteString("# TYPE ")
	sb.WriteString(name)
	sb.WriteString(" ")
	sb.WriteString(kind)
	sb.WriteString("\n")
}

// writeCounter writes a counter in Prometheus format.
func writeCounter(sb *strings.Builder, c *Counter) {
	writeHeader(sb, c.Name(), c.Help(), "counter")
	writeCounterSample(sb, c)
}

func writeCounterSample(sb *strings.Builder, c *Counter) {
	sb.WriteString(c.Name())
	writeLabels(sb, c.Labels(), "")
	sb.WriteString(fmt.Sprintf(" %d\n", c.Value()))
}

// writeGauge writes a gauge in Prometheus format.
func writeGauge(sb *strings.Builder, g *Gauge) {
	writeHeader(sb, g.Name(), g.Help(), "gauge")
	writeGaugeSample(sb, g)
}

func writeGaugeSample(sb *strings.Builder, g *Gauge) {
	sb.WriteString(g.Name())
	writeLabels(sb, g.Labels(), "")
	sb.WriteString(fmt.Sprintf(" %g\n", g.Value()))
}

// writeHistogramSamples writes bucket, sum and count lines for h.
func writeHistogramSamples(sb *strings.Builder, h *Histogram) {
	labels := h.Labels()
	buckets := h.Buckets()
	counts := h.BucketCounts()

	for i, bucket := range buckets {
		sb.WriteString(h.Name())
		sb.WriteString("_bucket")
		writeLabels(sb, labels, fmt.Sprintf("%g", bucket))
		sb.WriteString(fmt.Sprintf(" %d\n", counts[i]))
	}

	sb.WriteString(h.Name())
	sb.WriteString("_bucket")
	writeLabels(sb, labels, "+Inf")
	sb.WriteString(fmt.Sprintf(" %d\n", counts[len(counts)-1]))

	sb.WriteString(h.Name())
	sb.WriteString("_sum")
	writeLabels(sb, labels, "")
	sb.WriteString(fmt.Sprintf(" %g\n", h.Sum()))

	sb.WriteString(h.Name())
	sb.WriteString("_count")
	writeLabels(sb, labels, "")
	sb.WriteString(fmt.Sprintf(" %d\n", h.Count()))
}

// writeCounterVec writes a counter vector in Prometheus format.
func writeCounterVec(sb *strings.Builder, cv *CounterVec) {
	counters := cv.GetAll()
	if len(counters) == 0 {
		return
	}
	writeHeader(sb, cv.name, cv.help, "counter")
	for _, c := range counters {
		writeCounterSample(sb, c)
	}
}

// writeGaugeVec writes a gauge vector in Prometheus format.
func writeGaugeVec(sb *strings.Builder, gv *GaugeVec) {
	gauges := gv.GetAll()
	if len(gauges) == 0 {
		return
	}
	writeHeader(sb, gv.name, gv.help, "gauge")
	for _, g := range gauges {
		writeGaugeSample(sb, g)
	}
}

// writeHistogramVec writes a histogram vector in Prometheus format.
func writeHistogramVec(sb *strings.Builder, hv *HistogramVec) {
	histograms := hv.GetAll()
	if len(histograms) == 0 {
		return
	}
	writeHeader(sb, hv.name, hv.help, "histogram")
	for _, h := range histograms {
		writeHistogramSamples(sb, h)
	}
}

// writeLabels writes labels in Prometheus format {key="value",key2="value2"}.
// A non-empty le is appended as the bucket bound.
func writeLabels(sb *strings.Builder, labels map[string]string, le string) {
	if le != "" {
		labels = copyLabels(labels)
		labels["le"] = le
	}
	if len(labels) == 0 {
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sortLabelKeys(keys)

	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString("=\"")
		sb.WriteString(escapeString(labels[k]))
		sb.WriteString("\"")
	}
	sb.WriteString("}")
}

// sortLabelKeys sorts label names, keeping le last.
func sortLabelKeys(keys []string) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && labelLess(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

func labelLess(a, b string) bool {
	if a == "le" {
		return false
	}
	if b == "le" {
		return true
	}
	return a < b
}

// escapeString escapes special characters in label values.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
