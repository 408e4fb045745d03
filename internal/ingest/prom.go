package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/opspulse/opspulse/internal/metrics"
)

// readProm parses one Prometheus text-exposition file into points. The
// source is taken from the file name stem (e.g. heartbeat.prom → heartbeat).
func (in *Ingester) readProm(path string) ([]metrics.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	mfs, err := parseFamilies(f)
	if err != nil {
		return nil, err
	}

	source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	ts := in.now()

	var pts []metrics.Point
	for name, mf := range mfs {
		for _, m := range mf.GetMetric() {
			v, ok := sampleValue(m)
			if !ok {
				continue
			}
			pts = append(pts, metrics.Point{
				Name:      name,
				Value:     v,
				Source:    source,
				Tags:      labelTags(m),
				Timestamp: ts,
			})
		}
	}
	return pts, nil
}

// parseFamilies decodes a Prometheus text exposition from r. A partial
// result with a non-fatal parse warning is still returned successfully.
func parseFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sampleValue extracts the counter, gauge, or untyped value of one sample.
func sampleValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	default:
		return 0, false
	}
}

// labelTags converts sample label pairs into point tags.
func labelTags(m *dto.Metric) map[string]string {
	if len(m.GetLabel()) == 0 {
		return nil
	}
	tags := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		tags[lp.GetName()] = lp.GetValue()
	}
	return tags
}
