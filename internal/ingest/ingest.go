package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opspulse/opspulse/internal/metrics"
)

// Snapshot is the JSON document a producer writes into the spool directory:
// named numeric fields plus source and tag metadata.
type Snapshot struct {
	Source    string             `json:"source"`
	Timestamp time.Time          `json:"timestamp"`
	Unit      string             `json:"unit,omitempty"`
	Tags      map[string]string  `json:"tags,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Ingester scans a spool directory for producer snapshots and records their
// flattened points into the metric store.
type Ingester struct {
	dir    string
	store  *metrics.Store
	now    func() time.Time
	remove func(string) error
}

// New creates an Ingester over dir, creating it when absent.
func New(dir string, store *metrics.Store) (*Ingester, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ingest: create spool dir %q: %w", dir, err)
	}
	return &Ingester{dir: dir, store: store, now: time.Now, remove: os.Remove}, nil
}

// Scan consumes every snapshot file currently in the spool directory and
// returns the number of points recorded. A file that cannot be read, parsed,
// or removed is logged, left in place for the next cycle, and does not fail
// the scan; only removed files have their points recorded.
func (in *Ingester) Scan() int {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		slog.Warn("ingest: cannot read spool dir", "dir", in.dir, "err", err)
		return 0
	}

	var recorded int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(in.dir, e.Name())

		var pts []metrics.Point
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json":
			pts, err = in.readJSON(path)
		case ".prom", ".txt":
			pts, err = in.readProm(path)
		default:
			continue
		}

		if err != nil {
			slog.Warn("ingest: skipping unreadable snapshot", "file", e.Name(), "err", err)
			continue
		}

		// Remove before recording: a snapshot that cannot be removed stays
		// for the next cycle and must not be counted twice.
		if err := in.remove(path); err != nil {
			slog.Warn("ingest: cannot remove snapshot, deferring", "file", e.Name(), "err", err)
			continue
		}

		for _, p := range pts {
			in.store.Record(p)
		}
		recorded += len(pts)
	}
	return recorded
}

// readJSON flattens one producer snapshot document into points.
func (in *Ingester) readJSON(path string) ([]metrics.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if snap.Source == "" {
		return nil, fmt.Errorf("snapshot has no source")
	}

	ts := snap.Timestamp
	if ts.IsZero() {
		ts = in.now()
	}

	pts := make([]metrics.Point, 0, len(snap.Metrics))
	for name, value := range snap.Metrics {
		pts = append(pts, metrics.Point{
			Name:      name,
			Value:     value,
			Unit:      snap.Unit,
			Source:    snap.Source,
			Tags:      snap.Tags,
			Timestamp: ts,
		})
	}
	return pts, nil
}
