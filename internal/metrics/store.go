package metrics

import (
	"sync"
	"time"
)

// DefaultSeriesCap bounds each series when no cap is configured.
const DefaultSeriesCap = 1000

// Point is a single named measurement. Points are immutable once recorded.
type Point struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Source    string            `json:"source,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Store is a thread-safe in-memory collection of per-name series.
// A full series is handled by evicting its oldest points, never by
// rejecting writes.
type Store struct {
	mu        sync.RWMutex
	series    map[string][]Point
	seriesCap int
	now       func() time.Time // injectable for deterministic tests
}

// NewStore creates a Store whose series hold at most cap points each.
// A cap <= 0 falls back to DefaultSeriesCap.
func NewStore(cap int) *Store {
	if cap <= 0 {
		cap = DefaultSeriesCap
	}
	return &Store{
		series:    make(map[string][]Point),
		seriesCap: cap,
		now:       time.Now,
	}
}

// Record appends p to its named series, trimming the oldest entries once
// the series exceeds the cap. A zero Timestamp is stamped with the current
// time so insertion order stays time order.
func (s *Store) Record(p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}
	pts := append(s.series[p.Name], p)
	if len(pts) > s.seriesCap {
		pts = pts[len(pts)-s.seriesCap:]
	}
	s.series[p.Name] = pts
}

// Query returns all points of the named series within the trailing window,
// oldest first. A metric with no data in the window returns an empty slice.
func (s *Store) Query(name string, window time.Duration) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-window)
	pts := s.series[name]

	// Series are time-ordered; find the first point inside the window.
	i := len(pts)
	for i > 0 && pts[i-1].Timestamp.After(cutoff) {
		i--
	}
	out := make([]Point, len(pts)-i)
	copy(out, pts[i:])
	return out
}

// Last returns up to n of the most recent points of the named series,
// oldest first.
func (s *Store) Last(name string, n int) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pts := s.series[name]
	if len(pts) > n {
		pts = pts[len(pts)-n:]
	}
	out := make([]Point, len(pts))
	copy(out, pts)
	return out
}

// Len returns the number of points currently held for the named series.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[name])
}

// Names returns the names of all series that hold at least one point.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.series))
	for name, pts := range s.series {
		if len(pts) > 0 {
			out = append(out, name)
		}
	}
	return out
}

// SourcesSeen returns the distinct point sources observed within the
// trailing window across all series. The health scorer uses this to derive
// the availability factor.
func (s *Store) SourcesSeen(window time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-window)
	seen := make(map[string]struct{})
	for _, pts := range s.series {
		for i := len(pts) - 1; i >= 0; i-- {
			if !pts[i].Timestamp.After(cutoff) {
				break
			}
			if pts[i].Source != "" {
				seen[pts[i].Source] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for src := range seen {
		out = append(out, src)
	}
	return out
}
