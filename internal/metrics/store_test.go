package metrics

import (
	"testing"
	"time"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestRecordAndQuery(t *testing.T) {
	base := time.Now()
	st := NewStore(10)
	st.now = fixedClock(base)

	st.Record(Point{Name: "cpu_usage", Value: 42, Timestamp: base.Add(-30 * time.Second)})
	st.Record(Point{Name: "cpu_usage", Value: 43, Timestamp: base.Add(-10 * time.Second)})

	pts := st.Query("cpu_usage", time.Minute)
	if len(pts) != 2 {
		t.Fatalf("Query: got %d points, want 2", len(pts))
	}
	if pts[0].Value != 42 || pts[1].Value != 43 {
		t.Errorf("Query order: got [%v %v], want [42 43]", pts[0].Value, pts[1].Value)
	}
}

func TestQuery_ExcludesOutsideWindow(t *testing.T) {
	base := time.Now()
	st := NewStore(10)
	st.now = fixedClock(base)

	st.Record(Point{Name: "m", Value: 1, Timestamp: base.Add(-10 * time.Minute)})
	st.Record(Point{Name: "m", Value: 2, Timestamp: base.Add(-10 * time.Second)})

	pts := st.Query("m", time.Minute)
	if len(pts) != 1 {
		t.Fatalf("Query: got %d points, want 1", len(pts))
	}
	if pts[0].Value != 2 {
		t.Errorf("Query[0].Value: got %v, want 2", pts[0].Value)
	}
}

func TestQuery_UnknownMetric(t *testing.T) {
	st := NewStore(10)
	if pts := st.Query("missing", time.Minute); len(pts) != 0 {
		t.Errorf("Query on unknown metric: got %d points, want 0", len(pts))
	}
}

func TestRecord_EvictsOldestBeyondCap(t *testing.T) {
	base := time.Now()
	st := NewStore(3)
	st.now = fixedClock(base)

	for i := 0; i < 5; i++ {
		st.Record(Point{Name: "m", Value: float64(i), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	if n := st.Len("m"); n != 3 {
		t.Fatalf("Len after overflow: got %d, want 3", n)
	}
	pts := st.Last("m", 3)
	if pts[0].Value != 2 || pts[2].Value != 4 {
		t.Errorf("eviction should drop oldest first: got first=%v last=%v, want 2 and 4",
			pts[0].Value, pts[2].Value)
	}
}

func TestRecord_StampsZeroTimestamp(t *testing.T) {
	base := time.Now()
	st := NewStore(10)
	st.now = fixedClock(base)

	st.Record(Point{Name: "m", Value: 1})

	pts := st.Last("m", 1)
	if !pts[0].Timestamp.Equal(base) {
		t.Errorf("Timestamp: got %v, want %v", pts[0].Timestamp, base)
	}
}

func TestLast_ReturnsNewestN(t *testing.T) {
	base := time.Now()
	st := NewStore(10)
	st.now = fixedClock(base)

	for i := 0; i < 6; i++ {
		st.Record(Point{Name: "m", Value: float64(i), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	pts := st.Last("m", 2)
	if len(pts) != 2 {
		t.Fatalf("Last: got %d points, want 2", len(pts))
	}
	if pts[0].Value != 4 || pts[1].Value != 5 {
		t.Errorf("Last: got [%v %v], want [4 5]", pts[0].Value, pts[1].Value)
	}
}

func TestSourcesSeen(t *testing.T) {
	base := time.Now()
	st := NewStore(10)
	st.now = fixedClock(base)

	st.Record(Point{Name: "a", Value: 1, Source: "heartbeat", Timestamp: base.Add(-5 * time.Second)})
	st.Record(Point{Name: "b", Value: 1, Source: "relay", Timestamp: base.Add(-5 * time.Second)})
	st.Record(Point{Name: "c", Value: 1, Source: "snapshot", Timestamp: base.Add(-10 * time.Minute)})

	srcs := st.SourcesSeen(time.Minute)
	if len(srcs) != 2 {
		t.Fatalf("SourcesSeen: got %d sources %v, want 2", len(srcs), srcs)
	}
}
