package engine

import (
	"testing"
	"time"
)

func TestHealthMonitor_Check(t *testing.T) {
	var rec threadRecord
	alive := true
	h := healthMonitor{
		interval:     time.Second,
		stallTimeout: 30 * time.Second,
		maxRuntime:   time.Minute,
		rec:          &rec,
		workerAlive:  func() bool { return alive },
	}
	now := time.Unix(1000, 0)

	if st := h.check(now); !st.Healthy {
		t.Fatalf("idle record should be healthy: %+v", st)
	}

	rec.begin(1, now)
	if st := h.check(now.Add(10 * time.Second)); !st.Healthy {
		t.Fatalf("fresh generation should be healthy: %+v", st)
	}
	if st := h.check(now.Add(31 * time.Second)); st.Healthy {
		t.Fatalf("stalled generation should be unhealthy")
	}
	rec.touch(now.Add(40 * time.Second))
	if st := h.check(now.Add(45 * time.Second)); !st.Healthy {
		t.Fatalf("progress should refresh health: %+v", st)
	}
	if st := h.check(now.Add(61 * time.Second)); st.Healthy || st.Reason != "max runtime exceeded" {
		t.Fatalf("max runtime: %+v", st)
	}

	rec.begin(2, now)
	alive = false
	if st := h.check(now); st.Healthy || st.Reason != "worker terminated" {
		t.Fatalf("dead worker: %+v", st)
	}

	rec.reset()
	if st := h.check(now.Add(time.Hour)); !st.Healthy {
		t.Fatalf("reset record should be healthy")
	}
}

func TestHealthMonitor_StallCheckDisabled(t *testing.T) {
	var rec threadRecord
	h := healthMonitor{interval: time.Second, stallTimeout: -1, rec: &rec}
	now := time.Unix(1000, 0)
	rec.begin(1, now)
	if st := h.check(now.Add(time.Hour)); !st.Healthy {
		t.Fatalf("stall check should be disabled: %+v", st)
	}
}

func TestHealthMonitor_Due(t *testing.T) {
	var rec threadRecord
	h := healthMonitor{interval: time.Second, rec: &rec}
	now := time.Unix(1000, 0)
	rec.begin(1, now)

	if h.due(now.Add(500 * time.Millisecond)) {
		t.Fatalf("check should not be due before the interval")
	}
	if !h.due(now.Add(time.Second)) {
		t.Fatalf("check should be due after the interval")
	}
	if h.due(now.Add(time.Second)) {
		t.Fatalf("a claimed check must not be due twice")
	}
}
