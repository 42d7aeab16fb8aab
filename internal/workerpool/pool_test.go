package workerpool

import (
	"sync/atomic"
	"testing"
)

func TestRunCoversEveryIndexExactlyOnce(t *testing.T) {
	const n = 997
	var seen [n]int32
	p := New(4)
	p.Run(0, n, nil, func(i, _ int) {
		atomic.AddInt32(&seen[i], 1)
	}, "test")
	for i, v := range seen {
		if v != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, v)
		}
	}
}

func TestRunEmptyRangeIsNoop(t *testing.T) {
	p := New(4)
	called := false
	p.Run(5, 5, nil, func(int, int) { called = true }, "")
	p.Run(5, 2, nil, func(int, int) { called = true }, "")
	if called {
		t.Fatalf("body must not run on an empty or inverted range")
	}
}

func TestRunFallsBackWhenInitReturnsFalse(t *testing.T) {
	p := New(8)
	var threads []int
	p.Run(0, 10, func(int) bool { return false }, func(_, threadIdx int) {
		threads = append(threads, threadIdx)
	}, "")
	for _, th := range threads {
		if th != 0 {
			t.Fatalf("init()=false must force the single-goroutine path, saw threadIdx=%d", th)
		}
	}
}

func TestNewClampsNonPositiveToGOMAXPROCS(t *testing.T) {
	p := New(0)
	if p.NumThreads() < 1 {
		t.Fatalf("NumThreads() = %d, want >= 1", p.NumThreads())
	}
}

func TestRunOnNilPoolRunsSerially(t *testing.T) {
	var seen [10]bool
	RunOn(nil, 0, 10, func(i, _ int) { seen[i] = true })
	for i, ok := range seen {
		if !ok {
			t.Fatalf("index %d not visited", i)
		}
	}
}

func TestRunOnWithPoolMatchesSerial(t *testing.T) {
	p := New(3)
	var seen [23]int32
	RunOn(p, 0, 23, func(i, _ int) { atomic.AddInt32(&seen[i], 1) })
	for i, v := range seen {
		if v != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, v)
		}
	}
}
