// Package workerpool implements the ThreadPool consumed interface from
// the estimator's external interface contract: a data-parallel task
// runner that hands out contiguous index ranges to a fixed set of
// goroutines. It generalizes the row-sharded goroutine pattern the
// teacher already uses for its own analysis pass
// (internal/lossy/encode_analysis.go's computeAlphas: GOMAXPROCS
// goroutines, each owning a contiguous span of macroblock rows, an
// atomic sum at the join) into a reusable primitive.
package workerpool

import (
	"runtime"
	"sync"
)

// Pool runs index-range tasks across a fixed number of goroutines.
// There is no cross-task ordering guarantee within a Run call; callers
// must not rely on task i completing before task i+1 starts.
type Pool struct {
	numThreads int
}

// New returns a Pool sized to n goroutines. n <= 0 selects
// runtime.GOMAXPROCS(0).
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Pool{numThreads: n}
}

// NumThreads returns the number of goroutines Run will use.
func (p *Pool) NumThreads() int { return p.numThreads }

// Run partitions [begin, end) into contiguous spans, one per thread, and
// invokes body(taskIndex, threadIndex) for every index in [begin, end)
// from within that thread's goroutine. init(numThreads) runs once before
// any body call, on the calling goroutine, to size thread-local scratch;
// if init returns false, Run falls back to the single-goroutine path.
// label is carried for diagnostics only (matching the teacher's
// ThreadPool::Run(..., label) signature) and has no behavioral effect.
func (p *Pool) Run(begin, end int, init func(numThreads int) bool, body func(taskIndex, threadIndex int), label string) {
	if end <= begin {
		return
	}
	numThreads := p.numThreads
	if numThreads < 1 {
		numThreads = 1
	}
	total := end - begin
	if numThreads > total {
		numThreads = total
	}

	ok := true
	if init != nil {
		ok = init(numThreads)
	}
	if !ok || numThreads <= 1 {
		for i := begin; i < end; i++ {
			body(i, 0)
		}
		return
	}

	perThread := (total + numThreads - 1) / numThreads
	var wg sync.WaitGroup
	for t := 0; t < numThreads; t++ {
		spanStart := begin + t*perThread
		spanEnd := spanStart + perThread
		if spanEnd > end {
			spanEnd = end
		}
		if spanStart >= spanEnd {
			break
		}
		wg.Add(1)
		go func(threadIdx, start, stop int) {
			defer wg.Done()
			for i := start; i < stop; i++ {
				body(i, threadIdx)
			}
		}(t, spanStart, spanEnd)
	}
	wg.Wait()
}

// RunOn runs body over [begin, end) using pool if non-nil, or serially
// on the calling goroutine if pool is nil. Callers that only need the
// plain index (no thread-local scratch) use this instead of Run
// directly, so a nil *Pool is always a valid "run serially" default.
func RunOn(pool *Pool, begin, end int, body func(taskIndex, threadIndex int)) {
	if pool == nil {
		for i := begin; i < end; i++ {
			body(i, 0)
		}
		return
	}
	pool.Run(begin, end, nil, body, "")
}
