package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ProgressCallback is called with progress updates
type ProgressCallback func(done, total int)

// Job processes one symbol. Returning an error marks the symbol failed; the
// batch carries on.
type Job func(ctx context.Context, symbol string) error

// Tally is the per-symbol outcome of a batch
type Tally struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  map[string]error
	Elapsed   time.Duration
}

// FailedSymbols returns the failed symbols in sorted order
func (t *Tally) FailedSymbols() []string {
	out := make([]string, 0, len(t.Failures))
	for sym := range t.Failures {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (t *Tally) String() string {
	return fmt.Sprintf("%d symbols: %d ok, %d failed (%s)", t.Total, t.Succeeded, t.Failed, t.Elapsed.Round(time.Millisecond))
}

// Runner runs a job over many symbols with a fixed worker pool
type Runner struct {
	workers      int
	timeout      time.Duration
	progressFunc ProgressCallback
}

// NewRunner creates a runner. timeout bounds each symbol, not the batch.
func NewRunner(workers int, timeout time.Duration) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{workers: workers, timeout: timeout}
}

// SetProgressCallback sets the progress callback function
func (r *Runner) SetProgressCallback(fn ProgressCallback) {
	r.progressFunc = fn
}

type outcome struct {
	symbol string
	err    error
}

// Run executes job for every symbol. Symbols not started before ctx ends
// are reported as failed with the context error.
func (r *Runner) Run(ctx context.Context, symbols []string, job Job) *Tally {
	start := time.Now()
	tally := &Tally{Total: len(symbols), Failures: make(map[string]error)}
	if len(symbols) == 0 {
		return tally
	}

	jobChan := make(chan string, len(symbols))
	resultChan := make(chan outcome, len(symbols))

	for _, sym := range symbols {
		jobChan <- sym
	}
	close(jobChan)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobChan {
				var err error
				if ctx.Err() != nil {
					err = ctx.Err()
				} else {
					err = r.runOne(ctx, sym, job)
				}
				resultChan <- outcome{symbol: sym, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	// Progress is reported from this goroutine only, in order.
	done := 0
	for res := range resultChan {
		done++
		if res.err != nil {
			tally.Failed++
			tally.Failures[res.symbol] = res.err
		} else {
			tally.Succeeded++
		}
		if r.progressFunc != nil {
			r.progressFunc(done, len(symbols))
		}
	}

	tally.Elapsed = time.Since(start)
	return tally
}

func (r *Runner) runOne(ctx context.Context, symbol string, job Job) (err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return job(ctx, symbol)
}
