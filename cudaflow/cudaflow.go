// Package cudaflow bounds the fan-out of GPU flows' native sub-launches.
// It has nothing to do with the executor's own per-domain work-stealing
// scheduler (that already bounds how many CUDA-domain Nodes run
// concurrently across workers) — it exists for the case where a
// GPUFlowFn wants to launch many independent native kernels/streams
// without spinning up unboundedly many goroutines per call. An Executor
// owns one Pool and hands it to every GPUFlowFn it runs.
package cudaflow

import (
	"context"
	"errors"
	"sync"

	"github.com/JekaMas/workerpool"
)

// ErrLaunchFailed wraps the first sub-launch failure observed by a Run.
var ErrLaunchFailed = errors.New("cudaflow: one or more stream launches failed")

// Pool bounds the number of concurrently in-flight native stream
// launches issued through it, by one or several GPUFlowFn calls.
type Pool struct {
	wp *workerpool.WorkerPool
}

// NewPool returns a Pool that runs at most maxStreams launches at once.
func NewPool(maxStreams int) *Pool {
	if maxStreams <= 0 {
		maxStreams = 1
	}
	return &Pool{wp: workerpool.New(maxStreams)}
}

// Launch is one native sub-launch: a unit of work a GPUFlowFn wants to
// run on some stream, returning an error on device-side failure.
type Launch func(ctx context.Context) error

// Run submits every launch to the pool and blocks until each of them
// has either completed or, if ctx was already canceled when it was
// picked up, been skipped; launches already running are not interrupted.
// It returns the first error observed (a launch's error or ctx's),
// wrapped in ErrLaunchFailed.
func (p *Pool) Run(ctx context.Context, launches []Launch) error {
	if len(launches) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		firstErr error
		wg      sync.WaitGroup
	)

	wg.Add(len(launches))
	for _, l := range launches {
		l := l
		p.wp.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if err := l(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if firstErr != nil {
		return errors.Join(ErrLaunchFailed, firstErr)
	}
	return nil
}

// StopWait drains queued launches and releases the pool's goroutines.
// Call once no further launches will be issued; the Executor owning the
// pool does so in Close.
func (p *Pool) StopWait() { p.wp.StopWait() }
