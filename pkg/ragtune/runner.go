package ragtune

import (
	"context"
	"sync"
)

// DefaultRunnerWorkers is the worker count when NewRunner gets zero.
const DefaultRunnerWorkers = 4

// Runner is the asynchronous orchestration mode: a fixed worker pool
// multiplexing independent requests over one Controller. Within a request
// the loop stays strictly sequential; the parallelism is across requests.
type Runner struct {
	ctrl *Controller
	jobs chan *PendingRun
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// PendingRun is the handle for a submitted query.
type PendingRun struct {
	Query string

	ctx  context.Context
	done chan struct{}
	out  *Output
	err  error
}

// Done is closed when the run has finished.
func (p *PendingRun) Done() <-chan struct{} { return p.done }

// Wait blocks until the run finishes or ctx is cancelled. Cancelling the
// wait does not cancel the run; cancel the submission context for that.
func (p *PendingRun) Wait(ctx context.Context) (*Output, error) {
	select {
	case <-p.done:
		return p.out, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewRunner starts workers processing submitted queries against ctrl.
func NewRunner(ctrl *Controller, workers int) *Runner {
	if workers <= 0 {
		workers = DefaultRunnerWorkers
	}
	r := &Runner{
		ctrl: ctrl,
		jobs: make(chan *PendingRun, workers*2),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		job.out, job.err = r.ctrl.Run(job.ctx, job.Query)
		close(job.done)
	}
}

// Submit enqueues a query and returns its handle. The submission context
// governs the run itself. Submit blocks when the queue is full and fails
// fast with ErrRunnerClosed after Close.
func (r *Runner) Submit(ctx context.Context, query string) *PendingRun {
	p := &PendingRun{
		Query: query,
		ctx:   ctx,
		done:  make(chan struct{}),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		p.err = ErrRunnerClosed
		close(p.done)
		return p
	}
	r.jobs <- p
	return p
}

// Close stops accepting submissions and waits for in-flight runs to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	r.wg.Wait()
}
