package persist

import (
	"context"
	"sync"
	"time"

	"location-hub/internal/general/logger"
)

const jobTimeout = 15 * time.Second

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Dispatcher is the bounded work queue behind every fire-and-forget
// persistence write. Jobs run on their own background contexts, so a
// connection closing never cancels the in-flight writes for its last
// events; they complete or fail independently.
type Dispatcher struct {
	jobs chan job
	log  *logger.Logger
	wg   sync.WaitGroup

	// mu guards closed and the send on jobs, so intake after Close is a
	// logged drop instead of a send on a closed channel. A read loop can
	// outlive the deferred Close during shutdown.
	mu     sync.Mutex
	closed bool
}

func NewDispatcher(workers, queueSize int, log *logger.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	d := &Dispatcher{
		jobs: make(chan job, queueSize),
		log:  log,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		if err := j.run(ctx); err != nil {
			d.log.Error(ctx, "persist_job_failed", "Background persistence write failed", err, map[string]any{
				"job": j.name,
			})
		}
		cancel()
	}
}

// Enqueue submits a job without ever blocking the caller. When the queue
// is full, or the dispatcher is already closed, the job is dropped and
// logged; persistence is best-effort telemetry, not the source of truth.
func (d *Dispatcher) Enqueue(name string, run func(ctx context.Context) error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.log.Error(context.Background(), "persist_queue_closed", "Dropping background write, dispatcher is closed", nil, map[string]any{
			"job": name,
		})
		return
	}

	select {
	case d.jobs <- job{name: name, run: run}:
	default:
		d.log.Error(context.Background(), "persist_queue_full", "Dropping background write, queue is full", nil, map[string]any{
			"job": name,
		})
	}
}

// Close stops intake, drains queued jobs, and waits for the workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
