package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"extraction-worker/internal/models"
	"extraction-worker/internal/queue"
	"extraction-worker/internal/telemetry"
)

const defaultWaitTime = time.Second

// Worker drives one sequential consumer loop over a single queue. Jobs are
// processed strictly one at a time; horizontal scaling means running more
// worker processes against the same store, whose atomic pick prevents
// double-processing.
type Worker struct {
	queueName string
	store     queue.JobStore
	log       *zap.Logger
	waitTime  time.Duration

	mu       sync.Mutex
	registry map[string]Factory

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	timesSlept int
	perf       perfWindow
}

// perfWindow accumulates processing counters between idle episodes. It is
// flushed to the log when the worker goes idle, then reset.
type perfWindow struct {
	count          int
	processingTime time.Duration
	windowStart    time.Time
}

// New builds a worker for the queue. A zero waitTime means the default
// 1s idle poll interval.
func New(queueName string, store queue.JobStore, log *zap.Logger, waitTime time.Duration) *Worker {
	if waitTime <= 0 {
		waitTime = defaultWaitTime
	}
	return &Worker{
		queueName: queueName,
		store:     store,
		log:       log.With(zap.String("queue", queueName)),
		waitTime:  waitTime,
		registry:  make(map[string]Factory),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Register binds a handler factory to a job name. The last registration
// for a name wins.
func (w *Worker) Register(name string, factory Factory) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.registry[name] = factory
}

// RegisteredJobs lists the handler names currently registered.
func (w *Worker) RegisteredJobs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.registry))
	for name := range w.registry {
		names = append(names, name)
	}
	return names
}

// Start runs the consumer loop until Stop is called or the context is
// cancelled. Handler failures are logged and absorbed per job; store
// failures end the loop and propagate, since a broken store is not a
// per-job condition.
func (w *Worker) Start(ctx context.Context) error {
	defer close(w.doneCh)
	w.perf.windowStart = time.Now()

	for {
		job, err := w.peekJob(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			w.log.Info("worker stopped")
			return nil
		}
		if err := w.processJob(ctx, job); err != nil {
			return err
		}
	}
}

// Stop requests a graceful drain: no new job is picked, the in-flight
// handler (if any) runs to completion. It returns once the loop has
// exited, or when ctx runs out.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// peekJob blocks via sleep-poll until a job is available or a stop has
// been requested, in which case it returns nil.
func (w *Worker) peekJob(ctx context.Context) (*models.Job, error) {
	for {
		if w.stopping() {
			return nil, nil
		}

		job, err := w.store.PickJob(ctx, w.queueName)
		if err != nil {
			return nil, err
		}
		if job != nil {
			if w.timesSlept > 0 {
				w.log.Info("resumed", zap.Int("timesSlept", w.timesSlept))
				w.timesSlept = 0
			}
			return job, nil
		}

		if err := w.sleep(ctx); err != nil {
			return nil, err
		}
	}
}

func (w *Worker) sleep(ctx context.Context) error {
	if w.timesSlept == 0 {
		w.flushPerf()
		w.log.Info("sleeping", zap.Duration("waitTime", w.waitTime))
	}
	w.timesSlept++

	timer := time.NewTimer(w.waitTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopCh:
		return nil
	case <-timer.C:
		return nil
	}
}

func (w *Worker) flushPerf() {
	w.log.Info("performance metrics",
		zap.Duration("processingTime", w.perf.processingTime),
		zap.Int("count", w.perf.count),
		zap.Duration("totalTime", time.Since(w.perf.windowStart)),
	)
	w.perf = perfWindow{windowStart: time.Now()}
}

func (w *Worker) factoryFor(name string) (Factory, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	factory, ok := w.registry[name]
	return factory, ok
}

// processJob resolves and runs the handler for one job. The returned error
// is only ever a store failure; handler errors leave the job locked until
// its lock lapses and it is retried.
func (w *Worker) processJob(ctx context.Context, job *models.Job) error {
	start := time.Now()
	defer func() {
		w.perf.count++
		w.perf.processingTime += time.Since(start)
	}()

	jobFields := []zap.Field{
		zap.String("job", job.ID),
		zap.String("name", job.Name),
		zap.String("namespace", job.Namespace),
	}

	factory, ok := w.factoryFor(job.Name)
	if !ok {
		err := &UnregisteredJobError{Name: job.Name}
		w.log.Error(err.Error(), jobFields...)
		telemetry.JobsUnregistered.Inc()
		return nil
	}

	dispatchable, err := factory(ctx, job.Namespace)
	if err != nil {
		w.log.Error("building handler failed", append(jobFields, zap.Error(err))...)
		telemetry.JobsFailed.Inc()
		return nil
	}

	heartbeat := func(hctx context.Context) error {
		return w.store.RenewJobLock(hctx, job)
	}

	w.log.Info("processing job", jobFields...)
	telemetry.JobsInFlight.Inc()
	err = dispatchable.HandleDispatch(ctx, heartbeat, job.Params)
	telemetry.JobsInFlight.Dec()
	if err != nil {
		w.log.Error("job failed", append(jobFields, zap.Error(err))...)
		telemetry.JobsFailed.Inc()
		return nil
	}

	w.log.Info("processed job", jobFields...)
	if err := w.store.DeleteJob(ctx, job); err != nil {
		return err
	}
	telemetry.JobsProcessed.Inc()
	return nil
}
