package taskqueue

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"

	"github.com/google/uuid"
)

// DefaultHeartbeatInterval keeps a claim alive well inside DefaultVisibilityTimeout.
const DefaultHeartbeatInterval = DefaultVisibilityTimeout / 5

var errNoHandler = errors.New("no handler registered")

// WorkerConfig configures the task worker.
type WorkerConfig struct {
	// ID names the worker in claims. Defaults to hostname plus a random suffix.
	ID                string
	Queue             Consumer
	PollInterval      time.Duration
	Concurrency       int
	HeartbeatInterval time.Duration
}

// Worker claims tasks from a Consumer and routes them to handlers by type.
type Worker struct {
	cfg      WorkerConfig
	handlers map[TaskType]Handler

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.ID == "" {
		host, _ := os.Hostname()
		cfg.ID = host + "-" + uuid.NewString()[:8]
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Worker{
		cfg:      cfg,
		handlers: make(map[TaskType]Handler),
		stopCh:   make(chan struct{}),
	}
}

// ID returns the worker identity written into claims.
func (w *Worker) ID() string {
	return w.cfg.ID
}

// RegisterHandler must be called before Start. A later handler for the same
// type replaces the earlier one.
func (w *Worker) RegisterHandler(h Handler) {
	if h == nil {
		return
	}
	w.handlers[h.Type()] = h
	logger.Debug().Str("type", string(h.Type())).Msg("taskqueue: registered handler")
}

// HandlerTypes returns the task types this worker handles.
func (w *Worker) HandlerTypes() []TaskType {
	types := make([]TaskType, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	return types
}

// Start launches Concurrency poll loops. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	types := w.HandlerTypes()
	if len(types) == 0 {
		logger.Warn().Str("worker_id", w.cfg.ID).Msg("taskqueue: no handlers, worker not started")
		return
	}

	logger.Info().
		Str("worker_id", w.cfg.ID).
		Int("concurrency", w.cfg.Concurrency).
		Dur("poll_interval", w.cfg.PollInterval).
		Msg("taskqueue: worker starting")

	w.wg.Add(w.cfg.Concurrency)
	for range w.cfg.Concurrency {
		go w.loop(ctx, types)
	}
}

// Stop waits for running handlers. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	logger.Info().Str("worker_id", w.cfg.ID).Msg("taskqueue: worker stopped")
}

func (w *Worker) stopped(ctx context.Context) bool {
	select {
	case <-w.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (w *Worker) loop(ctx context.Context, types []TaskType) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// drain the backlog before waiting for the next tick
		for !w.stopped(ctx) && w.ProcessOne(ctx, types...) {
		}
	}
}

// ProcessOne claims and runs a single task and reports whether one was due.
// Without explicit types it claims any type with a registered handler.
func (w *Worker) ProcessOne(ctx context.Context, types ...TaskType) bool {
	if len(types) == 0 {
		types = w.HandlerTypes()
	}

	task, err := w.cfg.Queue.Dequeue(ctx, w.cfg.ID, types...)
	switch {
	case err != nil:
		if !errors.Is(err, context.Canceled) {
			dequeueErrors.Inc()
			logger.Error().Err(err).Str("worker_id", w.cfg.ID).Msg("taskqueue: dequeue failed")
		}
		return false
	case task == nil:
		return false
	}

	log := logger.With().Str("task_id", task.ID).Str("type", string(task.Type)).Int("attempt", task.Attempts+1).Logger()

	h, ok := w.handlers[task.Type]
	if !ok {
		log.Error().Msg("taskqueue: no handler for task type")
		tasksProcessed.WithLabelValues(string(task.Type), outcomeNoHandler).Inc()
		w.settle(ctx, task, errNoHandler)
		return true
	}

	workersBusy.Inc()
	start := time.Now()
	lost, err := w.run(ctx, h, task)
	taskDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())
	workersBusy.Dec()

	if lost {
		// another worker owns the task now, leave its state alone
		heartbeatLost.Inc()
		log.Warn().Err(err).Msg("taskqueue: claim expired while running")
		return true
	}
	if err != nil {
		log.Warn().Err(err).Msg("taskqueue: task failed")
		tasksProcessed.WithLabelValues(string(task.Type), outcomeFailed).Inc()
	} else {
		log.Debug().Msg("taskqueue: task completed")
		tasksProcessed.WithLabelValues(string(task.Type), outcomeCompleted).Inc()
	}
	w.settle(ctx, task, err)
	return true
}

// run executes h while a side goroutine heartbeats the claim. lost reports
// that a heartbeat found the claim gone, in which case the handler context
// was cancelled.
func (w *Worker) run(ctx context.Context, h Handler, task *Task) (lost bool, err error) {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		lostClaim bool
		done      = make(chan struct{})
		beat      sync.WaitGroup
	)
	beat.Add(1)
	go func() {
		defer beat.Done()
		t := time.NewTicker(w.cfg.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-hctx.Done():
				return
			case <-t.C:
				if herr := w.cfg.Queue.Heartbeat(hctx, task.ID, w.cfg.ID); errors.Is(herr, ErrTaskNotFound) {
					lostClaim = true
					cancel()
					return
				}
			}
		}
	}()

	err = h.Handle(hctx, task)
	close(done)
	beat.Wait()
	return lostClaim, err
}

func (w *Worker) settle(ctx context.Context, task *Task, cause error) {
	var err error
	if cause == nil {
		err = w.cfg.Queue.Complete(ctx, task.ID)
	} else {
		err = w.cfg.Queue.Fail(ctx, task.ID, cause)
	}
	if err != nil {
		logger.Error().Err(err).Str("task_id", task.ID).Msg("taskqueue: recording task outcome failed")
	}
}
