package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"caseflow/pkg/eventlog"
	"caseflow/pkg/logx"
	"caseflow/pkg/persistence"
	"caseflow/pkg/pipeline"
	"caseflow/pkg/proto"
	"caseflow/pkg/stage"
)

// DefaultQueueSize bounds the number of cases waiting for a worker.
const DefaultQueueSize = 64

// Job is one case awaiting pipeline execution.
type Job struct {
	CaseID string
	UserID string
	Title  string
	Input  *stage.CaseInput
}

// Dispatcher consumes the case queue with a pool of workers. Each job runs
// the full pipeline; its stage events are persisted, appended to the event
// log, and published to streaming subscribers.
type Dispatcher struct {
	queue    chan Job
	workers  int
	store    *persistence.Store
	events   *eventlog.Writer
	broker   *Broker
	invoker  *pipeline.Invoker
	registry *stage.Registry
	logger   *logx.Logger

	stageTimeout time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// Config configures a dispatcher.
type Config struct {
	Workers      int
	QueueSize    int
	StageTimeout time.Duration
}

// NewDispatcher creates a dispatcher. The event log writer may be nil to
// disable JSONL event logging.
func NewDispatcher(cfg Config, store *persistence.Store, events *eventlog.Writer, broker *Broker, invoker *pipeline.Invoker, registry *stage.Registry) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = pipeline.DefaultStageTimeout
	}
	return &Dispatcher{
		queue:        make(chan Job, cfg.QueueSize),
		workers:      cfg.Workers,
		store:        store,
		events:       events,
		broker:       broker,
		invoker:      invoker,
		registry:     registry,
		logger:       logx.NewLogger("dispatch"),
		stageTimeout: cfg.StageTimeout,
		stopped:      make(chan struct{}),
	}
}

// Broker returns the broker streaming clients subscribe through.
func (d *Dispatcher) Broker() *Broker { return d.broker }

// Start launches the worker pool. Workers exit when ctx is canceled or
// Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-d.stopped:
					return
				case job := <-d.queue:
					d.runJob(ctx, worker, job)
				}
			}
		}(i)
	}
	d.logger.Info("dispatcher started with %d workers", d.workers)
}

// Stop signals workers to exit and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopped) })
	d.wg.Wait()
}

// Enqueue adds a case to the queue. Returns an error if the queue is full
// or the dispatcher is stopping.
func (d *Dispatcher) Enqueue(job Job) error {
	select {
	case <-d.stopped:
		return fmt.Errorf("dispatcher is stopped")
	case d.queue <- job:
		return nil
	default:
		return fmt.Errorf("case queue is full")
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (d *Dispatcher) QueueDepth() int { return len(d.queue) }

// sinkFunc adapts a closure to pipeline.EventSink.
type sinkFunc func(*proto.StageEvent)

func (f sinkFunc) Publish(e *proto.StageEvent) { f(e) }

// runJob executes one case end to end and records the terminal status.
func (d *Dispatcher) runJob(ctx context.Context, worker int, job Job) {
	d.logger.Info("worker %d picked up case %s", worker, job.CaseID)

	if err := d.store.UpdateCaseStatus(job.CaseID, proto.StatusProcessing); err != nil {
		d.logger.Error("failed to mark case %s processing: %v", job.CaseID, err)
	}

	sink := sinkFunc(func(event *proto.StageEvent) {
		d.recordEvent(job.UserID, event)
	})

	orch := pipeline.NewOrchestrator(d.registry, d.invoker, d.logger,
		pipeline.WithStageTimeout(d.stageTimeout),
		pipeline.WithEventSink(sink),
	)

	doc, err := orch.Run(ctx, job.CaseID, job.Input)
	if err != nil {
		d.failCase(job, err)
		return
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		d.failCase(job, fmt.Errorf("failed to encode final document: %w", err))
		return
	}
	if err := d.store.SetFinalDocument(job.CaseID, docJSON); err != nil {
		d.logger.Error("failed to store final document for case %s: %v", job.CaseID, err)
	}
	d.logger.Info("case %s completed", job.CaseID)
}

// recordEvent persists a stage event as a case message, appends it to the
// JSONL event log, and publishes it to subscribers.
func (d *Dispatcher) recordEvent(userID string, event *proto.StageEvent) {
	msg := &persistence.Message{
		MessageID: event.ID,
		CaseID:    event.CaseID,
		UserID:    userID,
		Stage:     event.Stage,
		Kind:      string(event.Kind),
		Degraded:  event.Degraded,
		Output:    event.Output,
		Citations: event.CitationsUsed,
		CreatedAt: event.Timestamp,
	}
	if err := d.store.AddMessage(msg); err != nil {
		d.logger.Error("failed to persist %s event for case %s: %v", event.Stage, event.CaseID, err)
	}
	if d.events != nil {
		if err := d.events.WriteEvent(event); err != nil {
			d.logger.Warn("failed to log %s event for case %s: %v", event.Stage, event.CaseID, err)
		}
	}
	d.broker.Publish(event)
}

// failCase marks the case ERROR and notifies subscribers. Partial stage
// messages already persisted remain visible for diagnostics.
func (d *Dispatcher) failCase(job Job, runErr error) {
	d.logger.Error("case %s failed: %v", job.CaseID, runErr)
	if err := d.store.SetCaseError(job.CaseID, runErr.Error()); err != nil {
		d.logger.Error("failed to mark case %s errored: %v", job.CaseID, err)
	}

	event := proto.NewStageEvent(job.CaseID, "run", proto.EventError)
	if err := event.SetOutput(map[string]string{"error": runErr.Error()}); err == nil {
		d.recordEvent(job.UserID, event)
	}
}
