package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmerrors"
	"caseflow/pkg/agent/middleware/metrics"
	"caseflow/pkg/logx"
	"caseflow/pkg/proto"
	"caseflow/pkg/stage"
)

// DefaultStageTimeout bounds a single stage call. Model latency for a full
// structured stage response is tens of seconds in practice.
const DefaultStageTimeout = 3 * time.Minute

// EventSink receives stage-completed events as the run advances. Publish is
// called synchronously from the orchestrator; implementations must not block.
type EventSink interface {
	Publish(event *proto.StageEvent)
}

// Orchestrator advances a run through the stage sequence, invoking each
// contract, degrading recoverable failures into placeholder slots, and
// producing the final document.
type Orchestrator struct {
	registry     *stage.Registry
	synthesizer  *stage.Contract
	invoker      *Invoker
	sink         EventSink
	logger       *logx.Logger
	stageTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStageTimeout overrides the per-stage call bound.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// WithEventSink sets the sink receiving stage-completed events.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// NewOrchestrator creates an orchestrator over the given stage registry and
// invoker.
func NewOrchestrator(registry *stage.Registry, invoker *Invoker, logger *logx.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logx.NewLogger("orchestrator")
	}
	o := &Orchestrator{
		registry:     registry,
		synthesizer:  stage.SynthesizeContract(),
		invoker:      invoker,
		logger:       logger,
		stageTimeout: DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// linear stage order after the Review join.
//
//nolint:gochecknoglobals // Fixed transition order
var linearStates = []proto.State{
	proto.StateReview,
	proto.StateVerification,
	proto.StateReasoning,
	proto.StateAction,
}

// Run executes one case end to end and returns the final document. Missing
// required case inputs fail the run before any stage executes. A stage
// Timeout is fatal; InvalidOutput and model-side failures degrade the owning
// slot and the run proceeds.
func (o *Orchestrator) Run(ctx context.Context, caseID string, input *stage.CaseInput) (*stage.FinalDocument, error) {
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	rs := NewRunState(caseID, input)
	o.logger.Info("run %s starting", caseID)

	// Differential and Warning both read only the immutable case inputs,
	// so they execute concurrently; Review joins on both.
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range []proto.State{proto.StateDifferential, proto.StateWarning} {
		g.Go(func() error {
			return o.runStage(gctx, rs, s)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, o.fail(rs, err)
	}

	for _, s := range linearStates {
		if err := o.runStage(ctx, rs, s); err != nil {
			return nil, o.fail(rs, err)
		}
	}

	doc, err := o.synthesize(ctx, rs)
	if err != nil {
		return nil, o.fail(rs, err)
	}

	rs.setCurrent(proto.StateDone)
	o.logger.Info("run %s done", caseID)
	return doc, nil
}

func (o *Orchestrator) fail(rs *RunState, err error) error {
	rs.setCurrent(proto.StateFailed)
	o.logger.Error("run %s failed: %v", rs.CaseID(), err)
	return err
}

// runStage invokes one specialist stage, writing its output (or degraded
// placeholder) into the owning slot exactly once.
func (o *Orchestrator) runStage(ctx context.Context, rs *RunState, s proto.State) error {
	contract, ok := o.registry.Get(s)
	if !ok {
		return fmt.Errorf("no contract registered for state %s", s)
	}
	rs.setCurrent(s)

	out, history, err := o.invokeWithTimeout(ctx, rs, contract)
	degraded := false
	switch {
	case err == nil:
	case llmerrors.IsTimeout(err):
		return fmt.Errorf("stage %s timed out: %w", contract.Name, err)
	case ctx.Err() != nil:
		return fmt.Errorf("run canceled during stage %s: %w", contract.Name, ctx.Err())
	default:
		// InvalidOutput after retry, or any model-side failure: the
		// stage fails closed and its slot degrades to uncertain.
		o.logger.Warn("stage %s degraded (%s): %v", contract.Name, llmerrors.TypeOf(err), err)
		out = contract.Placeholder()
		degraded = true
	}

	if writeErr := rs.writeSlot(s, out); writeErr != nil {
		return writeErr
	}
	if history != nil {
		rs.setHistory(s, history)
	}

	o.publish(rs.CaseID(), contract.Name, proto.EventIntermediate, out, degraded)
	return nil
}

// synthesize runs the terminal stage over the entire accumulated state. It
// has no placeholder: failure here fails the run.
func (o *Orchestrator) synthesize(ctx context.Context, rs *RunState) (*stage.FinalDocument, error) {
	rs.setCurrent(proto.StateSynthesize)

	out, _, err := o.invokeWithTimeout(ctx, rs, o.synthesizer)
	if err != nil {
		return nil, fmt.Errorf("synthesize failed: %w", err)
	}
	doc, ok := out.(*stage.FinalDocument)
	if !ok {
		return nil, fmt.Errorf("synthesize returned unexpected output type %T", out)
	}

	// The final evidence list is drawn from the run's own snippet set, so
	// cited ids are a subset of supplied ids by construction.
	doc.EvidenceList = rs.input.Evidence.Subset(stage.CitedSnippetIDs(doc))

	if err := rs.writeSlot(proto.StateSynthesize, doc); err != nil {
		return nil, err
	}
	rs.setFinal(doc)

	o.publish(rs.CaseID(), o.synthesizer.Name, proto.EventFinal, doc, false)
	return doc, nil
}

func (o *Orchestrator) invokeWithTimeout(ctx context.Context, rs *RunState, contract *stage.Contract) (stage.Output, []llm.CompletionMessage, error) {
	ctx = metrics.WithLabels(ctx, rs.CaseID(), contract.Name)
	ctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()
	return o.invoker.Invoke(ctx, contract, rs.projection(), rs.input.Evidence, rs.History(contract.State))
}

func (o *Orchestrator) publish(caseID, stageName string, kind proto.EventKind, out stage.Output, degraded bool) {
	if o.sink == nil {
		return
	}
	event := proto.NewStageEvent(caseID, stageName, kind)
	event.Degraded = degraded
	event.CitationsUsed = CitationsUsed(out)
	if err := event.SetOutput(out); err != nil {
		o.logger.Warn("failed to encode %s event output: %v", stageName, err)
	}
	o.sink.Publish(event)
}
