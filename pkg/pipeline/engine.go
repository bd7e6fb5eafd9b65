package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"

// Outcome is the settled result of transforming one element of a sequence.
type Outcome struct {
	Value any
	Err   error
}

// Rejected reports whether the element failed.
func (o Outcome) Rejected() bool { return o.Err != nil }

// Settled is what a node produces for sequence input: one outcome per
// element, in input order. Rejected outcomes are carried downstream untouched.
type Settled []Outcome

// Values returns the fulfilled values in order.
func (s Settled) Values() []any {
	out := make([]any, 0, len(s))
	for _, o := range s {
		if !o.Rejected() {
			out = append(out, o.Value)
		}
	}
	return out
}

// Errs returns the failures in order.
func (s Settled) Errs() []error {
	var out []error
	for _, o := range s {
		if o.Rejected() {
			out = append(out, o.Err)
		}
	}
	return out
}

// StageError reports a transform failure on a scalar input.
type StageError struct {
	NodeID string
	Err    error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %q: %v", e.NodeID, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Engine walks linked graphs. It holds no per-run state, so one Engine may
// run any number of graphs concurrently; stages must be safe for concurrent
// use if the same graph is run concurrently.
//
// Cycles are not detected. A cycle whose guards never reject recurses until
// the context is cancelled or the stack is exhausted.
type Engine struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for run and node events.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used for per-node spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMetrics records node activity into m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine. Without options it logs to slog.Default and
// traces through the global OpenTelemetry provider.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Run feeds input into g's entry node and returns the entry's result.
func (e *Engine) Run(ctx context.Context, g *Graph, input any) (any, error) {
	if g == nil || g.Entry == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	return e.RunNode(ctx, g.Entry, input)
}

// RunNode feeds input into n and returns n's result: the transform output of
// a plain node, or the data collected at the end boundary of a scoped node.
func (e *Engine) RunNode(ctx context.Context, n *Node, input any) (any, error) {
	if n == nil {
		return nil, fmt.Errorf("node must not be nil")
	}
	t := &traversal{
		engine: e,
		runID:  uuid.NewString(),
		frames: make(map[*Node]*endFrame),
	}
	log := e.logger.With("run", t.runID)
	t.log = log

	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipegraph.run_id", t.runID),
		attribute.String("pipegraph.entry", n.ID),
	))
	defer span.End()

	log.Info("run started", "entry", n.ID)
	began := time.Now()
	out, err := t.exec(ctx, n, input)
	e.metrics.observeRun(time.Since(began), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("run failed", "entry", n.ID, "error", err)
		return nil, err
	}
	log.Info("run complete", "entry", n.ID, "duration", time.Since(began))
	return out, nil
}

// ─── traversal ────────────────────────────────────────────────────────────────

// traversal is the state of one top-level run. End-boundary accumulators live
// here rather than on the shared nodes, which keeps graphs reentrant.
type traversal struct {
	engine *Engine
	runID  string
	log    *slog.Logger
	frames map[*Node]*endFrame // end boundaries of the scopes currently entered
}

// endFrame collects arrivals at an end boundary while its scope runs.
type endFrame struct {
	items []any
}

func (f *endFrame) add(v any) { f.items = append(f.items, v) }

// data is nil for no arrivals, the value itself for one, a slice for several.
func (f *endFrame) data() any {
	switch len(f.items) {
	case 0:
		return nil
	case 1:
		return f.items[0]
	}
	return append([]any(nil), f.items...)
}

func (t *traversal) exec(ctx context.Context, n *Node, v any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cancelled at node %q: %w", n.ID, err)
	}

	ctx, span := t.engine.tracer.Start(ctx, "pipeline.node", trace.WithAttributes(
		attribute.String("pipegraph.node", n.ID),
		attribute.Bool("pipegraph.scoped", n.Scoped()),
	))
	defer span.End()

	var (
		out any
		err error
	)
	switch f, collecting := t.frames[n]; {
	case collecting:
		out, err = t.collect(ctx, n, f, v)
	case n.Scoped():
		out, err = t.execScoped(ctx, n, v)
	default:
		out, err = t.execPlain(ctx, n, v)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// execPlain runs guard, transform, then every next target in order.
func (t *traversal) execPlain(ctx context.Context, n *Node, v any) (any, error) {
	if !t.accepts(ctx, n, v) {
		return v, nil
	}
	out, err := t.transform(ctx, n, v)
	if err != nil {
		return nil, err
	}
	if err := t.forward(ctx, n.Next, out); err != nil {
		return nil, err
	}
	return out, nil
}

// execScoped enters n's sub-graph and drains it through the end boundary.
func (t *traversal) execScoped(ctx context.Context, n *Node, v any) (any, error) {
	if !t.accepts(ctx, n, v) {
		return v, nil
	}
	out, err := t.transform(ctx, n, v)
	if err != nil {
		return nil, err
	}
	if len(n.Next) == 0 {
		return out, nil
	}

	// Save any frame from an outer entry of the same scope; restored below.
	prev, nested := t.frames[n.End]
	frame := &endFrame{}
	t.frames[n.End] = frame
	t.log.Debug("entering scope", "node", n.ID)
	_, err = t.exec(ctx, n.Start, out)
	if nested {
		t.frames[n.End] = prev
	} else {
		delete(t.frames, n.End)
	}
	if err != nil {
		return nil, err
	}

	data := frame.data()
	t.log.Debug("leaving scope", "node", n.ID, "arrivals", len(frame.items))
	if len(n.End.Next) == 0 {
		return data, nil
	}
	if err := t.forward(ctx, n.End.Next, data); err != nil {
		return nil, err
	}
	return data, nil
}

// collect handles an arrival at the end boundary of a scope being run: the
// boundary's own stage applies, then the value is accumulated instead of
// being forwarded.
func (t *traversal) collect(ctx context.Context, n *Node, f *endFrame, v any) (any, error) {
	out := v
	if t.accepts(ctx, n, v) {
		var err error
		if out, err = t.transform(ctx, n, v); err != nil {
			return nil, err
		}
	}
	f.add(out)
	return out, nil
}

func (t *traversal) forward(ctx context.Context, targets []*Node, v any) error {
	for _, next := range targets {
		if _, err := t.exec(ctx, next, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *traversal) accepts(ctx context.Context, n *Node, v any) bool {
	if accepts(ctx, n.Stage, v) {
		return true
	}
	t.log.Debug("guard rejected input", "node", n.ID)
	t.engine.metrics.guardRejected(n.ID)
	return false
}

// transform invokes n's stage once for a scalar, or element-wise for a
// sequence, settling each element independently.
func (t *traversal) transform(ctx context.Context, n *Node, v any) (any, error) {
	items, isSeq := sequence(v)
	if !isSeq {
		t.log.Info("executing node", "node", n.ID)
		out, err := n.Stage.Process(ctx, v)
		t.engine.metrics.stageProcessed(n.ID, err)
		if err != nil {
			return nil, &StageError{NodeID: n.ID, Err: err}
		}
		return out, nil
	}

	t.log.Info("executing node", "node", n.ID, "elements", len(items))
	settled := make(Settled, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run cancelled at node %q: %w", n.ID, err)
		}
		in := item
		if o, ok := item.(Outcome); ok {
			if o.Rejected() {
				settled[i] = o
				continue
			}
			in = o.Value
		}
		out, err := n.Stage.Process(ctx, in)
		t.engine.metrics.stageProcessed(n.ID, err)
		if err != nil {
			t.log.Warn("element rejected", "node", n.ID, "index", i, "error", err)
			settled[i] = Outcome{Err: &StageError{NodeID: n.ID, Err: err}}
			continue
		}
		settled[i] = Outcome{Value: out}
	}
	return settled, nil
}

// Elements reports whether v is transformed element-wise and returns the
// values a stage will be handed one at a time. Rejected outcomes are skipped
// since no stage sees them.
func Elements(v any) ([]any, bool) {
	items, ok := sequence(v)
	if !ok {
		return nil, false
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if o, isOutcome := item.(Outcome); isOutcome {
			if o.Rejected() {
				continue
			}
			item = o.Value
		}
		out = append(out, item)
	}
	return out, true
}

// sequence reports whether v is processed element-wise and returns its
// elements. Byte slices and strings are scalars.
func sequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case nil, []byte:
		return nil, false
	case Settled:
		items := make([]any, len(s))
		for i, o := range s {
			items[i] = o
		}
		return items, true
	case []any:
		return s, true
	case []string:
		items := make([]any, len(s))
		for i, x := range s {
			items[i] = x
		}
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
