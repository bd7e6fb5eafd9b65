package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

func quietEngine(opts ...pipeline.Option) *pipeline.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.NewEngine(append([]pipeline.Option{pipeline.WithLogger(logger)}, opts...)...)
}

func mustCompile(t *testing.T, d *pipeline.Decl, pool *pipeline.Pool) *pipeline.Graph {
	t.Helper()
	g, err := pipeline.Compile(d, pool)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return g
}

// recorder is a passthrough stage that remembers every input it saw.
type recorder struct {
	mu   sync.Mutex
	seen []any
}

func (r *recorder) Process(_ context.Context, in any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, in)
	return in, nil
}

func (r *recorder) values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.seen...)
}

// branchGraph is a scope S whose two leaves both run on entry and rejoin at S.end.
func branchGraph(t *testing.T) *pipeline.Graph {
	t.Helper()
	pool := pipeline.NewPool()
	pool.MustRegister("leafA", prefix("A:"))
	pool.MustRegister("leafB", prefix("B:"))
	return mustCompile(t, pipeline.Composite("S",
		pipeline.Plain("leafA").WithNext(pipeline.RefDefault),
		pipeline.Plain("leafB").WithNext(pipeline.RefDefault),
	).WithFanOut(pipeline.FanOutBranch), pool)
}

// ─── Plain nodes ──────────────────────────────────────────────────────────────

func TestEngineGuardRejectLeavesInputUnchanged(t *testing.T) {
	t.Parallel()
	sink := &recorder{}
	pool := pipeline.NewPool()
	pool.MustRegister("g", pipeline.NewStage(
		func(context.Context, any) (any, error) { return "changed", nil },
		func(context.Context, any) bool { return false },
	))
	pool.MustRegister("sink", sink)
	g := mustCompile(t, pipeline.Chain("c", nil, pipeline.Plain("g"), pipeline.Plain("sink")), pool)

	out, err := quietEngine().RunNode(t.Context(), g.Node("c.g"), "in")
	if err != nil {
		t.Fatalf("RunNode: %v", err)
	}
	if out != "in" {
		t.Errorf("output = %v, want in", out)
	}
	if len(sink.seen) != 0 {
		t.Errorf("rejected branch was forwarded: %v", sink.seen)
	}
}

func TestEngineRejectedGuardDoesNotForward(t *testing.T) {
	t.Parallel()
	sink := &recorder{}
	pool := pipeline.NewPool()
	pool.MustRegister("only-md", pipeline.NewStage(nil, func(_ context.Context, in any) bool {
		s, _ := in.(string)
		return strings.HasSuffix(s, ".md")
	}))
	pool.MustRegister("sink", sink)
	g := mustCompile(t, pipeline.Composite("r",
		pipeline.Plain("only-md").WithNext("sink"),
		pipeline.Plain("sink"),
	), pool)

	eng := quietEngine()
	for _, in := range []string{"a.md", "b.txt", "c.md"} {
		if _, err := eng.Run(t.Context(), g, in); err != nil {
			t.Fatalf("Run(%s): %v", in, err)
		}
	}
	if diff := cmp.Diff([]any{"a.md", "c.md"}, sink.seen); diff != "" {
		t.Errorf("sink inputs (-want +got):\n%s", diff)
	}
}

func TestEngineSequentialFanOutOrder(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		order []string
	)
	track := func(name string) pipeline.Stage {
		return pipeline.StageFunc(func(_ context.Context, in any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return in, nil
		})
	}
	pool := pipeline.NewPool()
	for _, n := range []string{"src", "x", "x2", "y"} {
		pool.MustRegister(n, track(n))
	}
	g := mustCompile(t, pipeline.Composite("r",
		pipeline.Plain("src").WithNext("x", "y"),
		pipeline.Plain("x").WithNext("x2"),
		pipeline.Plain("x2"),
		pipeline.Plain("y"),
	), pool)

	if _, err := quietEngine().Run(t.Context(), g, "v"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"src", "x", "x2", "y"}, order); diff != "" {
		t.Errorf("visit order (-want +got):\n%s", diff)
	}
}

// ─── Sequences ────────────────────────────────────────────────────────────────

func TestEngineSequencePartialFailure(t *testing.T) {
	t.Parallel()
	errBad := errors.New("bad element")
	sink := &recorder{}
	pool := pipeline.NewPool()
	pool.MustRegister("check", pipeline.StageFunc(func(_ context.Context, in any) (any, error) {
		if in == "x2" {
			return nil, errBad
		}
		return in.(string) + "!", nil
	}))
	pool.MustRegister("sink", sink)
	g := mustCompile(t, pipeline.Chain("c", nil, pipeline.Plain("check"), pipeline.Plain("sink")), pool)

	out, err := quietEngine().Run(t.Context(), g, []string{"x1", "x2", "x3"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	settled, ok := out.(pipeline.Settled)
	if !ok {
		t.Fatalf("output is %T, want Settled", out)
	}
	if len(settled) != 3 {
		t.Fatalf("len = %d, want 3", len(settled))
	}
	if diff := cmp.Diff([]any{"x1!", "x3!"}, settled.Values()); diff != "" {
		t.Errorf("fulfilled values (-want +got):\n%s", diff)
	}
	if !settled[1].Rejected() || !errors.Is(settled[1].Err, errBad) {
		t.Errorf("element 1 = %+v, want rejected with errBad", settled[1])
	}
	var se *pipeline.StageError
	if !errors.As(settled[1].Err, &se) || se.NodeID != "c.check" {
		t.Errorf("element 1 error should name c.check: %v", settled[1].Err)
	}
	// Siblings kept going and the failed element was not re-processed downstream.
	if diff := cmp.Diff([]any{"x1!", "x3!"}, sink.seen); diff != "" {
		t.Errorf("sink inputs (-want +got):\n%s", diff)
	}
}

func TestElements(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   any
		want []any
		seq  bool
	}{
		{"string", "abc", nil, false},
		{"bytes", []byte("abc"), nil, false},
		{"nil", nil, nil, false},
		{"strings", []string{"a", "b"}, []any{"a", "b"}, true},
		{"ints", []int{1, 2}, []any{1, 2}, true},
		{"array", [2]string{"x", "y"}, []any{"x", "y"}, true},
		{"settled", pipeline.Settled{{Value: "a"}, {Err: errors.New("boom")}, {Value: "c"}}, []any{"a", "c"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := pipeline.Elements(tt.in)
			if ok != tt.seq {
				t.Fatalf("sequence = %v, want %v", ok, tt.seq)
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("elements (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEngineScalarFailureAbortsRun(t *testing.T) {
	t.Parallel()
	errBoom := errors.New("boom")
	pool := pipeline.NewPool()
	pool.MustRegister("boom", pipeline.StageFunc(func(context.Context, any) (any, error) { return nil, errBoom }))
	g := mustCompile(t, pipeline.Chain("c", nil, pipeline.Plain("boom")), pool)

	_, err := quietEngine().Run(t.Context(), g, "x")
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	var se *pipeline.StageError
	if !errors.As(err, &se) || se.NodeID != "c.boom" {
		t.Errorf("err should be a StageError for c.boom: %v", err)
	}
}

func TestEngineSettledProperty(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(rt *rapid.T) {
		in := rapid.SliceOf(rapid.IntRange(-5, 5)).Draw(rt, "in")
		pool := pipeline.NewPool()
		pool.MustRegister("double", pipeline.StageFunc(func(_ context.Context, v any) (any, error) {
			n := v.(int)
			if n < 0 {
				return nil, fmt.Errorf("negative: %d", n)
			}
			return n * 2, nil
		}))
		g, err := pipeline.Compile(pipeline.Chain("c", nil, pipeline.Plain("double")), pool)
		if err != nil {
			rt.Fatalf("Compile: %v", err)
		}
		out, err := quietEngine().Run(context.Background(), g, in)
		if err != nil {
			rt.Fatalf("Run: %v", err)
		}
		settled := out.(pipeline.Settled)
		if len(settled) != len(in) {
			rt.Fatalf("len = %d, want %d", len(settled), len(in))
		}
		for i, n := range in {
			if (n < 0) != settled[i].Rejected() {
				rt.Fatalf("element %d (%d): rejected = %v", i, n, settled[i].Rejected())
			}
			if n >= 0 && settled[i].Value != n*2 {
				rt.Fatalf("element %d = %v, want %d", i, settled[i].Value, n*2)
			}
		}
	})
}

// ─── Scopes ───────────────────────────────────────────────────────────────────

func TestEngineBranchScopeJoins(t *testing.T) {
	t.Parallel()
	out, err := quietEngine().Run(t.Context(), branchGraph(t), "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]any{"A:x", "B:x"}, out); diff != "" {
		t.Errorf("end data (-want +got):\n%s", diff)
	}
}

func TestEngineReentryIsIndependent(t *testing.T) {
	t.Parallel()
	g := branchGraph(t)
	eng := quietEngine()
	for i := range 3 {
		in := fmt.Sprint(i)
		out, err := eng.Run(t.Context(), g, in)
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		if diff := cmp.Diff([]any{"A:" + in, "B:" + in}, out); diff != "" {
			t.Errorf("run %d end data (-want +got):\n%s", i, diff)
		}
	}
}

func TestEngineConcurrentRuns(t *testing.T) {
	t.Parallel()
	g := branchGraph(t)
	eng := quietEngine()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := fmt.Sprint(i)
			out, err := eng.Run(t.Context(), g, in)
			if err != nil {
				t.Errorf("Run %d: %v", i, err)
				return
			}
			if diff := cmp.Diff([]any{"A:" + in, "B:" + in}, out); diff != "" {
				t.Errorf("run %d end data (-want +got):\n%s", i, diff)
			}
		}()
	}
	wg.Wait()
}

func TestEngineScopeResumesAfterEnd(t *testing.T) {
	t.Parallel()
	after := &recorder{}
	pool := pipeline.NewPool()
	pool.MustRegister("leafA", prefix("A:"))
	pool.MustRegister("leafB", prefix("B:"))
	pool.MustRegister("after", after)
	g := mustCompile(t, pipeline.Composite("r",
		pipeline.Composite("s",
			pipeline.Plain("leafA").WithNext(pipeline.RefDefault),
			pipeline.Plain("leafB").WithNext(pipeline.RefDefault),
		).WithFanOut(pipeline.FanOutBranch).WithNext("after"),
		pipeline.Plain("after").WithNext(pipeline.RefDefault),
	), pool)

	out, err := quietEngine().Run(t.Context(), g, "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The joined pair continues past the scope and is processed element-wise.
	if diff := cmp.Diff([]any{"A:x", "B:x"}, after.seen); diff != "" {
		t.Errorf("after inputs (-want +got):\n%s", diff)
	}
	settled, ok := out.(pipeline.Settled)
	if !ok {
		t.Fatalf("output is %T, want Settled", out)
	}
	if diff := cmp.Diff([]any{"A:x", "B:x"}, settled.Values()); diff != "" {
		t.Errorf("output values (-want +got):\n%s", diff)
	}
}

func TestEngineScopeGuardSkipsSubGraph(t *testing.T) {
	t.Parallel()
	inner := &recorder{}
	pool := pipeline.NewPool()
	pool.MustRegister("s", pipeline.NewStage(nil, func(context.Context, any) bool { return false }))
	pool.MustRegister("inner", inner)
	g := mustCompile(t, pipeline.Composite("s", pipeline.Plain("inner").WithNext(pipeline.RefDefault)), pool)

	out, err := quietEngine().Run(t.Context(), g, "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "x" || len(inner.seen) != 0 {
		t.Errorf("guarded scope was entered: out=%v inner=%v", out, inner.seen)
	}
}

func TestEngineEmptyScopeYieldsNil(t *testing.T) {
	t.Parallel()
	g := mustCompile(t, pipeline.Composite("s", pipeline.Plain("a").WithNext(pipeline.RefExit)), pipeline.NewPool())
	out, err := quietEngine().Run(t.Context(), g, "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != nil {
		t.Errorf("output = %v, want nil", out)
	}
}

// ─── Context, tracing, metrics ────────────────────────────────────────────────

func TestEngineCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := quietEngine().Run(ctx, branchGraph(t), "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestEngineCancelMidRun(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sink := &recorder{}
	pool := pipeline.NewPool()
	pool.MustRegister("stop", pipeline.StageFunc(func(_ context.Context, in any) (any, error) {
		cancel()
		return in, nil
	}))
	pool.MustRegister("sink", sink)
	g := mustCompile(t, pipeline.Chain("c", nil, pipeline.Plain("stop"), pipeline.Plain("sink")), pool)

	if _, err := quietEngine().Run(ctx, g, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(sink.seen) != 0 {
		t.Errorf("node after cancellation ran with %v", sink.seen)
	}
}

func TestEngineNilGraph(t *testing.T) {
	t.Parallel()
	if _, err := quietEngine().Run(t.Context(), nil, "x"); err == nil {
		t.Fatal("expected error for nil graph")
	}
}

func TestEngineSpans(t *testing.T) {
	t.Parallel()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	eng := quietEngine(pipeline.WithTracer(tp.Tracer("test")))

	if _, err := eng.Run(t.Context(), branchGraph(t), "x"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	counts := map[string]int{}
	for _, s := range rec.Ended() {
		counts[s.Name()]++
	}
	// S, S.start, S.leafA, S.end, S.leafB, S.end
	want := map[string]int{"pipeline.run": 1, "pipeline.node": 6}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("span counts (-want +got):\n%s", diff)
	}
}

func TestEngineMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := pipeline.NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	pool := pipeline.NewPool()
	pool.MustRegister("g", pipeline.NewStage(nil, func(context.Context, any) bool { return false }))
	g := mustCompile(t, pipeline.Chain("c", nil, pipeline.Plain("g")), pool)

	eng := quietEngine(pipeline.WithMetrics(m))
	for range 2 {
		if _, err := eng.Run(t.Context(), g, "x"); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	expected := `
# HELP pipegraph_guard_rejections_total Inputs passed through unchanged because the node's guard rejected them.
# TYPE pipegraph_guard_rejections_total counter
pipegraph_guard_rejections_total{node="c.g"} 2
# HELP pipegraph_runs_total Top-level graph runs by result.
# TYPE pipegraph_runs_total counter
pipegraph_runs_total{result="ok"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"pipegraph_guard_rejections_total", "pipegraph_runs_total"); err != nil {
		t.Error(err)
	}

	if _, err := pipeline.NewMetrics(reg); err == nil {
		t.Error("registering metrics twice on one registry should fail")
	}
}
