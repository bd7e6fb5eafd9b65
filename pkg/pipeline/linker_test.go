package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

func prefix(p string) pipeline.Stage {
	return pipeline.StageFunc(func(_ context.Context, in any) (any, error) {
		s, _ := in.(string)
		return p + s, nil
	})
}

// ─── Pool ─────────────────────────────────────────────────────────────────────

func TestPoolDuplicateKeepsFirst(t *testing.T) {
	t.Parallel()
	pool := pipeline.NewPool()
	first := pool.MustRegister("a", prefix("1:"))
	if _, err := pool.Register("a", prefix("2:")); !errors.Is(err, pipeline.ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
	got, ok := pool.Get("a")
	if !ok || got != first {
		t.Errorf("first entry was replaced")
	}
	if pool.Len() != 1 {
		t.Errorf("Len() = %d, want 1", pool.Len())
	}
}

func TestPoolRegisterInvalid(t *testing.T) {
	t.Parallel()
	pool := pipeline.NewPool()
	if _, err := pool.Register("", prefix("")); !errors.Is(err, pipeline.ErrInvalidDeclaration) {
		t.Errorf("empty id: err = %v", err)
	}
	if _, err := pool.Register("a", nil); !errors.Is(err, pipeline.ErrInvalidDeclaration) {
		t.Errorf("nil stage: err = %v", err)
	}
}

func TestPoolIDsInRegistrationOrder(t *testing.T) {
	t.Parallel()
	pool := pipeline.NewPool()
	for _, id := range []string{"c", "a", "b"} {
		pool.MustRegister(id, pipeline.Passthrough())
	}
	if got := strings.Join(pool.IDs(), ","); got != "c,a,b" {
		t.Errorf("IDs() = %s, want c,a,b", got)
	}
}

// ─── Linker ───────────────────────────────────────────────────────────────────

func TestLinkBindsStagesAndStubs(t *testing.T) {
	t.Parallel()
	pool := pipeline.NewPool()
	pool.MustRegister("a", prefix("A:"))
	pool.MustRegister("upper", prefix("U:"))

	g, err := pipeline.Compile(pipeline.Composite("r",
		pipeline.Plain("a").WithNext("b"),
		pipeline.Plain("b").WithUse("upper").WithNext("c"),
		pipeline.Plain("c"),
	), pool)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	for _, tc := range []struct {
		path string
		stub bool
	}{
		{"r", true}, {"r.a", false}, {"r.b", false}, {"r.c", true},
		{"r.start", true}, {"r.end", true},
	} {
		n := g.Node(tc.path)
		if n == nil {
			t.Fatalf("node %q not linked", tc.path)
		}
		if n.Stub() != tc.stub {
			t.Errorf("%s: Stub() = %v, want %v", tc.path, n.Stub(), tc.stub)
		}
		if _, ok := pool.Get(tc.path); !ok {
			t.Errorf("%s not registered in pool", tc.path)
		}
	}

	out, err := g.Node("r.b").Stage.Process(t.Context(), "x")
	if err != nil || out != "U:x" {
		t.Errorf("r.b stage = %v, %v; want U:x", out, err)
	}
}

func TestLinkScopes(t *testing.T) {
	t.Parallel()
	g, err := pipeline.Compile(pipeline.Composite("r", pipeline.Plain("a").WithNext(pipeline.RefDefault)), pipeline.NewPool())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	r := g.Entry
	if !r.Scoped() {
		t.Fatal("composite should be scoped")
	}
	if r.Start != g.Node("r.start") || r.End != g.Node("r.end") {
		t.Errorf("scope boundaries not wired")
	}
	if len(r.Next) != 1 || r.Next[0] != r.Start {
		t.Errorf("scoped node next = %v, want its start", r.Next)
	}
	if a := g.Node("r.a"); a.Scoped() || len(a.Next) != 1 || a.Next[0] != r.End {
		t.Errorf("leaf a not wired to the end boundary")
	}
	if r.Child("a") != g.Node("r.a") {
		t.Errorf("child namespace not populated")
	}
}

func TestLinkDanglingReference(t *testing.T) {
	t.Parallel()
	_, err := pipeline.Compile(pipeline.Composite("r", pipeline.Plain("a").WithNext("ghost")), pipeline.NewPool())
	if !errors.Is(err, pipeline.ErrDanglingReference) {
		t.Fatalf("err = %v, want ErrDanglingReference", err)
	}
	if !strings.Contains(err.Error(), `"ghost"`) {
		t.Errorf("error should name the reference: %v", err)
	}
}

func TestLinkUnresolved(t *testing.T) {
	t.Parallel()
	_, err := pipeline.Link(pipeline.Plain("a"), pipeline.NewPool())
	if !errors.Is(err, pipeline.ErrUnresolved) {
		t.Fatalf("err = %v, want ErrUnresolved", err)
	}
}

func TestLinkReusesPathEntry(t *testing.T) {
	t.Parallel()
	pool := pipeline.NewPool()
	pre := pool.MustRegister("r.a", prefix("pre:"))
	g, err := pipeline.Compile(pipeline.Composite("r", pipeline.Plain("a")), pool)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if g.Node("r.a") != pre {
		t.Errorf("linker created a new node instead of reusing the registered one")
	}
}

func TestLinkCrossGraphReference(t *testing.T) {
	t.Parallel()
	pool := pipeline.NewPool()
	pool.MustRegister("x", prefix("X:"))
	lib, err := pipeline.Compile(pipeline.Composite("lib", pipeline.Plain("x")), pool)
	if err != nil {
		t.Fatalf("Compile lib: %v", err)
	}
	g, err := pipeline.Compile(pipeline.Composite("main", pipeline.Plain("a").WithNext("lib.x")), pool)
	if err != nil {
		t.Fatalf("Compile main: %v", err)
	}
	if got := g.Node("main.a").Next[0]; got != lib.Node("lib.x") {
		t.Errorf("main.a -> %s, want the lib.x node", got.ID)
	}
}

func TestLinkTwiceAgainstFreshPools(t *testing.T) {
	t.Parallel()
	resolved, err := pipeline.Resolve(pipeline.Chain("c", nil, pipeline.Plain("a"), pipeline.Plain("b")))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	g1, err := pipeline.Link(resolved, pipeline.NewPool())
	if err != nil {
		t.Fatalf("Link 1: %v", err)
	}
	g2, err := pipeline.Link(resolved, pipeline.NewPool())
	if err != nil {
		t.Fatalf("Link 2: %v", err)
	}
	if g1.Entry == g2.Entry || g1.Node("c.a") == g2.Node("c.a") {
		t.Error("linking twice should produce independent graphs")
	}
	if len(g1.Nodes()) != len(g2.Nodes()) {
		t.Errorf("node counts differ: %d vs %d", len(g1.Nodes()), len(g2.Nodes()))
	}
}

func TestLinkSamePoolTwiceReusesEntries(t *testing.T) {
	t.Parallel()
	pool := pipeline.NewPool()
	d := pipeline.Composite("r", pipeline.Plain("a"))
	if _, err := pipeline.Compile(d, pool); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// The second compile reuses the already registered path entries.
	g, err := pipeline.Compile(d, pool)
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if g.Node("r.a") == nil {
		t.Error("r.a not linked on second compile")
	}
}

func TestLinkFailureLeavesPoolUntouched(t *testing.T) {
	t.Parallel()
	pool := pipeline.NewPool()
	d := pipeline.Composite("r", pipeline.Plain("walk").WithNext("missing"))
	if _, err := pipeline.Compile(d, pool); !errors.Is(err, pipeline.ErrDanglingReference) {
		t.Fatalf("err = %v, want ErrDanglingReference", err)
	}
	if pool.Len() != 0 {
		t.Fatalf("failed compile registered %v", pool.IDs())
	}

	pool.MustRegister("walk", prefix("W:"))
	rec := &recorder{}
	pool.MustRegister("missing", rec)
	g := mustCompile(t, d, pool)
	if g.Node("r.walk").Stub() {
		t.Fatal("r.walk is still a stub after its stage was registered")
	}
	if _, err := quietEngine().Run(t.Context(), g, "x"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rec.values(); len(got) != 1 || got[0] != "W:x" {
		t.Errorf("missing saw %v, want [W:x]", got)
	}
}

func TestLinkRebindsLeftoverStub(t *testing.T) {
	t.Parallel()
	pool := pipeline.NewPool()
	d := pipeline.Composite("r", pipeline.Plain("a"))
	g := mustCompile(t, d, pool)
	stub := g.Node("r.a")
	if !stub.Stub() {
		t.Fatal("r.a should start as a stub")
	}

	pool.MustRegister("a", prefix("A:"))
	g = mustCompile(t, d, pool)
	n := g.Node("r.a")
	if n != stub {
		t.Error("the registered path entry should be reused")
	}
	if n.Stub() {
		t.Fatal("r.a still a stub after registering a")
	}
	out, err := n.Stage.Process(t.Context(), "x")
	if err != nil || out != "A:x" {
		t.Errorf("Process = %v, %v; want A:x", out, err)
	}
}
