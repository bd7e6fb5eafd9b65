package pipeline_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

func TestValidateClean(t *testing.T) {
	t.Parallel()
	if errs := pipeline.Validate(branchGraph(t)); len(errs) != 0 {
		t.Errorf("unexpected findings: %v", errs)
	}
	if err := pipeline.ValidateErr(branchGraph(t)); err != nil {
		t.Errorf("ValidateErr: %v", err)
	}
}

func TestValidateUnreachable(t *testing.T) {
	t.Parallel()
	g := mustCompile(t, pipeline.Composite("r",
		pipeline.Plain("a").WithNext(pipeline.RefDefault),
		pipeline.Plain("b").WithNext(pipeline.RefDefault),
	), pipeline.NewPool())

	errs := pipeline.Validate(g)
	if len(errs) != 1 || errs[0].NodeID != "r.b" || !errors.Is(errs[0], pipeline.ErrUnreachable) {
		t.Errorf("findings = %v, want r.b unreachable", errs)
	}
}

func TestValidateOpenScope(t *testing.T) {
	t.Parallel()
	g := mustCompile(t, pipeline.Composite("r", pipeline.Plain("a").WithNext(pipeline.RefExit)), pipeline.NewPool())

	var open, unreachable bool
	for _, e := range pipeline.Validate(g) {
		switch {
		case errors.Is(e, pipeline.ErrOpenScope) && e.NodeID == "r":
			open = true
		case errors.Is(e, pipeline.ErrUnreachable) && e.NodeID == "r.end":
			unreachable = true
		}
	}
	if !open || !unreachable {
		t.Errorf("expected open scope on r and unreachable r.end")
	}
	err := pipeline.ValidateErr(g)
	if err == nil || !strings.HasPrefix(err.Error(), "pipeline validation failed:") {
		t.Errorf("ValidateErr = %v", err)
	}
}

func TestCompileErrorMessage(t *testing.T) {
	t.Parallel()
	_, err := pipeline.Resolve(pipeline.Plain("solo").WithNext(pipeline.RefDefault))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "pipeline compilation failed:") || !strings.Contains(msg, `"solo"`) {
		t.Errorf("message should name the node: %s", msg)
	}
}
