package stages

import (
	"context"
	"fmt"
	"text/template"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

// SetStage replaces the input with its rendered "value" template.
type SetStage struct {
	value *template.Template
}

func newSet(spec pipeline.StageSpec, _ Env) (pipeline.Stage, error) {
	tpl, err := parseTemplate("value", spec.Attrs["value"])
	if err != nil {
		return nil, err
	}
	return &SetStage{value: tpl}, nil
}

func (s *SetStage) Process(_ context.Context, input any) (any, error) {
	v, err := renderTemplate(s.value, input)
	if err != nil {
		return nil, fmt.Errorf("set: %w", err)
	}
	return v, nil
}
