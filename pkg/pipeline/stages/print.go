package stages

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/template"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

// PrintStage writes one line per input to Out and passes the input on.
type PrintStage struct {
	format *template.Template
	mu     sync.Mutex
	out    io.Writer
}

func newPrint(spec pipeline.StageSpec, env Env) (pipeline.Stage, error) {
	src := spec.Attrs["format"]
	if src == "" {
		src = "{{.Input}}"
	}
	tpl, err := parseTemplate("format", src)
	if err != nil {
		return nil, err
	}
	return &PrintStage{format: tpl, out: env.Out}, nil
}

func (s *PrintStage) Process(_ context.Context, input any) (any, error) {
	line, err := renderTemplate(s.format, input)
	if err != nil {
		return nil, fmt.Errorf("print: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintln(s.out, line); err != nil {
		return nil, fmt.Errorf("print: %w", err)
	}
	return input, nil
}
