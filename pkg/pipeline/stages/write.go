package stages

import (
	"context"
	"fmt"
	"text/template"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipegraph/pkg/resource"
)

// WriteStage renders path and content templates against the input and
// stores the content through the provider. The input is passed on.
type WriteStage struct {
	writer  resource.Writer
	path    *template.Template
	content *template.Template
}

func newWrite(spec pipeline.StageSpec, env Env) (pipeline.Stage, error) {
	w, ok := env.Provider.(resource.Writer)
	if !ok {
		return nil, fmt.Errorf("write requires a writable resource provider")
	}
	pathSrc := spec.Attrs["path"]
	if pathSrc == "" {
		return nil, fmt.Errorf("write: missing required 'path' attribute")
	}
	contentSrc := spec.Attrs["content"]
	if contentSrc == "" {
		contentSrc = "{{.Text}}"
	}
	pathTpl, err := parseTemplate("path", pathSrc)
	if err != nil {
		return nil, err
	}
	contentTpl, err := parseTemplate("content", contentSrc)
	if err != nil {
		return nil, err
	}
	return &WriteStage{writer: w, path: pathTpl, content: contentTpl}, nil
}

func (s *WriteStage) Process(ctx context.Context, input any) (any, error) {
	loc, err := renderTemplate(s.path, input)
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	content, err := renderTemplate(s.content, input)
	if err != nil {
		return nil, fmt.Errorf("write %q: %w", loc, err)
	}
	if err := s.writer.Write(ctx, loc, content); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	return input, nil
}
