package stages

import (
	"context"
	"fmt"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipegraph/pkg/resource"
)

// ReadStage replaces a locator with the content it addresses. With
// required=false absent content becomes the empty string instead of a
// failure.
type ReadStage struct {
	provider resource.Provider
	required bool
}

func newRead(spec pipeline.StageSpec, env Env) (pipeline.Stage, error) {
	if env.Provider == nil {
		return nil, fmt.Errorf("read requires a resource provider")
	}
	required, err := boolAttr(spec.Attrs, "required", true)
	if err != nil {
		return nil, err
	}
	return &ReadStage{provider: env.Provider, required: required}, nil
}

func (s *ReadStage) Process(ctx context.Context, input any) (any, error) {
	loc := asString(input)
	content, ok := s.provider.Read(ctx, loc)
	if !ok {
		if !s.required {
			return "", nil
		}
		return nil, fmt.Errorf("read: no content at %q", loc)
	}
	return content, nil
}
