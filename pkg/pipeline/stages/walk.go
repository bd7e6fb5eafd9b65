package stages

import (
	"context"
	"fmt"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipegraph/pkg/resource"
)

// WalkStage expands a container locator into the leaf locators beneath it.
// Its output is a sequence, so the nodes after it run once per leaf.
type WalkStage struct {
	provider resource.Provider
}

func newWalk(_ pipeline.StageSpec, env Env) (pipeline.Stage, error) {
	if env.Provider == nil {
		return nil, fmt.Errorf("walk requires a resource provider")
	}
	return &WalkStage{provider: env.Provider}, nil
}

func (s *WalkStage) Process(ctx context.Context, input any) (any, error) {
	loc := asString(input)
	leaves, err := s.provider.List(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", loc, err)
	}
	if leaves == nil {
		leaves = []string{}
	}
	return leaves, nil
}
