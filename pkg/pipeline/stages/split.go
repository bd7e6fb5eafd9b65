package stages

import (
	"context"
	"strings"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

// SplitStage splits its input by a separator. The result is a sequence, so
// the nodes after it run once per part.
type SplitStage struct {
	sep  string
	trim bool
}

func newSplit(spec pipeline.StageSpec, _ Env) (pipeline.Stage, error) {
	sep := spec.Attrs["sep"]
	if sep == "" {
		sep = "\n"
	}
	trim, err := boolAttr(spec.Attrs, "trim", false)
	if err != nil {
		return nil, err
	}
	return &SplitStage{sep: sep, trim: trim}, nil
}

func (s *SplitStage) Process(_ context.Context, input any) (any, error) {
	parts := strings.Split(asString(input), s.sep)
	if s.trim {
		filtered := parts[:0]
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				filtered = append(filtered, t)
			}
		}
		parts = filtered
	}
	return parts, nil
}
