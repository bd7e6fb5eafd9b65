package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

// StringTransformStage applies a chain of string operations to its input.
type StringTransformStage struct {
	ops            []string
	oldStr, newStr string
}

func newStringTransform(spec pipeline.StageSpec, _ Env) (pipeline.Stage, error) {
	opsAttr := spec.Attrs["ops"]
	if opsAttr == "" {
		return nil, fmt.Errorf("string_transform: missing 'ops' attribute")
	}
	s := &StringTransformStage{oldStr: spec.Attrs["old"], newStr: spec.Attrs["new"]}
	for _, op := range strings.Split(opsAttr, ",") {
		op = strings.TrimSpace(op)
		switch op {
		case "trim", "upper", "lower":
		case "replace":
			if s.oldStr == "" {
				return nil, fmt.Errorf("string_transform: op 'replace' needs a non-empty 'old' attribute")
			}
		default:
			return nil, fmt.Errorf("string_transform: unknown op %q (supported: trim, upper, lower, replace)", op)
		}
		s.ops = append(s.ops, op)
	}
	return s, nil
}

func (s *StringTransformStage) Process(_ context.Context, input any) (any, error) {
	val := asString(input)
	for _, op := range s.ops {
		switch op {
		case "trim":
			val = strings.TrimSpace(val)
		case "upper":
			val = strings.ToUpper(val)
		case "lower":
			val = strings.ToLower(val)
		case "replace":
			val = strings.ReplaceAll(val, s.oldStr, s.newStr)
		}
	}
	return val, nil
}
