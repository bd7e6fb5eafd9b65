package stages

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

// defaultAccepts is the accepts policy of stage types that only make sense
// for existing resources.
var defaultAccepts = map[string]string{
	"walk": "resource",
	"read": "resource",
}

// guarded attaches a configured guard to a stage.
type guarded struct {
	pipeline.Stage
	guard func(ctx context.Context, input any) bool
}

func (g *guarded) Accepts(ctx context.Context, input any) bool {
	if inner, ok := g.Stage.(pipeline.Guard); ok && !inner.Accepts(ctx, input) {
		return false
	}
	return g.guard(ctx, input)
}

// buildGuard combines the match, when and accepts attributes into one
// predicate. It returns nil when none applies. A sequence is accepted only if
// every element is.
func buildGuard(spec pipeline.StageSpec, env Env) (func(context.Context, any) bool, error) {
	var preds []func(context.Context, any) bool

	if pattern := spec.Attrs["match"]; pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid match pattern: %w", err)
		}
		preds = append(preds, func(_ context.Context, in any) bool {
			return re.MatchString(asString(in))
		})
	}

	if expr := spec.Attrs["when"]; expr != "" {
		cond, err := CompileCondition(expr)
		if err != nil {
			return nil, err
		}
		preds = append(preds, func(_ context.Context, in any) bool {
			return cond.Eval(in)
		})
	}

	accepts, ok := spec.Attrs["accepts"]
	if !ok {
		accepts = defaultAccepts[spec.Type]
	}
	switch accepts {
	case "", "any":
	case "string":
		preds = append(preds, func(_ context.Context, in any) bool {
			_, ok := in.(string)
			return ok
		})
	case "locator", "resource":
		if env.Provider == nil {
			return nil, fmt.Errorf("accepts %q requires a resource provider", accepts)
		}
		mustExist := accepts == "resource"
		p := env.Provider
		preds = append(preds, func(ctx context.Context, in any) bool {
			s, ok := in.(string)
			if !ok || !p.IsLocator(s) {
				return false
			}
			return !mustExist || p.Exists(ctx, s)
		})
	default:
		return nil, fmt.Errorf("unknown accepts policy %q (supported: any, string, locator, resource)", accepts)
	}

	if len(preds) == 0 {
		return nil, nil
	}
	check := func(ctx context.Context, in any) bool {
		for _, p := range preds {
			if !p(ctx, in) {
				return false
			}
		}
		return true
	}
	return func(ctx context.Context, in any) bool {
		items, ok := pipeline.Elements(in)
		if !ok {
			return check(ctx, in)
		}
		for _, it := range items {
			if !check(ctx, it) {
				return false
			}
		}
		return true
	}, nil
}
