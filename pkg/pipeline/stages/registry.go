package stages

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipegraph/pkg/resource"
)

// Env carries the collaborators stages are built with.
type Env struct {
	Provider resource.Provider
	Out      io.Writer
}

// Factory builds a stage from its configuration. Attributes are validated
// here, once, rather than on every input.
type Factory func(spec pipeline.StageSpec, env Env) (pipeline.Stage, error)

// Registry maps stage types to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtin returns a Registry holding every built-in stage type.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("print", newPrint)
	r.Register("walk", newWalk)
	r.Register("read", newRead)
	r.Register("write", newWrite)
	r.Register("set", newSet)
	r.Register("string_transform", newStringTransform)
	r.Register("regex", newRegex)
	r.Register("split", newSplit)
	r.Register("json_decode", newJSONDecode)
	r.Register("json_extract", newJSONExtract)
	return r
}

// Register associates a factory with a stage type.
func (r *Registry) Register(stageType string, f Factory) {
	r.factories[stageType] = f
}

// Types returns the registered stage types, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build constructs the stage described by spec, wrapped in the guard its
// match/when/accepts attributes describe.
func (r *Registry) Build(spec pipeline.StageSpec, env Env) (pipeline.Stage, error) {
	f, ok := r.factories[spec.Type]
	if !ok {
		return nil, fmt.Errorf("stage %q: no factory registered for type %q", spec.ID, spec.Type)
	}
	if env.Out == nil {
		env.Out = os.Stdout
	}
	s, err := f(spec, env)
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", spec.ID, err)
	}
	g, err := buildGuard(spec, env)
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", spec.ID, err)
	}
	if g == nil {
		return s, nil
	}
	return &guarded{Stage: s, guard: g}, nil
}

// Populate builds every spec and registers it in pool under its id.
func (r *Registry) Populate(pool *pipeline.Pool, specs []pipeline.StageSpec, env Env) error {
	for _, spec := range specs {
		s, err := r.Build(spec, env)
		if err != nil {
			return err
		}
		if _, err := pool.Register(spec.ID, s); err != nil {
			return err
		}
	}
	return nil
}
