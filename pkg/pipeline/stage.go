package pipeline

import "context"

// Stage transforms the value arriving at a node.
// Implementations live in the stages sub-package; the interface is defined
// here so that the engine can use it without an import cycle.
type Stage interface {
	// Process returns the value handed to the node's next targets. It may
	// block and must honour ctx.
	Process(ctx context.Context, input any) (any, error)
}

// Guard is implemented by stages that only apply to some inputs. A false
// result makes the node transparent for that input; it is not an error.
type Guard interface {
	Accepts(ctx context.Context, input any) bool
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc func(ctx context.Context, input any) (any, error)

func (f StageFunc) Process(ctx context.Context, input any) (any, error) { return f(ctx, input) }

// GuardFunc adapts a plain predicate to the Guard interface.
type GuardFunc func(ctx context.Context, input any) bool

func (f GuardFunc) Accepts(ctx context.Context, input any) bool { return f(ctx, input) }

// NewStage combines a transform and an optional guard. A nil process passes
// input through; a nil guard accepts everything.
func NewStage(process StageFunc, guard GuardFunc) Stage {
	if process == nil {
		process = passthrough
	}
	if guard == nil {
		return process
	}
	return guardedStage{process: process, guard: guard}
}

// Passthrough returns a stage that hands its input on unchanged. The linker
// binds it to declared nodes that have no registered stage.
func Passthrough() Stage { return StageFunc(passthrough) }

func passthrough(_ context.Context, input any) (any, error) { return input, nil }

type guardedStage struct {
	process StageFunc
	guard   GuardFunc
}

func (s guardedStage) Process(ctx context.Context, input any) (any, error) {
	return s.process(ctx, input)
}

func (s guardedStage) Accepts(ctx context.Context, input any) bool {
	return s.guard(ctx, input)
}

// accepts evaluates s's guard, defaulting to true.
func accepts(ctx context.Context, s Stage, input any) bool {
	g, ok := s.(Guard)
	if !ok {
		return true
	}
	return g.Accepts(ctx, input)
}
