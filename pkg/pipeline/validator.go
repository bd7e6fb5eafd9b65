package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Structural error kinds. A LintError unwraps to one of these, so callers can
// test a compile failure with errors.Is.
var (
	ErrInvalidDeclaration = errors.New("invalid declaration")
	ErrDuplicateID        = errors.New("duplicate identifier")
	ErrDanglingReference  = errors.New("dangling reference")
	ErrUnresolved         = errors.New("declaration is not resolved")
	ErrUnreachable        = errors.New("unreachable node")
	ErrOpenScope          = errors.New("scope end is unreachable")
)

// LintError describes a structural problem in a declaration or linked graph.
type LintError struct {
	NodeID  string
	Kind    error
	Message string
}

func (e LintError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

func (e LintError) Unwrap() error { return e.Kind }

// CompileError aggregates every LintError found while resolving or linking.
// No graph is ever returned alongside it.
type CompileError struct {
	Errs []LintError
}

func (e *CompileError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, le := range e.Errs {
		msgs[i] = le.Error()
	}
	return fmt.Sprintf("pipeline compilation failed:\n  %s", strings.Join(msgs, "\n  "))
}

func (e *CompileError) Unwrap() []error {
	errs := make([]error, len(e.Errs))
	for i, le := range e.Errs {
		errs[i] = le
	}
	return errs
}

func compileErr(errs []LintError) error {
	if len(errs) == 0 {
		return nil
	}
	return &CompileError{Errs: errs}
}

// Validate reports authoring smells in a linked graph that do not prevent
// execution: nodes unreachable from the entry, and scopes whose end boundary
// cannot be reached from their start boundary (such a scope always yields nil).
// Returns all findings, not just the first.
func Validate(g *Graph) []LintError {
	if g == nil || g.Entry == nil {
		return []LintError{{Kind: ErrInvalidDeclaration, Message: "graph has no entry node"}}
	}
	var errs []LintError

	reachable := reachableFrom(g.Entry)
	for _, n := range g.Nodes() {
		if !reachable[n] {
			errs = append(errs, LintError{NodeID: n.ID, Kind: ErrUnreachable, Message: "node is not reachable from the entry"})
		}
	}

	for _, n := range g.Nodes() {
		if !n.Scoped() || !reachable[n] {
			continue
		}
		if !reachableFrom(n.Start)[n.End] {
			errs = append(errs, LintError{NodeID: n.ID, Kind: ErrOpenScope, Message: fmt.Sprintf("no path from %q to %q", n.Start.ID, n.End.ID)})
		}
	}
	return errs
}

// ValidateErr calls Validate and returns nil if there are no findings, or a
// combined error listing them.
func ValidateErr(g *Graph) error {
	errs := Validate(g)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("pipeline validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

// reachableFrom returns the set of nodes reachable from start, following both
// next edges and scope entry.
func reachableFrom(start *Node) map[*Node]bool {
	visited := map[*Node]bool{}
	queue := []*Node{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == nil || visited[cur] {
			continue
		}
		visited[cur] = true
		queue = append(queue, cur.Next...)
		if cur.Scoped() {
			queue = append(queue, cur.Start)
		}
	}
	return visited
}
