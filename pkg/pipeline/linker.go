package pipeline

import (
	"fmt"
	"log/slog"
)

// Compile resolves root and links the result against pool.
func Compile(root *Decl, pool *Pool) (*Graph, error) {
	resolved, err := Resolve(root)
	if err != nil {
		return nil, err
	}
	return Link(resolved, pool)
}

// Link turns a resolved declaration into a linked node graph backed by pool.
//
// Every declared path gets a node: the pool entry registered under that exact
// path if there is one, otherwise a new node bound to the stage registered
// under the declaration's Use (or local key), otherwise a passthrough stub.
// A pool entry left behind as a stub by an earlier link is rebound once the
// stage it names has been registered. Next references become live edges; a
// reference naming neither a declared path nor a pool entry is a dangling
// reference.
//
// New nodes are registered in pool under their full path only after every
// edge has been connected. On error nothing is returned and pool is left as
// it was. The declaration is not modified, so the same tree can be linked
// again to obtain another graph.
func Link(resolved *Decl, pool *Pool) (*Graph, error) {
	if resolved == nil {
		return nil, fmt.Errorf("link: %w: nil declaration", ErrInvalidDeclaration)
	}
	if pool == nil {
		return nil, fmt.Errorf("link: pool must not be nil")
	}
	if !resolved.resolved {
		return nil, fmt.Errorf("link %q: %w", resolved.ID, ErrUnresolved)
	}

	l := &linker{pool: pool, byPath: make(map[string]*staged)}
	resolved.Walk(l.bind)
	if len(l.errs) > 0 {
		return nil, compileErr(l.errs)
	}
	resolved.Walk(l.connect)
	if len(l.errs) > 0 {
		return nil, compileErr(l.errs)
	}
	if err := l.commit(); err != nil {
		return nil, compileErr([]LintError{{NodeID: resolved.ID, Kind: ErrDuplicateID, Message: err.Error()}})
	}

	nodes := make([]*Node, len(l.order))
	for i, s := range l.order {
		nodes[i] = s.node
	}
	g := &Graph{
		Entry:    l.byPath[resolved.ID].node,
		Pool:     pool,
		Resolved: resolved,
		nodes:    nodes,
	}
	slog.Debug("graph linked", "entry", g.Entry.ID, "nodes", len(g.nodes), "pool", pool.Len())
	return g, nil
}

// staged holds everything Link will write to one node once linking succeeds.
type staged struct {
	node  *Node
	fresh bool
	// stage replaces the stage of a reused node; nil keeps the node's own.
	stage Stage
	stub  bool
	owner *staged
	key   string

	next       []*Node
	scope      bool
	start, end *Node
}

type linker struct {
	pool   *Pool
	byPath map[string]*staged
	order  []*staged
	errs   []LintError
}

func (l *linker) fail(id string, kind error, format string, args ...any) {
	l.errs = append(l.errs, LintError{NodeID: id, Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// bind stages the node for one declared path.
func (l *linker) bind(d *Decl) {
	if len(d.Start) > 0 {
		l.fail(d.ID, ErrUnresolved, "linked declarations must not carry start references")
		return
	}
	name := d.Use
	if name == "" {
		name = d.Key
	}
	src, found := l.lookupStage(name, d)

	s := &staged{key: d.Key}
	if n, ok := l.pool.Get(d.ID); ok {
		s.node = n
		switch {
		case n.stub && found:
			s.stage = src.Stage
		case n.Stage == nil:
			s.stage, s.stub = Passthrough(), true
		}
	} else {
		s.node = &Node{ID: d.ID, Stage: Passthrough(), stub: true}
		s.fresh = true
		if found {
			s.node.Stage = src.Stage
			s.node.stub = false
		}
	}
	if p := d.Parent(); p != nil {
		s.owner = l.byPath[p.ID]
	}
	l.byPath[d.ID] = s
	l.order = append(l.order, s)
}

func (l *linker) lookupStage(name string, d *Decl) (*Node, bool) {
	if name == "" || d.Virtual() {
		return nil, false
	}
	src, ok := l.pool.Lookup(name)
	if !ok || src.Stage == nil || src.stub {
		return nil, false
	}
	return src, true
}

// connect resolves live edges and scope boundaries.
func (l *linker) connect(d *Decl) {
	s := l.byPath[d.ID]
	for _, ref := range d.Next {
		var target *Node
		if t, ok := l.byPath[ref]; ok {
			target = t.node
		} else if n, ok := l.pool.Lookup(ref); ok {
			target = n
		} else {
			l.fail(d.ID, ErrDanglingReference, "next reference %q matches no declared node or pool entry", ref)
			continue
		}
		s.next = append(s.next, target)
	}
	if d.HasSubGraph() {
		s.scope = true
		if b, ok := l.byPath[d.ID+"."+StartKey]; ok {
			s.start = b.node
		}
		if b, ok := l.byPath[d.ID+"."+EndKey]; ok {
			s.end = b.node
		}
	}
}

// commit registers the new nodes and writes the staged state.
func (l *linker) commit() error {
	var fresh []*Node
	for _, s := range l.order {
		if s.fresh {
			fresh = append(fresh, s.node)
		}
	}
	if err := l.pool.addAll(fresh); err != nil {
		return err
	}
	for _, s := range l.order {
		n := s.node
		if s.stage != nil {
			n.Stage, n.stub = s.stage, s.stub
		}
		n.Next = s.next
		if s.scope {
			n.Start, n.End = s.start, s.end
			n.scoped = n.Start != nil && n.End != nil
		}
		if s.owner != nil {
			s.owner.node.addChild(s.key, n)
		}
	}
	return nil
}
