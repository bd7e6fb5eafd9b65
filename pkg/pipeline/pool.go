package pipeline

import (
	"fmt"
	"strings"
	"sync"
)

// Pool maps stage identifiers to live nodes. Identifiers are unique; nested
// stages are keyed by their full dotted path so sibling sub-graphs never
// collide.
type Pool struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
}

// NewPool creates an empty Pool.
func NewPool() *Pool {
	return &Pool{nodes: make(map[string]*Node)}
}

// Register adds a stage under id. Registering an id twice fails and leaves
// the first entry untouched.
func (p *Pool) Register(id string, s Stage) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("register: %w: empty identifier", ErrInvalidDeclaration)
	}
	if s == nil {
		return nil, fmt.Errorf("register %q: %w: stage must not be nil", id, ErrInvalidDeclaration)
	}
	n := &Node{ID: id, Stage: s}
	if err := p.add(n); err != nil {
		return nil, err
	}
	return n, nil
}

// MustRegister is like Register but panics on error. Intended for static
// wiring in tests and main packages.
func (p *Pool) MustRegister(id string, s Stage) *Node {
	n, err := p.Register(id, s)
	if err != nil {
		panic(err)
	}
	return n
}

func (p *Pool) add(n *Node) error {
	return p.addAll([]*Node{n})
}

// addAll registers nodes together: if any identifier is taken, none are added.
func (p *Pool) addAll(nodes []*Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if _, ok := p.nodes[n.ID]; ok || seen[n.ID] {
			return fmt.Errorf("register %q: %w", n.ID, ErrDuplicateID)
		}
		seen[n.ID] = true
	}
	for _, n := range nodes {
		p.nodes[n.ID] = n
		p.order = append(p.order, n.ID)
	}
	return nil
}

// Get returns the entry registered under exactly id.
func (p *Pool) Get(id string) (*Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[id]
	return n, ok
}

// Lookup resolves id exactly, then as a dotted path descending through the
// child namespaces of the entry named by its first segment.
func (p *Pool) Lookup(id string) (*Node, bool) {
	if n, ok := p.Get(id); ok {
		return n, true
	}
	head, rest, found := strings.Cut(id, ".")
	if !found {
		return nil, false
	}
	cur, ok := p.Get(head)
	if !ok {
		return nil, false
	}
	for _, key := range strings.Split(rest, ".") {
		cur = cur.Child(key)
		if cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// IDs returns every identifier in registration order.
func (p *Pool) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// Len returns the number of entries.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nodes)
}
