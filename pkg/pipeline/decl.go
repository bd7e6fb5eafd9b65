package pipeline

import (
	"slices"
	"strings"
)

// Kind tags the shape of a declaration. It is fixed when the declaration is
// built or parsed and never re-derived from field contents.
type Kind int

const (
	// KindPlain is a bare stage reference with no sub-graph.
	KindPlain Kind = iota
	// KindChain holds ordered items that are linked in series.
	KindChain
	// KindComposite owns a keyed sub-graph.
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindChain:
		return "chain"
	case KindComposite:
		return "composite"
	}
	return "unknown"
}

// FanOut selects which children a composite enters when no explicit start
// list is declared.
type FanOut string

const (
	FanOutUnset      FanOut = ""
	FanOutBranch     FanOut = "branch"
	FanOutDistribute FanOut = "distribute"
	FanOutDist       FanOut = "dist"
	FanOutFirst      FanOut = "first"
	FanOutLast       FanOut = "last"
)

// Reserved next-reference tokens. None of them survives resolution.
const (
	RefDefault    = "default"
	RefExit       = "exit"
	RefExitParent = "exitparent"
	RefNull       = "null"
)

// Keys of the synthesized scope boundaries.
const (
	StartKey = "start"
	EndKey   = "end"
)

// DefaultRootID names a root declaration that was given no ID.
const DefaultRootID = "root"

// Decl is the author-facing description of one stage's wiring.
//
// Before resolution ID is optional and Key is the name under which the node
// sits in its parent's sub-graph. After resolution ID is the full dotted path
// and Start is empty: composite nodes point at their own start boundary.
type Decl struct {
	ID     string
	Key    string
	Kind   Kind
	Use    string // pool entry whose stage this node binds; defaults to Key
	Start  []string
	FanOut FanOut
	Next   []string

	// Children is the ordered sub-graph of a composite (and of a chain, once
	// expanded). Order drives the first/last fan-out policies.
	Children []*Decl

	// Items and After are only meaningful for KindChain before resolution.
	Items []*Decl
	After []string

	parent   *Decl
	virtual  bool
	resolved bool
}

// Plain declares a bare stage reference.
func Plain(key string) *Decl {
	return &Decl{Key: key, Kind: KindPlain}
}

// Chain declares items that are linked in series. after, when non-empty, is
// where the terminal item continues; otherwise it ends at the chain's own end
// boundary.
func Chain(key string, after []string, items ...*Decl) *Decl {
	return &Decl{Key: key, Kind: KindChain, Items: items, After: after}
}

// Composite declares a node owning the given children in order.
func Composite(key string, children ...*Decl) *Decl {
	return &Decl{Key: key, Kind: KindComposite, Children: children}
}

// WithNext sets the next references and returns d.
func (d *Decl) WithNext(refs ...string) *Decl {
	d.Next = refs
	return d
}

// WithStart sets explicit start references and returns d.
func (d *Decl) WithStart(refs ...string) *Decl {
	d.Start = refs
	return d
}

// WithFanOut sets the fan-out policy and returns d.
func (d *Decl) WithFanOut(f FanOut) *Decl {
	d.FanOut = f
	return d
}

// WithUse binds d to a differently named pool entry and returns d.
func (d *Decl) WithUse(id string) *Decl {
	d.Use = id
	return d
}

// Parent returns the enclosing declaration. It is only set on resolved trees.
func (d *Decl) Parent() *Decl { return d.parent }

// Virtual reports whether the node is a synthesized start or end boundary.
func (d *Decl) Virtual() bool { return d.virtual }

// Resolved reports whether d is the root of a tree produced by Resolve.
func (d *Decl) Resolved() bool { return d.resolved }

// HasSubGraph reports whether d owns at least one child.
func (d *Decl) HasSubGraph() bool { return len(d.Children) > 0 }

// Child returns the direct child with the given key.
func (d *Decl) Child(key string) *Decl {
	for _, c := range d.Children {
		if c.Key == key {
			return c
		}
	}
	return nil
}

// Path computes the dotted path of d by walking parent references to the root.
func (d *Decl) Path() string {
	var parts []string
	for cur := d; cur != nil; cur = cur.parent {
		if cur.ID != "" && cur.parent == nil {
			parts = append(parts, cur.ID)
			continue
		}
		if cur.Key != "" {
			parts = append(parts, cur.Key)
		}
	}
	slices.Reverse(parts)
	return strings.Join(parts, ".")
}

// Walk visits d and every descendant in pre-order.
func (d *Decl) Walk(fn func(*Decl)) {
	fn(d)
	for _, c := range d.Children {
		c.Walk(fn)
	}
}

// Clone returns a deep copy of d without parent references.
func (d *Decl) Clone() *Decl {
	if d == nil {
		return nil
	}
	c := &Decl{
		ID:       d.ID,
		Key:      d.Key,
		Kind:     d.Kind,
		Use:      d.Use,
		Start:    slices.Clone(d.Start),
		FanOut:   d.FanOut,
		Next:     slices.Clone(d.Next),
		After:    slices.Clone(d.After),
		virtual:  d.virtual,
		resolved: d.resolved,
	}
	for _, ch := range d.Children {
		cc := ch.Clone()
		c.Children = append(c.Children, cc)
	}
	for _, it := range d.Items {
		c.Items = append(c.Items, it.Clone())
	}
	if d.resolved {
		relink(c, nil)
	}
	return c
}

func relink(d, parent *Decl) {
	d.parent = parent
	for _, c := range d.Children {
		relink(c, d)
	}
}
