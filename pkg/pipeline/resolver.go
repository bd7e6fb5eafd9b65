package pipeline

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Resolve expands a declaration literal into a fully explicit tree and
// returns it; root itself is never modified.
//
// Resolution runs in two passes. The structure pass expands chains into
// ordered children, assigns every node its dotted path and adds start/end
// boundary placeholders to each node owning a sub-graph. The edge pass then
// infers start lists from fan-out policies, rewrites reserved next tokens,
// qualifies relative references and wires the boundaries, so that after
// resolution:
//
//   - every composite's Next is exactly its own start boundary;
//   - its start boundary's Next is the composite's start list;
//   - its end boundary's Next is what the composite's Next resolved to.
//
// All structural problems are reported together in a *CompileError.
func Resolve(root *Decl) (*Decl, error) {
	if root == nil {
		return nil, fmt.Errorf("resolve: %w: nil declaration", ErrInvalidDeclaration)
	}
	if root.resolved {
		return root.Clone(), nil
	}

	out := root.Clone()
	if out.ID == "" {
		out.ID = out.Key
	}
	if out.ID == "" {
		out.ID = DefaultRootID
	}

	r := &resolver{declared: make(map[string]*Decl), implicit: make(map[*Decl][]string)}
	r.structure(out, nil)
	if len(r.errs) > 0 {
		return nil, compileErr(r.errs)
	}
	r.edges(out)
	if len(r.errs) > 0 {
		return nil, compileErr(r.errs)
	}
	out.resolved = true
	return out, nil
}

type resolver struct {
	declared map[string]*Decl
	// implicit holds the successors a chain adds to its items. They merge
	// into the item's own next list without duplicating an entry.
	implicit map[*Decl][]string
	errs     []LintError
}

func (r *resolver) fail(id string, kind error, format string, args ...any) {
	r.errs = append(r.errs, LintError{NodeID: id, Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// ─── structure pass ───────────────────────────────────────────────────────────

func (r *resolver) structure(d, parent *Decl) {
	d.parent = parent
	if parent != nil {
		d.ID = d.Path()
	}
	if _, dup := r.declared[d.ID]; dup {
		r.fail(d.ID, ErrDuplicateID, "declared more than once")
		return
	}
	r.declared[d.ID] = d

	switch d.Kind {
	case KindChain:
		if !r.expandChain(d) {
			return
		}
	case KindPlain:
		if d.HasSubGraph() {
			r.fail(d.ID, ErrInvalidDeclaration, "plain node cannot own a sub-graph")
			return
		}
	}
	if len(d.Items) > 0 {
		r.fail(d.ID, ErrInvalidDeclaration, "only chains may declare items")
	}

	if !r.checkKeys(d, d.Children) {
		return
	}
	if d.HasSubGraph() {
		for _, key := range []string{StartKey, EndKey} {
			if d.Child(key) == nil {
				d.Children = append(d.Children, &Decl{Key: key, Kind: KindPlain, virtual: true})
			}
		}
	}
	for _, c := range d.Children {
		r.structure(c, d)
	}
}

// checkKeys makes a child's explicit ID its key and rejects keys that are
// missing, dotted or repeated.
func (r *resolver) checkKeys(d *Decl, children []*Decl) bool {
	ok := true
	seen := make(map[string]bool, len(children))
	for _, c := range children {
		if c.ID != "" && c.ID != c.Key {
			if strings.Contains(c.ID, ".") {
				r.fail(d.ID, ErrInvalidDeclaration, "child id %q must not contain '.'", c.ID)
				ok = false
				continue
			}
			c.Key = c.ID
		}
		switch {
		case c.Key == "":
			r.fail(d.ID, ErrInvalidDeclaration, "sub-graph child has no key")
			ok = false
		case strings.Contains(c.Key, "."):
			r.fail(d.ID, ErrInvalidDeclaration, "child key %q must not contain '.'", c.Key)
			ok = false
		case seen[c.Key]:
			r.fail(d.ID+"."+c.Key, ErrDuplicateID, "key declared more than once in the same sub-graph")
			ok = false
		}
		seen[c.Key] = true
	}
	return ok
}

// expandChain turns a chain's items into ordered children linked in series.
func (r *resolver) expandChain(d *Decl) bool {
	if len(d.Items) == 0 {
		r.fail(d.ID, ErrInvalidDeclaration, "chain has no items")
		return false
	}
	if d.HasSubGraph() {
		r.fail(d.ID, ErrInvalidDeclaration, "chain cannot also declare a sub-graph")
		return false
	}
	items := d.Items
	d.Items = nil
	for i, it := range items {
		if it.Key == "" && it.ID == "" {
			it.Key = strconv.Itoa(i)
		}
	}
	if !r.checkKeys(d, items) {
		return false
	}

	for i := 1; i < len(items); i++ {
		r.implicit[items[i-1]] = append(r.implicit[items[i-1]], d.ID+"."+items[i].Key)
	}
	last := items[len(items)-1]
	switch {
	case len(d.After) > 0:
		r.implicit[last] = append(r.implicit[last], d.After...)
	case len(last.Next) == 0:
		last.Next = []string{RefDefault}
	}
	if len(d.Next) == 0 && len(d.After) == 0 && d.parent != nil {
		d.Next = []string{RefDefault}
	}
	if d.FanOut == FanOutUnset && len(d.Start) == 0 {
		d.FanOut = FanOutFirst
	}
	d.Children = items
	return true
}

// ─── edge pass ────────────────────────────────────────────────────────────────

func (r *resolver) edges(d *Decl) {
	if !d.Virtual() {
		start := r.inferStart(d)
		next := r.resolveNext(d)
		if d.HasSubGraph() {
			if s := d.Child(StartKey); s.virtual {
				s.Next = start
			}
			if e := d.Child(EndKey); e.virtual {
				e.Next = next
			}
			d.Next = []string{d.ID + "." + StartKey}
		} else {
			if len(d.Start) > 0 {
				r.fail(d.ID, ErrInvalidDeclaration, "node without a sub-graph declares start references")
			}
			d.Next = next
		}
		d.Start = nil
	}
	for _, c := range d.Children {
		r.edges(c)
	}
}

// inferStart returns the qualified start list: the explicit one if given,
// otherwise the one derived from the fan-out policy over the child keys.
func (r *resolver) inferStart(d *Decl) []string {
	if len(d.Start) > 0 {
		var out []string
		for _, ref := range d.Start {
			switch ref {
			case "", RefNull, RefExit:
				continue
			case RefDefault, RefExitParent:
				r.fail(d.ID, ErrInvalidDeclaration, "%q is not allowed as a start reference", ref)
				continue
			}
			q := r.qualify(ref, d)
			if slices.Contains(out, q) {
				r.fail(d.ID, ErrInvalidDeclaration, "start reference %q listed more than once", ref)
				continue
			}
			out = append(out, q)
		}
		return out
	}

	var keys []string
	for _, c := range d.Children {
		if c.Key == StartKey || c.Key == EndKey {
			continue
		}
		keys = append(keys, c.Key)
	}

	var picked []string
	switch d.FanOut {
	case FanOutUnset, FanOutFirst:
		if len(keys) > 0 {
			picked = keys[:1]
		}
	case FanOutLast:
		if len(keys) > 0 {
			picked = keys[len(keys)-1:]
		}
	case FanOutBranch, FanOutDistribute, FanOutDist:
		picked = keys
	default:
		r.fail(d.ID, ErrInvalidDeclaration, "unknown fan-out policy %q", d.FanOut)
		return nil
	}

	out := make([]string, 0, len(picked))
	for _, k := range picked {
		out = append(out, d.ID+"."+k)
	}
	return out
}

// resolveNext rewrites reserved tokens and qualifies literal references,
// then merges in the successors added by chain expansion. Listing the same
// target twice is an error.
func (r *resolver) resolveNext(d *Decl) []string {
	var out []string
	for _, ref := range d.Next {
		target, ok := r.resolveRef(d, ref)
		if !ok {
			continue
		}
		if slices.Contains(out, target) {
			r.fail(d.ID, ErrInvalidDeclaration, "next reference %q listed more than once", ref)
			continue
		}
		out = append(out, target)
	}
	for _, ref := range r.implicit[d] {
		if target, ok := r.resolveRef(d, ref); ok && !slices.Contains(out, target) {
			out = append(out, target)
		}
	}
	return out
}

func (r *resolver) resolveRef(d *Decl, ref string) (string, bool) {
	switch ref {
	case "", RefNull, RefExit:
		return "", false
	case RefDefault:
		if d.parent == nil {
			r.fail(d.ID, ErrInvalidDeclaration, "cannot resolve %q: node has no parent", ref)
			return "", false
		}
		return d.parent.ID + "." + EndKey, true
	case RefExitParent:
		if d.parent == nil || d.parent.parent == nil {
			r.fail(d.ID, ErrInvalidDeclaration, "cannot resolve %q: node has no grandparent", ref)
			return "", false
		}
		return d.parent.parent.ID + "." + EndKey, true
	}
	return r.qualify(ref, d.parent), true
}

// qualify maps a literal reference to a declared path, looking in the
// nearest enclosing scope first and widening outward. A reference that names
// a declared path absolutely is kept; anything else is left verbatim for the
// linker to find in the pool.
func (r *resolver) qualify(ref string, scope *Decl) string {
	for s := scope; s != nil; s = s.parent {
		if c, ok := r.declared[s.ID+"."+ref]; ok {
			return c.ID
		}
	}
	return ref
}
