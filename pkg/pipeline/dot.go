package pipeline

import (
	"fmt"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// RenderDOT renders a linked graph as a Graphviz digraph. Each scope becomes a
// cluster holding its sub-graph; boundary nodes are drawn as points and
// stubs dashed. Edges to pool entries outside the declaration are included.
func RenderDOT(g *Graph, name string) (string, error) {
	if g == nil || g.Entry == nil {
		return "", fmt.Errorf("graph must not be nil")
	}
	if name == "" {
		name = g.Entry.ID
	}

	out := gographviz.NewGraph()
	if err := out.SetName(dotQuote(name)); err != nil {
		return "", err
	}
	if err := out.SetDir(true); err != nil {
		return "", err
	}

	// A node's cluster is that of its declaring scope.
	parentOf := make(map[string]string)
	if g.Resolved != nil {
		g.Resolved.Walk(func(d *Decl) {
			if p := d.Parent(); p != nil {
				parentOf[d.ID] = p.ID
			}
		})
	}
	clusterOf := func(id string) string {
		if p, ok := parentOf[id]; ok {
			return clusterName(p)
		}
		return dotQuote(name)
	}

	declared := make(map[*Node]bool)
	for _, n := range g.Nodes() {
		declared[n] = true
		if n.Scoped() {
			attrs := map[string]string{"label": dotQuote(n.ID)}
			if err := out.AddSubGraph(clusterOf(n.ID), clusterName(n.ID), attrs); err != nil {
				return "", fmt.Errorf("cluster %q: %w", n.ID, err)
			}
		}
	}

	for _, n := range g.Nodes() {
		if err := out.AddNode(clusterOf(n.ID), dotQuote(n.ID), nodeAttrs(n)); err != nil {
			return "", fmt.Errorf("node %q: %w", n.ID, err)
		}
	}
	for _, n := range g.Nodes() {
		for _, next := range n.Next {
			if !declared[next] {
				declared[next] = true
				attrs := map[string]string{"shape": "box"}
				if err := out.AddNode(dotQuote(name), dotQuote(next.ID), attrs); err != nil {
					return "", fmt.Errorf("node %q: %w", next.ID, err)
				}
			}
			if err := out.AddEdge(dotQuote(n.ID), dotQuote(next.ID), true, nil); err != nil {
				return "", fmt.Errorf("edge %q->%q: %w", n.ID, next.ID, err)
			}
		}
	}
	return out.String(), nil
}

func nodeAttrs(n *Node) map[string]string {
	attrs := map[string]string{}
	key := n.ID[strings.LastIndex(n.ID, ".")+1:]
	switch {
	case key == StartKey || key == EndKey:
		attrs["shape"] = "point"
		attrs["xlabel"] = dotQuote(key)
	case n.Stub():
		attrs["style"] = "dashed"
		attrs["label"] = dotQuote(key)
	default:
		attrs["label"] = dotQuote(key)
	}
	return attrs
}

func clusterName(id string) string {
	return dotQuote("cluster_" + id)
}

// dotQuote returns s as a quoted DOT ID.
func dotQuote(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
