package pipeline

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StageSpec is the configuration of one pool entry as written in a pipeline
// document. Type selects a stage factory; Attrs are passed to it verbatim.
type StageSpec struct {
	ID    string
	Type  string
	Attrs map[string]string
}

// Document is a parsed pipeline file.
type Document struct {
	Name   string
	Stages []StageSpec
	Root   *Decl
}

// ParseDocument parses a YAML pipeline document:
//
//	name: site
//	stages:
//	  walk:  { type: walk }
//	  print: { type: print, format: "{{.Input}}" }
//	pipeline:
//	  fanout: branch
//	  graph:
//	    dir: [walk, print]
//
// Mapping order is preserved, which the first/last fan-out policies rely on.
func ParseDocument(src []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return nil, fmt.Errorf("yaml parse error: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("empty pipeline document")
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: pipeline document must be a mapping", top.Line)
	}

	doc := &Document{}
	for i := 0; i+1 < len(top.Content); i += 2 {
		k, v := top.Content[i], top.Content[i+1]
		switch k.Value {
		case "name":
			doc.Name = v.Value
		case "stages":
			specs, err := decodeStages(v)
			if err != nil {
				return nil, err
			}
			doc.Stages = specs
		case "pipeline":
			d, err := decodeDecl(v, "", false)
			if err != nil {
				return nil, err
			}
			doc.Root = d
		default:
			return nil, fmt.Errorf("line %d: unknown top-level field %q", k.Line, k.Value)
		}
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("pipeline document has no 'pipeline' section")
	}
	if doc.Root.ID == "" && doc.Root.Key == "" {
		doc.Root.ID = doc.Name
	}
	return doc, nil
}

// ParseDecl parses a bare declaration literal (the 'pipeline' section alone).
func ParseDecl(src []byte) (*Decl, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return nil, fmt.Errorf("yaml parse error: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("empty declaration")
	}
	return decodeDecl(root.Content[0], "", false)
}

// ─── stages ───────────────────────────────────────────────────────────────────

func decodeStages(n *yaml.Node) ([]StageSpec, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: 'stages' must be a mapping of id to stage", n.Line)
	}
	var specs []StageSpec
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		spec := StageSpec{ID: k.Value, Attrs: make(map[string]string)}
		switch v.Kind {
		case yaml.ScalarNode:
			// Shorthand: `print: print` binds the id to a stage type.
			spec.Type = v.Value
		case yaml.MappingNode:
			for j := 0; j+1 < len(v.Content); j += 2 {
				ak, av := v.Content[j], v.Content[j+1]
				if av.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("line %d: stage %q: attribute %q must be a scalar", av.Line, spec.ID, ak.Value)
				}
				if ak.Value == "type" {
					spec.Type = av.Value
					continue
				}
				spec.Attrs[ak.Value] = av.Value
			}
		default:
			return nil, fmt.Errorf("line %d: stage %q must be a mapping", v.Line, spec.ID)
		}
		if spec.Type == "" {
			return nil, fmt.Errorf("line %d: stage %q has no type", v.Line, spec.ID)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ─── declarations ─────────────────────────────────────────────────────────────

// decodeDecl converts one YAML value into a declaration. key is the mapping
// key the value sits under ("" for the root and chain items). In a sub-graph
// a scalar value is the child's next reference and a sequence is a chain; as
// a chain item a scalar is the item's key.
func decodeDecl(n *yaml.Node, key string, chainItem bool) (*Decl, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if chainItem {
			if isNull(n) || n.Value == "" {
				return nil, fmt.Errorf("line %d: chain item must not be empty", n.Line)
			}
			return Plain(n.Value), nil
		}
		d := Plain(key)
		if !isNull(n) && n.Value != "" {
			d.Next = []string{n.Value}
		}
		return d, nil

	case yaml.SequenceNode:
		items, err := decodeItems(n)
		if err != nil {
			return nil, err
		}
		return Chain(key, nil, items...), nil

	case yaml.MappingNode:
		return decodeMapping(n, key)
	}
	return nil, fmt.Errorf("line %d: unsupported declaration of kind %v", n.Line, n.Kind)
}

func decodeMapping(n *yaml.Node, key string) (*Decl, error) {
	d := &Decl{Key: key, Kind: KindPlain}
	var graph, items *yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		var err error
		switch k.Value {
		case "id":
			d.ID = v.Value
		case "use":
			d.Use = v.Value
		case "fanout", "type":
			d.FanOut = FanOut(strings.ToLower(v.Value))
		case "start":
			d.Start, err = decodeRefs(v)
		case "next":
			d.Next, err = decodeRefs(v)
		case "after":
			d.After, err = decodeRefs(v)
		case "graph":
			graph = v
		case "items":
			items = v
		default:
			return nil, fmt.Errorf("line %d: unknown declaration field %q", k.Line, k.Value)
		}
		if err != nil {
			return nil, err
		}
	}
	if key == "" && d.ID != "" && !strings.Contains(d.ID, ".") {
		d.Key = d.ID
	}

	switch {
	case graph != nil && items != nil:
		return nil, fmt.Errorf("line %d: declaration cannot have both 'graph' and 'items'", n.Line)
	case items != nil:
		d.Kind = KindChain
		its, err := decodeItems(items)
		if err != nil {
			return nil, err
		}
		d.Items = its
	case graph != nil:
		d.Kind = KindComposite
		if isNull(graph) {
			break
		}
		if graph.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: 'graph' must be a mapping", graph.Line)
		}
		for i := 0; i+1 < len(graph.Content); i += 2 {
			ck, cv := graph.Content[i], graph.Content[i+1]
			child, err := decodeDecl(cv, ck.Value, false)
			if err != nil {
				return nil, err
			}
			child.Key = ck.Value
			d.Children = append(d.Children, child)
		}
	}
	if d.Kind != KindChain && len(d.After) > 0 {
		return nil, fmt.Errorf("line %d: 'after' is only valid on chains", n.Line)
	}
	return d, nil
}

func decodeItems(n *yaml.Node) ([]*Decl, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: 'items' must be a sequence", n.Line)
	}
	items := make([]*Decl, 0, len(n.Content))
	for _, c := range n.Content {
		it, err := decodeDecl(c, "", true)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// decodeRefs accepts a single reference or a sequence of references. A YAML
// null inside a sequence is the reserved "null" token.
func decodeRefs(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if isNull(n) {
			return nil, nil
		}
		return []string{n.Value}, nil
	case yaml.SequenceNode:
		refs := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: reference must be a string", c.Line)
			}
			if isNull(c) {
				refs = append(refs, RefNull)
				continue
			}
			refs = append(refs, c.Value)
		}
		return refs, nil
	}
	return nil, fmt.Errorf("line %d: reference must be a string or a list of strings", n.Line)
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}
