package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipegraph/pkg/resource"
)

func graphCmd() *cobra.Command {
	var format, workdir string

	cmd := &cobra.Command{
		Use:   "graph <pipeline.yaml>",
		Short: "Print the compiled graph of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := resource.NewFS(workdir)
			if err != nil {
				return err
			}
			doc, g, err := compileFile(args[0], fsys, io.Discard)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "dot":
				src, err := pipeline.RenderDOT(g, doc.Name)
				if err != nil {
					return fmt.Errorf("render dot: %w", err)
				}
				fmt.Fprint(out, src)
			case "text", "":
				fmt.Fprint(out, renderText(g, doc.Name))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	cmd.Flags().StringVar(&workdir, "workdir", ".", "root directory stages read from and write to")
	return cmd
}

// topoOrder returns nodes in BFS order from the entry, following next edges
// and scope entry; unreachable nodes are appended in declaration order.
func topoOrder(g *pipeline.Graph) []*pipeline.Node {
	visited := map[*pipeline.Node]bool{}
	var order []*pipeline.Node

	queue := []*pipeline.Node{g.Entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == nil || visited[cur] {
			continue
		}
		visited[cur] = true
		order = append(order, cur)
		if cur.Scoped() {
			queue = append(queue, cur.Start)
		}
		queue = append(queue, cur.Next...)
	}

	for _, n := range g.Nodes() {
		if !visited[n] {
			order = append(order, n)
		}
	}
	return order
}

// truncate shortens s to maxLen chars, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

func nodeKind(n *pipeline.Node) string {
	key := n.ID[strings.LastIndex(n.ID, ".")+1:]
	switch {
	case n.Scoped():
		return "scope"
	case (key == pipeline.StartKey || key == pipeline.EndKey) && n.Stub():
		return key
	case n.Stub():
		return "stub"
	}
	return "stage"
}

// renderText produces the human-readable text summary.
func renderText(g *pipeline.Graph, name string) string {
	var sb strings.Builder

	order := topoOrder(g)
	edges := 0
	for _, n := range order {
		edges += len(n.Next)
	}
	if name == "" {
		name = g.Entry.ID
	}
	fmt.Fprintf(&sb, "Pipeline: %s  (%d nodes, %d edges)\n", name, len(order), edges)

	maxIDLen := 4 // minimum "node"
	for _, n := range order {
		if len(n.ID) > maxIDLen {
			maxIDLen = len(n.ID)
		}
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, n := range order {
		var detail string
		if n.Scoped() {
			detail = truncate(fmt.Sprintf("start=%s end=%s", n.Start.ID, n.End.ID), 60)
		}
		fmt.Fprintf(&sb, "  %-*s  %-6s  %s\n", maxIDLen, n.ID, nodeKind(n), detail)
	}

	fmt.Fprintf(&sb, "\nEdges:\n")
	for _, n := range order {
		for _, next := range n.Next {
			fmt.Fprintf(&sb, "  %-*s  →  %s\n", maxIDLen, n.ID, next.ID)
		}
	}
	return sb.String()
}
