package pipeline

// Node is a linked pool entry: a stage plus live references to the nodes it
// feeds. Cycles are permitted; nodes never own one another, the Pool does.
type Node struct {
	ID    string
	Stage Stage
	Next  []*Node

	// Start and End are set by the linker on nodes that own a sub-graph.
	Start *Node
	End   *Node

	scoped   bool
	stub     bool
	children map[string]*Node // local key → child, for dotted lookup
}

// Scoped reports whether the node owns a sub-graph entered through Start and
// drained through End. It is decided once, at link time.
func (n *Node) Scoped() bool { return n.scoped }

// Stub reports whether the linker bound a passthrough because no stage was
// registered for the node.
func (n *Node) Stub() bool { return n.stub }

// Child returns the direct sub-graph member registered under key.
func (n *Node) Child(key string) *Node { return n.children[key] }

func (n *Node) addChild(key string, c *Node) {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	n.children[key] = c
}

// Graph is the result of compiling a declaration against a pool.
type Graph struct {
	Entry    *Node
	Pool     *Pool
	Resolved *Decl

	nodes []*Node // declaration order
}

// Nodes returns every declared node in declaration (pre-)order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Node returns the declared node at path, or nil.
func (g *Graph) Node(path string) *Node {
	for _, n := range g.nodes {
		if n.ID == path {
			return n
		}
	}
	return nil
}
