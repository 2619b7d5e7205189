package dag

import (
	"sync"

	"github.com/specialistvlad/ortrain/internal/cell"
)

// Graph is a collection of cells and the port connections between them,
// representing a DAG. All operations on the graph are concurrency-safe.
type Graph struct {
	// mutex protects the fields below during concurrent access.
	mutex sync.RWMutex
	// nodes stores all nodes in the graph, keyed by their unique ID.
	nodes map[string]*Node
	// order records node IDs in insertion order, which makes every traversal
	// deterministic.
	order []string
	// edges stores every port connection in the order it was made.
	edges []Edge
}

// Node is a single vertex in the graph: one cell under a unique ID.
type Node struct {
	// id is the unique identifier for the node.
	id string
	// cell is the operation the node runs.
	cell cell.Cell
	// deps holds the set of nodes that this node depends on (predecessors).
	deps map[string]*Node
	// dependents holds the set of nodes that depend on this node (successors).
	dependents map[string]*Node
	// incoming holds the edges feeding this node's input ports, keyed by port.
	incoming map[string]Edge
}

// ID returns the node's unique identifier.
func (n *Node) ID() string { return n.id }

// Cell returns the operation held by the node.
func (n *Node) Cell() cell.Cell { return n.cell }

// PortRef addresses one port of one node.
type PortRef struct {
	Node string
	Port string
}

func (r PortRef) String() string {
	return r.Node + "." + r.Port
}

// Edge connects an output port to an input port.
type Edge struct {
	From PortRef
	To   PortRef
}

func (e Edge) String() string {
	return e.From.String() + " -> " + e.To.String()
}
