package dag

import (
	"fmt"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/port"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
	}
}

// AddCell adds a cell to the graph under the given ID. The cell's port
// declarations are validated, and the ID must not already be in use.
func (g *Graph) AddCell(id string, c cell.Cell) error {
	if id == "" {
		return fmt.Errorf("node id cannot be empty")
	}
	if err := cell.Validate(c); err != nil {
		return fmt.Errorf("node %s: %w", id, err)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return fmt.Errorf("node already exists: %s", id)
	}

	g.nodes[id] = &Node{
		id:         id,
		cell:       c,
		deps:       make(map[string]*Node),
		dependents: make(map[string]*Node),
		incoming:   make(map[string]Edge),
	}
	g.order = append(g.order, id)
	return nil
}

// Connect creates an edge from an output port of `fromID` to an input port of
// `toID`. This signifies that `toID` has a dependency on `fromID`. An error is
// returned if either node or port does not exist, if the port types cannot be
// converted, if the input is already connected, or if the edge would create a
// self-reference.
func (g *Graph) Connect(fromID, fromPort, toID, toPort string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	out, ok := fromNode.cell.Outputs().Lookup(fromPort)
	if !ok {
		return fmt.Errorf("node %s has no output port %q", fromID, fromPort)
	}
	in, ok := toNode.cell.Inputs().Lookup(toPort)
	if !ok {
		return fmt.Errorf("node %s has no input port %q", toID, toPort)
	}
	if !port.Compatible(out.Type, in.Type) {
		return fmt.Errorf("cannot connect %s.%s (%s) to %s.%s (%s): incompatible types",
			fromID, fromPort, out.Type.FriendlyName(), toID, toPort, in.Type.FriendlyName())
	}
	if existing, taken := toNode.incoming[toPort]; taken {
		return fmt.Errorf("input %s.%s is already connected to %s", toID, toPort, existing.From)
	}

	edge := Edge{
		From: PortRef{Node: fromID, Port: fromPort},
		To:   PortRef{Node: toID, Port: toPort},
	}
	toNode.incoming[toPort] = edge
	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode
	g.edges = append(g.edges, edge)

	return nil
}

// ConnectByName connects every output port of `fromID` to the input port of
// `toID` with the same name. Ports present on one side only are left
// unconnected. It returns the connected names in the source's port order.
func (g *Graph) ConnectByName(fromID, toID string) ([]string, error) {
	g.mutex.RLock()
	fromNode, okFrom := g.nodes[fromID]
	toNode, okTo := g.nodes[toID]
	g.mutex.RUnlock()

	if !okFrom {
		return nil, fmt.Errorf("source node not found: %s", fromID)
	}
	if !okTo {
		return nil, fmt.Errorf("destination node not found: %s", toID)
	}

	names := port.Intersect(fromNode.cell.Outputs(), toNode.cell.Inputs())
	for _, name := range names {
		if err := g.Connect(fromID, name, toID, name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	return len(g.nodes)
}

// Edges returns every connection in the order it was made.
func (g *Graph) Edges() []Edge {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	return append([]Edge(nil), g.edges...)
}

// Incoming returns the edge feeding the given input port, if any.
func (g *Graph) Incoming(id, inputPort string) (Edge, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return Edge{}, false
	}
	e, ok := n.incoming[inputPort]
	return e, ok
}

// Dependencies returns the IDs of the nodes the given node depends on, in
// insertion order.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return g.orderedLocked(n.deps), nil
}

// Dependents returns the IDs of the nodes that depend on the given node, in
// insertion order.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return g.orderedLocked(n.dependents), nil
}

func (g *Graph) orderedLocked(set map[string]*Node) []string {
	ids := make([]string, 0, len(set))
	for _, id := range g.order {
		if _, ok := set[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// DetectCycles checks the graph for any cycles. It returns a non-nil error
// if a cycle is found, indicating the first node involved in the detected cycle.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Use classic depth-first search with three sets of nodes:
	// permanent: nodes that have been fully visited and are not part of a cycle.
	// temporary: nodes currently in the recursion stack for the current traversal.
	// unvisited: all other nodes.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("cycle detected involving node '%s'", n.id)
		}

		temporary[n.id] = true
		for _, id := range g.orderedLocked(n.dependents) {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true

		return nil
	}

	for _, id := range g.order {
		if !permanent[id] {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
	}

	return nil
}

// TopologicalOrder returns the nodes ordered so that every node comes after
// all of its dependencies. Ties are broken by insertion order, so the result
// is stable for a given construction sequence.
func (g *Graph) TopologicalOrder() ([]*Node, error) {
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	g.mutex.RLock()
	defer g.mutex.RUnlock()

	remaining := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		remaining[id] = len(n.deps)
	}

	sorted := make([]*Node, 0, len(g.nodes))
	placed := make(map[string]bool, len(g.nodes))
	for len(sorted) < len(g.order) {
		progressed := false
		for _, id := range g.order {
			if placed[id] || remaining[id] > 0 {
				continue
			}
			n := g.nodes[id]
			sorted = append(sorted, n)
			placed[id] = true
			progressed = true
			for depID := range n.dependents {
				remaining[depID]--
			}
		}
		if !progressed {
			// Unreachable after DetectCycles.
			return nil, fmt.Errorf("graph has unresolvable dependencies")
		}
	}
	return sorted, nil
}
