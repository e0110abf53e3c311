package schema

import "strings"

// Graph is the small undirected graph over entity FQNs described by
// spec §9 Design Notes: "store as adjacency lists and expose a 'find join
// path from A to B' utility". Every edge is stored in both directions and
// repeated edges collapse into one. It is built once from every entity's
// CompleteEntityRelationshipsGraph and EntityRelationships, and is
// immutable thereafter.
type Graph struct {
	adjacency map[string]map[string]struct{}
}

// buildGraph derives adjacency lists from direct relationships (always
// authoritative) and from each entity's pre-computed
// CompleteEntityRelationshipsGraph paths of the form "A -> B -> C"
// (spec §6.2), which may encode multi-hop paths the direct relationships
// alone don't capture.
func buildGraph(entities []*Entity) *Graph {
	g := &Graph{adjacency: make(map[string]map[string]struct{})}

	addEdge := func(from, to string) {
		if from == "" || to == "" || from == to {
			return
		}
		if g.adjacency[from] == nil {
			g.adjacency[from] = make(map[string]struct{})
		}
		g.adjacency[from][to] = struct{}{}
		if g.adjacency[to] == nil {
			g.adjacency[to] = make(map[string]struct{})
		}
		g.adjacency[to][from] = struct{}{}
	}

	for _, e := range entities {
		for _, rel := range e.EntityRelationships {
			addEdge(e.FQN, rel.ForeignFQN)
		}
		for _, path := range e.CompleteEntityRelationshipsGraph {
			nodes := parseGraphPath(path)
			for i := 0; i+1 < len(nodes); i++ {
				addEdge(nodes[i], nodes[i+1])
			}
		}
	}

	return g
}

// parseGraphPath splits "A -> B -> C" into ["A", "B", "C"].
func parseGraphPath(path string) []string {
	parts := strings.Split(path, "->")
	nodes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nodes = append(nodes, p)
		}
	}
	return nodes
}

// FindPath performs a breadth-first search for the shortest join path from
// one FQN to another. Returns nil if no path exists or either node is
// absent from the graph.
func (g *Graph) FindPath(from, to string) []string {
	if from == to {
		return []string{from}
	}
	if _, ok := g.adjacency[from]; !ok {
		return nil
	}

	type frame struct {
		node string
		path []string
	}
	visited := map[string]struct{}{from: {}}
	queue := []frame{{node: from, path: []string{from}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for neighbor := range g.adjacency[cur.node] {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			next := append(append([]string{}, cur.path...), neighbor)
			if neighbor == to {
				return next
			}
			visited[neighbor] = struct{}{}
			queue = append(queue, frame{node: neighbor, path: next})
		}
	}
	return nil
}

// Neighbors returns the FQNs directly reachable from fqn.
func (g *Graph) Neighbors(fqn string) []string {
	neighbors := g.adjacency[fqn]
	list := make([]string, 0, len(neighbors))
	for n := range neighbors {
		list = append(list, n)
	}
	return list
}
