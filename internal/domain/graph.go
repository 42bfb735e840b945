package domain

import "fmt"

// Graph is the explicit pipeline DAG. Nodes carry stable IDs and their
// dependency edges; insertion order is preserved so planning output and
// topological sorting stay deterministic.
type Graph struct {
	nodes map[string]*Job
	order []string
}

func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Job)}
}

// Add inserts a job node. Duplicate IDs are rejected.
func (g *Graph) Add(j *Job) error {
	if j == nil || j.ID == "" {
		return fmt.Errorf("graph: job without id")
	}
	if _, exists := g.nodes[j.ID]; exists {
		return fmt.Errorf("graph: duplicate job id %q", j.ID)
	}
	g.nodes[j.ID] = j
	g.order = append(g.order, j.ID)
	return nil
}

// Job looks up a node by ID.
func (g *Graph) Job(id string) (*Job, bool) {
	j, ok := g.nodes[id]
	return j, ok
}

// Jobs returns all nodes in insertion order.
func (g *Graph) Jobs() []*Job {
	out := make([]*Job, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

func (g *Graph) Len() int { return len(g.order) }

// Validate checks that every edge points at a known node.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		for _, need := range g.nodes[id].Needs {
			if _, ok := g.nodes[need]; !ok {
				return fmt.Errorf("graph: job %q needs unknown job %q", id, need)
			}
		}
	}
	return nil
}

// TopoSort returns the nodes in dependency order (Kahn's algorithm, ties
// broken by insertion order). A cycle or an unknown edge is an error.
func (g *Graph) TopoSort() ([]*Job, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.nodes[id].Needs)
		for _, need := range g.nodes[id].Needs {
			dependents[need] = append(dependents[need], id)
		}
	}

	var queue []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	out := make([]*Job, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, g.nodes[id])

		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(out) != len(g.order) {
		return nil, fmt.Errorf("graph: dependency cycle detected")
	}
	return out, nil
}
