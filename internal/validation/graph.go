package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/flowos/pkg/schema"
)

// ValidateGraph checks the structural well-formedness of a graph.
// Every check runs; blocking problems are reported as errors and the rest as
// warnings. A nil graph is treated as an empty one.
func ValidateGraph(g *schema.GraphStructure) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if g == nil {
		g = &schema.GraphStructure{}
	}

	if len(g.Nodes) == 0 {
		result.AddError("nodes", schema.ErrCodeValidation, "graph has no nodes")
	}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	var duplicates []string
	for _, n := range g.Nodes {
		if nodeIDs[n.ID] {
			duplicates = append(duplicates, n.ID)
			continue
		}
		nodeIDs[n.ID] = true
	}
	if len(duplicates) > 0 {
		result.AddError("nodes", schema.ErrCodeValidation,
			fmt.Sprintf("graph contains duplicate node ids: %s", strings.Join(quoteAll(duplicates), ", ")))
	}

	connected := make(map[string]bool, len(g.Nodes))
	pairCount := make(map[[2]string]int, len(g.Edges))
	var pairOrder [][2]string

	for i, e := range g.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		name := edgeName(e, i)

		if !nodeIDs[e.Source] {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("edge %s references missing source node %q", name, e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("edge %s references missing target node %q", name, e.Target))
		}
		if e.Source == e.Target {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge %s is a self-loop on node %q", name, e.Source))
		}

		pair := [2]string{e.Source, e.Target}
		if pairCount[pair] == 0 {
			pairOrder = append(pairOrder, pair)
		}
		pairCount[pair]++
		connected[e.Source] = true
		connected[e.Target] = true
	}

	for _, pair := range pairOrder {
		if n := pairCount[pair]; n > 1 {
			result.AddWarning("edges", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate edge %s -> %s appears %d times", pair[0], pair[1], n))
		}
	}

	if len(g.Nodes) > 1 {
		for i, n := range g.Nodes {
			if !connected[n.ID] {
				result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
					fmt.Sprintf("node %q is isolated", n.ID))
			}
		}
	}

	return result
}

// ValidateAcyclic reports a cycle among the graph's edges using Kahn's
// algorithm. Edges with unknown endpoints and self-loops are ignored since
// ValidateGraph already reports them.
func ValidateAcyclic(g *schema.GraphStructure) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if g == nil {
		return result
	}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		nodeIDs[n.ID] = true
	}

	inDegree := make(map[string]int, len(nodeIDs))
	reverse := make(map[string][]string, len(nodeIDs))
	seen := make(map[[2]string]bool, len(g.Edges))
	for _, e := range g.Edges {
		pair := [2]string{e.Source, e.Target}
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] || e.Source == e.Target || seen[pair] {
			continue
		}
		seen[pair] = true
		inDegree[e.Target]++
		reverse[e.Source] = append(reverse[e.Source], e.Target)
	}

	queue := make([]string, 0, len(nodeIDs))
	for id := range nodeIDs {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range reverse[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(nodeIDs) {
		var stuck []string
		for id := range nodeIDs {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		result.AddError("edges", schema.ErrCodeCycleDetected,
			fmt.Sprintf("graph contains a dependency cycle through %s", strings.Join(quoteAll(stuck), ", ")))
	}
	return result
}

func edgeName(e schema.GraphEdge, index int) string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("#%d", index)
}

func quoteAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = fmt.Sprintf("%q", id)
	}
	return out
}
