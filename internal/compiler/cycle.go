package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kwarch/ruse/internal/ir"
)

// CycleWarning represents a potential feedback loop between rules.
//
// Cycles are warnings, not errors, because they may be intentional:
//   - Iterative refinement over derived facts
//   - Counters with termination constraints
//   - Self-correcting feedback loops
//
// The runtime firing budget bounds any loop that does run away.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["rule-a", "rule-b", "rule-a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static feedback-loop analysis on a rule set.
//
// It builds a dependency graph from what each rule produces and what
// each rule's patterns consume, then detects strongly connected
// components with Tarjan's algorithm. Each SCC larger than one node,
// or a single node with a self-loop, becomes a warning.
//
// A rule with no produces declaration contributes no outgoing edges,
// so opaque consequences never trip the analysis.
//
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(specs []ir.RuleSpec) []CycleWarning {
	if len(specs) == 0 {
		return []CycleWarning{}
	}

	graph := buildDependencyGraph(specs)
	sccs := tarjanSCC(graph)

	var warnings []CycleWarning
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}

	return warnings
}

// dependencyGraph maps rule name → rules that could be activated by
// its productions.
type dependencyGraph map[string][]string

// buildDependencyGraph constructs the rule dependency graph.
//
// For each rule:
//   - Take the fact types its production asserts (Produces)
//   - Find all rules with a pattern matching any of those types
//   - Add edges: this_rule → activated_rules
func buildDependencyGraph(specs []ir.RuleSpec) dependencyGraph {
	graph := make(dependencyGraph)

	// Build type → rules mapping (which rules match each fact type)
	typeToRules := make(map[ir.TypeRef][]string)
	for _, spec := range specs {
		for _, t := range spec.Consumes() {
			typeToRules[t] = append(typeToRules[t], spec.Name)
		}
	}

	for _, spec := range specs {
		// Initialize with empty slice if no edges (ensures node exists in graph)
		if graph[spec.Name] == nil {
			graph[spec.Name] = []string{}
		}

		seen := make(map[string]bool)
		for _, t := range spec.Produces {
			for _, target := range typeToRules[t] {
				if !seen[target] {
					seen[target] = true
					graph[spec.Name] = append(graph[spec.Name], target)
				}
			}
		}
	}

	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of rule names.
// Single-node SCCs without self-loops are NOT cycles. Nodes are visited
// in sorted order so the warning list is stable across runs.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
//
// For self-loops, the path is [rule, rule]. For multi-node cycles, the
// path shows one traversal through the SCC.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		rule := scc[0]
		return CycleWarning{
			Path:    []string{rule, rule},
			Message: fmt.Sprintf("Self-triggering rule detected: %s → %s", rule, rule),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential feedback loop detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Starts at the first node, follows edges to other SCC members, and
// stops on returning to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
