package pipeline

import (
	"fmt"
)

// Stage names. These key artifacts, agent results and events; the transport
// layer exposes them verbatim.
const (
	AgentParameters = "parameters"
	AgentForecast   = "forecast"
	AgentClustering = "clustering"
	AgentVariance   = "variance"
	AgentAllocation = "allocation"
	AgentMarkdown   = "markdown"
)

// Definition is a validated, immutable pipeline of agents in topological
// order. It is built once at process start; a malformed definition is a
// startup error, never a runtime one.
type Definition struct {
	agents []Agent
	byName map[string]Agent
}

// NewDefinition validates the agent set and computes a topological order.
// It fails when agent names collide, a dependency is unknown, or the
// dependency graph contains a cycle.
func NewDefinition(agents ...Agent) (*Definition, error) {
	byName := make(map[string]Agent, len(agents))
	for _, a := range agents {
		if a.Name() == "" {
			return nil, fmt.Errorf("pipeline: agent with empty name")
		}
		if _, dup := byName[a.Name()]; dup {
			return nil, fmt.Errorf("pipeline: duplicate agent name %q", a.Name())
		}
		byName[a.Name()] = a
	}
	for _, a := range agents {
		for _, dep := range a.Dependencies() {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("pipeline: agent %q depends on unknown agent %q", a.Name(), dep)
			}
		}
	}

	ordered, err := topoSort(agents, byName)
	if err != nil {
		return nil, err
	}

	return &Definition{agents: ordered, byName: byName}, nil
}

// MustNewDefinition is NewDefinition that panics on error. Intended for the
// static default pipeline constructed at startup.
func MustNewDefinition(agents ...Agent) *Definition {
	def, err := NewDefinition(agents...)
	if err != nil {
		panic(err)
	}
	return def
}

// Default returns the season planning pipeline: a single dependency chain
// from parameter normalization through markdown analysis.
func Default() *Definition {
	return MustNewDefinition(
		&ParametersAgent{},
		&ForecastAgent{},
		&ClusteringAgent{},
		&VarianceAgent{},
		&AllocationAgent{},
		&MarkdownAgent{},
	)
}

// Agents returns the agents in execution (topological) order.
func (d *Definition) Agents() []Agent {
	return d.agents
}

// AgentNames returns the stage names in execution order.
func (d *Definition) AgentNames() []string {
	names := make([]string, len(d.agents))
	for i, a := range d.agents {
		names[i] = a.Name()
	}
	return names
}

// HasAgent reports whether the named stage is part of the pipeline.
func (d *Definition) HasAgent(name string) bool {
	_, ok := d.byName[name]
	return ok
}

// Len returns the number of stages.
func (d *Definition) Len() int {
	return len(d.agents)
}

// topoSort orders agents so every agent follows all of its dependencies.
// Kahn's algorithm over the declared dependency edges; input order breaks
// ties so the result is deterministic.
func topoSort(agents []Agent, byName map[string]Agent) ([]Agent, error) {
	indegree := make(map[string]int, len(agents))
	dependents := make(map[string][]string, len(agents))
	for _, a := range agents {
		indegree[a.Name()] = len(a.Dependencies())
		for _, dep := range a.Dependencies() {
			dependents[dep] = append(dependents[dep], a.Name())
		}
	}

	var ready []string
	for _, a := range agents {
		if indegree[a.Name()] == 0 {
			ready = append(ready, a.Name())
		}
	}

	ordered := make([]Agent, 0, len(agents))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) != len(agents) {
		return nil, fmt.Errorf("pipeline: dependency cycle detected")
	}
	return ordered, nil
}
