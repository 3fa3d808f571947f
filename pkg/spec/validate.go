// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

import (
	"fmt"
	"sort"
)

// Custom errors for spec validation.
var (
	ErrInvalidWorkflow    = fmt.Errorf("invalid workflow structure")
	ErrUnsupportedPattern = fmt.Errorf("unsupported workflow pattern type")
	ErrUnknownAgent       = fmt.Errorf("unknown agent reference")
	ErrCyclicWorkflow     = fmt.Errorf("workflow tasks contain a cycle")
)

// Validate checks structural invariants: the pattern tag matches the
// populated member, every referenced agent exists, the workflow DAG is
// acyclic with unique known task ids, and loop bounds are positive.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidWorkflow)
	}
	if s.Runtime.Provider == "" || s.Runtime.Model == "" {
		return fmt.Errorf("%w: runtime requires provider and model", ErrInvalidWorkflow)
	}

	refs, err := s.Pattern.agentRefs()
	if err != nil {
		return err
	}
	for _, id := range refs {
		if _, ok := s.Agents[id]; !ok {
			return fmt.Errorf("%w: %q is not declared in agents", ErrUnknownAgent, id)
		}
	}

	for id, ag := range s.Agents {
		for _, tool := range ag.Tools {
			if _, ok := s.Tools[tool]; !ok {
				return fmt.Errorf("%w: agent %q binds undeclared tool %q", ErrInvalidWorkflow, id, tool)
			}
		}
	}

	return s.Pattern.validate()
}

// validate checks pattern-local invariants.
func (p *Pattern) validate() error {
	switch p.Type {
	case PatternChain:
		if p.Chain == nil || len(p.Chain.Steps) == 0 {
			return fmt.Errorf("%w: chain requires at least one step", ErrInvalidWorkflow)
		}
	case PatternWorkflow:
		if p.Workflow == nil || len(p.Workflow.Tasks) == 0 {
			return fmt.Errorf("%w: workflow requires at least one task", ErrInvalidWorkflow)
		}
		return p.Workflow.validateTopology()
	case PatternRouting:
		if p.Routing == nil || len(p.Routing.Routes) == 0 {
			return fmt.Errorf("%w: routing requires at least one route", ErrInvalidWorkflow)
		}
	case PatternParallel:
		if p.Parallel == nil || len(p.Parallel.Branches) == 0 {
			return fmt.Errorf("%w: parallel requires at least one branch", ErrInvalidWorkflow)
		}
		seen := make(map[string]bool, len(p.Parallel.Branches))
		for _, b := range p.Parallel.Branches {
			if b.ID == "" {
				return fmt.Errorf("%w: parallel branch missing id", ErrInvalidWorkflow)
			}
			if seen[b.ID] {
				return fmt.Errorf("%w: duplicate branch id %q", ErrInvalidWorkflow, b.ID)
			}
			seen[b.ID] = true
		}
	case PatternEvaluatorOptimizer:
		if p.EvaluatorOptimizer == nil {
			return fmt.Errorf("%w: evaluator_optimizer body missing", ErrInvalidWorkflow)
		}
		if p.EvaluatorOptimizer.Accept.MaxIterations <= 0 {
			return fmt.Errorf("%w: accept.max_iterations must be positive", ErrInvalidWorkflow)
		}
	case PatternOrchestratorWorkers:
		if p.OrchestratorWorkers == nil {
			return fmt.Errorf("%w: orchestrator_workers body missing", ErrInvalidWorkflow)
		}
		if p.OrchestratorWorkers.Limits.MaxWorkers <= 0 {
			return fmt.Errorf("%w: limits.max_workers must be positive", ErrInvalidWorkflow)
		}
	case PatternGraph:
		if p.Graph == nil || len(p.Graph.Nodes) == 0 {
			return fmt.Errorf("%w: graph requires nodes", ErrInvalidWorkflow)
		}
		if p.Graph.MaxIterations <= 0 {
			return fmt.Errorf("%w: graph max_iterations must be positive", ErrInvalidWorkflow)
		}
		if _, ok := p.Graph.Nodes[p.Graph.StartNode]; !ok {
			return fmt.Errorf("%w: start_node %q does not exist", ErrInvalidWorkflow, p.Graph.StartNode)
		}
		for id, node := range p.Graph.Nodes {
			for _, edge := range node.Edges {
				if _, ok := p.Graph.Nodes[edge.To]; !ok {
					return fmt.Errorf("%w: node %q edge targets unknown node %q", ErrInvalidWorkflow, id, edge.To)
				}
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedPattern, p.Type)
	}
	return nil
}

// validateTopology rejects duplicate ids, dangling depends_on references, and
// cycles. Cycle detection is Kahn's algorithm: if any task remains
// unscheduled after the queue drains, the remainder forms a cycle.
func (w *WorkflowPattern) validateTopology() error {
	indegree := make(map[string]int, len(w.Tasks))
	dependents := make(map[string][]string, len(w.Tasks))

	for _, t := range w.Tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: workflow task missing id", ErrInvalidWorkflow)
		}
		if _, dup := indegree[t.ID]; dup {
			return fmt.Errorf("%w: duplicate task id %q", ErrInvalidWorkflow, t.ID)
		}
		indegree[t.ID] = 0
	}
	for _, t := range w.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := indegree[dep]; !ok {
				return fmt.Errorf("%w: task %q depends on unknown task %q", ErrInvalidWorkflow, t.ID, dep)
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	queue := make([]string, 0, len(indegree))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	scheduled := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		scheduled++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if scheduled != len(w.Tasks) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return fmt.Errorf("%w: unschedulable tasks %v", ErrCyclicWorkflow, stuck)
	}
	return nil
}

// agentRefs returns all agent ids referenced by the pattern.
func (p *Pattern) agentRefs() ([]string, error) {
	var ids []string
	addStage := func(st Stage) {
		if st.Agent != nil {
			ids = append(ids, st.Agent.AgentID)
		}
	}

	switch p.Type {
	case PatternChain:
		if p.Chain != nil {
			for _, st := range p.Chain.Steps {
				addStage(st)
			}
		}
	case PatternWorkflow:
		if p.Workflow != nil {
			for _, t := range p.Workflow.Tasks {
				addStage(t.Stage)
			}
		}
	case PatternRouting:
		if p.Routing != nil {
			ids = append(ids, p.Routing.Router.AgentID)
			for _, steps := range p.Routing.Routes {
				for _, st := range steps {
					addStage(st)
				}
			}
		}
	case PatternParallel:
		if p.Parallel != nil {
			for _, b := range p.Parallel.Branches {
				for _, st := range b.Steps {
					addStage(st)
				}
			}
			if p.Parallel.Reduce != nil {
				ids = append(ids, p.Parallel.Reduce.AgentID)
			}
		}
	case PatternEvaluatorOptimizer:
		if p.EvaluatorOptimizer != nil {
			ids = append(ids, p.EvaluatorOptimizer.Producer.AgentID, p.EvaluatorOptimizer.Evaluator.AgentID)
		}
	case PatternOrchestratorWorkers:
		if p.OrchestratorWorkers != nil {
			ids = append(ids, p.OrchestratorWorkers.Orchestrator.AgentID, p.OrchestratorWorkers.WorkerTemplate.Agent)
			if p.OrchestratorWorkers.Reduce != nil {
				ids = append(ids, p.OrchestratorWorkers.Reduce.AgentID)
			}
			if p.OrchestratorWorkers.Writeup != nil {
				ids = append(ids, p.OrchestratorWorkers.Writeup.AgentID)
			}
		}
	case PatternGraph:
		if p.Graph != nil {
			for _, node := range p.Graph.Nodes {
				addStage(node.Stage)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPattern, p.Type)
	}

	return uniqueStrings(ids), nil
}

// uniqueStrings returns a slice with duplicate strings removed.
func uniqueStrings(strs []string) []string {
	seen := make(map[string]bool)
	result := []string{}
	for _, s := range strs {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
