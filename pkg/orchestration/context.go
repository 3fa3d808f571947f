// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
)

// stageValue exposes one stage result to templates.
func stageValue(res session.StageResult) map[string]any {
	return map[string]any{
		"response": res.Response,
		"tokens":   res.Tokens,
		"status":   res.Status,
	}
}

// branchValue exposes one parallel branch to templates: the branch's
// final response plus its per-step history.
func branchValue(steps []session.StageResult) map[string]any {
	vals := make([]any, len(steps))
	tokens := 0
	last := ""
	for i, st := range steps {
		vals[i] = stageValue(st)
		tokens += st.Tokens
		if st.Response != "" {
			last = st.Response
		}
	}
	return map[string]any{
		"response": last,
		"steps":    vals,
		"tokens":   tokens,
	}
}

// iterationValue exposes one refinement iteration to templates.
func iterationValue(rec session.IterationRecord) map[string]any {
	return map[string]any{
		"number":     rec.Number,
		"response":   rec.Response,
		"evaluation": rec.Evaluation,
		"score":      rec.Score,
	}
}

// baseContext builds the namespaces every pattern exposes.
func baseContext(s *spec.Spec, vars map[string]any) template.Context {
	if vars == nil {
		vars = map[string]any{}
	}
	ctx := template.Context{
		"variables":     vars,
		"spec":          map[string]any{"name": s.Name},
		"last_response": "",
	}
	// Caller inputs are also addressable bare, so `{{ topic }}` and
	// `{{ variables.topic }}` both resolve.
	for k, v := range vars {
		if _, taken := ctx[k]; !taken {
			ctx[k] = v
		}
	}
	return ctx
}

// rebuildContext reconstructs the template context of a resumed session
// from its persisted pattern state, so templates in unfinished stages see
// exactly what they would have seen in an uninterrupted run.
func rebuildContext(s *spec.Spec, st *session.State) template.Context {
	ctx := baseContext(s, st.Variables)
	ps := &st.PatternState
	ctx["last_response"] = ps.LastResponse

	switch ps.Pattern {
	case spec.PatternChain, spec.PatternRouting:
		if len(ps.Steps) > 0 {
			steps := make([]any, len(ps.Steps))
			for i, res := range ps.Steps {
				steps[i] = stageValue(res)
			}
			ctx["steps"] = steps
		}
		if ps.Router != nil {
			ctx["router"] = map[string]any{
				"chosen_route": ps.Router.ChosenRoute,
				"response":     ps.Router.Response,
			}
		}

	case spec.PatternWorkflow:
		tasks := make(map[string]any, len(ps.Tasks))
		for id, res := range ps.Tasks {
			tasks[id] = stageValue(res)
		}
		ctx["tasks"] = tasks

	case spec.PatternParallel:
		branches := make(map[string]any, len(ps.Branches))
		for id, steps := range ps.Branches {
			branches[id] = branchValue(steps)
		}
		ctx["branches"] = branches
		if ps.Reduce != nil {
			ctx["reduce"] = stageValue(*ps.Reduce)
		}

	case spec.PatternEvaluatorOptimizer:
		if n := len(ps.Iterations); n > 0 {
			iters := make([]any, n)
			for i, rec := range ps.Iterations {
				iters[i] = iterationValue(rec)
			}
			ctx["iterations"] = iters
			ctx["iteration"] = iterationValue(ps.Iterations[n-1])
		}

	case spec.PatternOrchestratorWorkers:
		var workers []any
		rounds := make([]any, len(ps.Rounds))
		for i, round := range ps.Rounds {
			var rw []any
			for _, res := range round.Workers {
				if res.Status == session.StageCompleted {
					val := stageValue(res)
					rw = append(rw, val)
					workers = append(workers, val)
				}
			}
			tasks := make([]any, len(round.Tasks))
			for j, t := range round.Tasks {
				tasks[j] = t
			}
			rounds[i] = map[string]any{"workers": rw, "tasks": tasks}
		}
		if len(rounds) > 0 {
			ctx["rounds"] = rounds
			ctx["workers"] = workers
		}
		if ps.Reduce != nil {
			ctx["reduce"] = stageValue(*ps.Reduce)
		}
		if ps.Writeup != nil {
			ctx["writeup"] = stageValue(*ps.Writeup)
		}

	case spec.PatternGraph:
		nodes := make(map[string]any, len(ps.Nodes))
		for id, res := range ps.Nodes {
			nodes[id] = stageValue(res)
		}
		ctx["nodes"] = nodes
	}
	return ctx
}
