// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
)

// orchestratorParseRetries bounds clarification retries for the
// orchestrator's task decomposition.
const orchestratorParseRetries = 2

// runOrchestratorWorkers decomposes work dynamically: each round the
// orchestrator emits a JSON task list, workers execute it in parallel,
// and the aggregated results feed the next round. Worker failures are
// logged and excluded rather than fatal; worker jobs are frequently
// exploratory and partial success is valuable.
func (r *run) runOrchestratorWorkers(ctx context.Context, p *spec.OrchestratorWorkersPattern) error {
	ps := &r.st.PatternState

	for round := 0; round < p.Limits.MaxRounds; round++ {
		if round < len(ps.Rounds) && ps.Rounds[round].Workers != nil {
			continue // round fully checkpointed
		}

		if round >= len(ps.Rounds) {
			tasks, err := r.decompose(ctx, p, round)
			if err != nil {
				_ = r.checkpoint()
				return err
			}
			ps.Rounds = append(ps.Rounds, session.RoundRecord{Tasks: tasks})
			if err := r.checkpoint(); err != nil {
				return err
			}
		}
		rec := &ps.Rounds[round]

		if len(rec.Tasks) == 0 {
			rec.Workers = []session.StageResult{}
			r.refreshWorkerContext(ps)
			if err := r.checkpoint(); err != nil {
				return err
			}
			break // no work decomposed; advance to reduce/writeup
		}

		if p.DecompositionReview != nil {
			gateID := fmt.Sprintf("rounds[%d].decomposition_review", round)
			if _, err := r.gate(ctx, gateID, p.DecompositionReview); err != nil {
				return err
			}
		}

		workers, err := r.runWorkerPool(ctx, p, round, rec.Tasks)
		if err != nil {
			return err
		}
		rec.Workers = workers
		r.refreshWorkerContext(ps)
		if err := r.checkpoint(); err != nil {
			return err
		}
	}
	r.refreshWorkerContext(ps)

	if p.Reduce != nil && ps.Reduce == nil {
		if p.ReduceReview != nil {
			if _, err := r.gate(ctx, "reduce_review", p.ReduceReview); err != nil {
				return err
			}
		}
		res, err := r.agentStage(ctx, "reduce", p.Reduce, r.tmpl, EventStepStart, EventStepComplete)
		if err != nil {
			_ = r.checkpoint()
			return err
		}
		ps.Reduce = &res
		r.tmpl["reduce"] = stageValue(res)
		r.setLastResponse(res.Response)
		if err := r.checkpoint(); err != nil {
			return err
		}
	}

	if p.Writeup != nil && ps.Writeup == nil {
		res, err := r.agentStage(ctx, "writeup", p.Writeup, r.tmpl, EventStepStart, EventStepComplete)
		if err != nil {
			_ = r.checkpoint()
			return err
		}
		ps.Writeup = &res
		r.tmpl["writeup"] = stageValue(res)
		r.setLastResponse(res.Response)
		if err := r.checkpoint(); err != nil {
			return err
		}
	}
	return nil
}

// decompose runs the orchestrator stage and parses its JSON task array.
// Each task object must carry at least a "task" string; extra fields pass
// through to the worker's template scope. An empty array means no work.
func (r *run) decompose(ctx context.Context, p *spec.OrchestratorWorkersPattern, round int) ([]map[string]any, error) {
	stageID := fmt.Sprintf("rounds[%d].orchestrator", round)
	prompt, err := r.renderStageInput(&p.Orchestrator, r.tmpl)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stageID, err)
	}

	attempts := orchestratorParseRetries + 1
	var lastDetail string
	for attempt := 0; attempt < attempts; attempt++ {
		attemptPrompt := prompt
		if attempt > 0 {
			attemptPrompt = clarifyInstruction(`array of task objects, each with a "task" field`) + prompt
		}
		res, err := r.invoke(ctx, stageID, &p.Orchestrator, attemptPrompt, EventStepStart, EventStepComplete)
		if err != nil {
			return nil, err
		}
		r.setLastResponse(res.Response)

		arr, perr := extractJSONArray(res.Response)
		if perr != nil {
			lastDetail = perr.Error()
			continue
		}
		valid := true
		for _, obj := range arr {
			if _, ok := obj["task"].(string); !ok {
				valid = false
				lastDetail = `a task object has no "task" string`
				break
			}
		}
		if !valid {
			continue
		}
		if len(arr) > p.Limits.MaxWorkers {
			r.exec.logger.Warn("orchestrator emitted more tasks than max_workers; truncating",
				zap.Int("tasks", len(arr)),
				zap.Int("max_workers", p.Limits.MaxWorkers))
			arr = arr[:p.Limits.MaxWorkers]
		}
		return arr, nil
	}
	return nil, &ParseError{StageID: stageID, Attempts: attempts, Detail: lastDetail}
}

// runWorkerPool executes one round's tasks in parallel under the run-wide
// limiter. Results keep orchestrator task order. Failed workers are
// recorded with a failed status, logged, and excluded from the template
// context; they do not abort the round.
func (r *run) runWorkerPool(ctx context.Context, p *spec.OrchestratorWorkersPattern, round int, tasks []map[string]any) ([]session.StageResult, error) {
	results := make([]session.StageResult, len(tasks))
	scope := r.tmpl.Snapshot()

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stageID := fmt.Sprintf("rounds[%d].workers[%d]", round, i)
			if err := r.lim.Acquire(ctx); err != nil {
				results[i] = session.StageResult{Status: session.StageFailed}
				return
			}
			defer r.lim.Release()

			res, err := r.runWorker(ctx, p, stageID, task, scope)
			if err != nil {
				r.exec.logger.Warn("worker failed; excluding its result",
					zap.String("stage", stageID),
					zap.Error(err))
				r.exec.hooks.Emit(Event{Type: EventError, Workflow: r.exec.spec.Name, StageID: stageID, Err: err})
				results[i] = session.StageResult{Status: session.StageFailed}
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Budget exhaustion is not an exploratory failure; it must stop the
	// whole run.
	if err := r.budget.Check(); err != nil {
		return nil, err
	}
	return results, nil
}

// runWorker instantiates one worker from the template and executes its
// task. The task object's fields are exposed directly in the worker's
// render scope.
func (r *run) runWorker(ctx context.Context, p *spec.OrchestratorWorkersPattern, stageID string, task map[string]any, scope template.Context) (session.StageResult, error) {
	local := scope.Snapshot()
	for k, v := range task {
		local[k] = v
	}
	step := &spec.AgentStep{
		AgentID:       p.WorkerTemplate.Agent,
		InputTemplate: p.WorkerTemplate.InputTemplate,
		ToolOverrides: p.WorkerTemplate.Tools,
	}
	return r.agentStage(ctx, stageID, step, local, EventTaskStart, EventTaskComplete)
}

// refreshWorkerContext rebuilds the workers and rounds namespaces from
// the pattern state: workers is the cumulative list of successful worker
// results across rounds, in orchestrator-declared order.
func (r *run) refreshWorkerContext(ps *session.PatternState) {
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
	r.tmpl["rounds"] = rounds
	r.tmpl["workers"] = workers
}
