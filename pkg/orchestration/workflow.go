// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"fmt"
	"sort"

	"github.com/teradata-labs/weft/pkg/sched"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
)

// runWorkflow schedules a DAG of tasks: repeatedly submit every task
// whose dependencies have completed, bounded by the run-wide limiter,
// fail-fast within each wave. Readiness is recomputed per wave, not per
// task completion: a dependent starts in the wave after the one that
// completes its last dependency. Ready tasks are submitted in
// lexicographic id order so traces are deterministic. A HITL task pauses
// the whole workflow; its dependents wait for resume.
func (r *run) runWorkflow(ctx context.Context, p *spec.WorkflowPattern) error {
	ps := &r.st.PatternState
	if ps.Tasks == nil {
		ps.Tasks = make(map[string]session.StageResult)
	}
	byID := make(map[string]spec.WorkflowTask, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}

	for len(ps.Tasks) < len(p.Tasks) {
		ready := r.readyTasks(p, ps)
		if len(ready) == 0 {
			// Validation rejects cycles, so this is unreachable; guard
			// anyway rather than spin.
			return fmt.Errorf("workflow deadlocked: no task is ready and %d remain", len(p.Tasks)-len(ps.Tasks))
		}

		// Human gates run one at a time before any concurrent wave, so a
		// durable pause never races in-flight agent calls.
		if gated := firstHITL(ready, byID); gated != "" {
			task := byID[gated]
			stageID := "tasks." + gated
			resp, err := r.gate(ctx, stageID, task.Stage.HITL)
			if err != nil {
				return err
			}
			r.mergeTask(gated, session.StageResult{Response: resp, Status: session.StageHITL})
			if err := r.checkpoint(); err != nil {
				return err
			}
			continue
		}

		if err := r.runTaskWave(ctx, ready, byID); err != nil {
			return err
		}
	}
	return nil
}

// readyTasks returns unstarted tasks whose dependencies are all complete,
// sorted lexicographically.
func (r *run) readyTasks(p *spec.WorkflowPattern, ps *session.PatternState) []string {
	var ready []string
	for _, t := range p.Tasks {
		if _, done := ps.Tasks[t.ID]; done {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if _, done := ps.Tasks[dep]; !done {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t.ID)
		}
	}
	sort.Strings(ready)
	return ready
}

func firstHITL(ready []string, byID map[string]spec.WorkflowTask) string {
	for _, id := range ready {
		if byID[id].Stage.Kind() == spec.StageHITL {
			return id
		}
	}
	return ""
}

// runTaskWave executes one ready set as a fail-fast group. Each task
// writes only its own result slot; the dispatching executor merges after
// the wave settles, so completed siblings of a failed task are still
// checkpointed.
func (r *run) runTaskWave(ctx context.Context, ready []string, byID map[string]spec.WorkflowTask) error {
	type slot struct {
		res  session.StageResult
		done bool
	}
	slots := make([]slot, len(ready))
	scope := r.tmpl.Snapshot()

	g := sched.NewGroup(ctx, r.lim)
	for i, id := range ready {
		task := byID[id]
		g.Go(func(ctx context.Context) error {
			res, err := r.agentStage(ctx, "tasks."+id, task.Stage.Agent, scope, EventTaskStart, EventTaskComplete)
			if err != nil {
				return err
			}
			slots[i] = slot{res: res, done: true}
			return nil
		})
	}
	waveErr := g.Wait()

	for i, id := range ready {
		if slots[i].done {
			r.mergeTask(id, slots[i].res)
			r.setLastResponse(slots[i].res.Response)
		}
	}
	if err := r.checkpoint(); err != nil {
		return err
	}
	return waveErr
}

// mergeTask records one task result in the pattern state and template
// context.
func (r *run) mergeTask(id string, res session.StageResult) {
	r.st.PatternState.Tasks[id] = res
	tasks, _ := r.tmpl["tasks"].(map[string]any)
	if tasks == nil {
		tasks = make(map[string]any)
		r.tmpl["tasks"] = tasks
	}
	tasks[id] = stageValue(res)
}
