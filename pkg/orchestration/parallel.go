// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/teradata-labs/weft/pkg/sched"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
)

// branchOutcome is everything a branch task reports back to the
// dispatching executor. Branch goroutines never touch the session or the
// shared context directly; the parent merges outcomes after the group
// settles, so partial progress survives a sibling failure.
type branchOutcome struct {
	steps     []session.StageResult
	responses map[string]string // HITL responses answered in-process
	pause     *session.PauseMarker
}

// runParallel fans out each branch as a nested chain under the run-wide
// limiter with fail-fast join, then runs the optional reduce stage over
// the merged branch results.
func (r *run) runParallel(ctx context.Context, p *spec.ParallelPattern) error {
	ps := &r.st.PatternState
	if ps.Branches == nil {
		ps.Branches = make(map[string][]session.StageResult)
	}

	outcomes := make([]branchOutcome, len(p.Branches))
	scope := r.tmpl.Snapshot()

	g := sched.NewGroup(ctx, r.lim)
	for i, branch := range p.Branches {
		done := ps.Branches[branch.ID]
		if len(done) == len(branch.Steps) {
			outcomes[i] = branchOutcome{steps: done}
			continue
		}
		g.Go(func(ctx context.Context) error {
			out, err := r.runBranch(ctx, branch, done, scope)
			outcomes[i] = out
			return err
		})
	}
	groupErr := g.Wait()

	// Merge whatever completed, even when a sibling failed or paused.
	var pause *session.PauseMarker
	for i, branch := range p.Branches {
		out := outcomes[i]
		if len(out.steps) > 0 {
			ps.Branches[branch.ID] = out.steps
		}
		for id, resp := range out.responses {
			if ps.HITLResponses == nil {
				ps.HITLResponses = make(map[string]string)
			}
			ps.HITLResponses[id] = resp
		}
		if out.pause != nil && pause == nil {
			pause = out.pause
		}
	}
	r.refreshBranchContext(ps)
	if err := r.checkpoint(); err != nil {
		return err
	}

	if groupErr != nil {
		var ping *pauseSignal
		if errors.As(groupErr, &ping) && pause != nil {
			if err := r.exec.sessions.Pause(r.st, pause); err != nil {
				return err
			}
		}
		return groupErr
	}

	if p.Reduce != nil && ps.Reduce == nil {
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
	return nil
}

// runBranch executes one branch's steps sequentially against a private
// scope seeded from the shared snapshot. done holds results restored from
// a checkpoint; those steps are skipped.
func (r *run) runBranch(ctx context.Context, branch spec.ParallelBranch, done []session.StageResult, scope template.Context) (branchOutcome, error) {
	out := branchOutcome{steps: append([]session.StageResult(nil), done...)}
	local := scope.Snapshot()
	r.exec.hooks.Emit(Event{
		Type:     EventBranchStart,
		Workflow: r.exec.spec.Name,
		StageID:  "branches." + branch.ID,
	})

	seedBranchSteps(local, out.steps)
	for i, stage := range branch.Steps {
		if i < len(out.steps) {
			continue
		}
		stageID := fmt.Sprintf("branches.%s[%d]", branch.ID, i)

		if stage.Kind() == spec.StageHITL {
			res, pause, err := r.branchGate(ctx, stageID, stage.HITL, local)
			if err != nil {
				return out, err
			}
			if pause != nil {
				out.pause = pause
				return out, &pauseSignal{marker: pause}
			}
			if out.responses == nil {
				out.responses = make(map[string]string)
			}
			out.responses[stageID] = res
			step := session.StageResult{Response: res, Status: session.StageHITL}
			out.steps = append(out.steps, step)
			seedBranchSteps(local, out.steps)
			continue
		}

		res, err := r.agentStage(ctx, stageID, stage.Agent, local, EventStepStart, EventStepComplete)
		if err != nil {
			return out, err
		}
		out.steps = append(out.steps, res)
		seedBranchSteps(local, out.steps)
		local["last_response"] = res.Response
	}

	r.exec.hooks.Emit(Event{
		Type:     EventBranchComplete,
		Workflow: r.exec.spec.Name,
		StageID:  "branches." + branch.ID,
	})
	return out, nil
}

// branchGate answers a human gate from inside a branch goroutine without
// touching shared state: persisted responses are read, the in-process
// handler may run, but a durable pause is only signalled, not persisted.
func (r *run) branchGate(ctx context.Context, stageID string, g *spec.HITLGate, scope template.Context) (string, *session.PauseMarker, error) {
	if resp, ok := r.st.PatternState.HITLResponses[stageID]; ok {
		return resp, nil, nil
	}
	prompt, err := template.Render(g.PromptTemplate, scope)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", stageID, err)
	}
	display := ""
	if g.ContextDisplayTemplate != "" {
		display, err = template.Render(g.ContextDisplayTemplate, scope)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", stageID, err)
		}
	}
	if r.exec.hitl != nil {
		resp, err := r.exec.hitl(ctx, session.HITLState{
			StageID:         stageID,
			Prompt:          prompt,
			ContextDisplay:  display,
			DefaultResponse: g.DefaultResponse,
			TimeoutSeconds:  g.TimeoutSeconds,
		})
		if err != nil {
			return "", nil, fmt.Errorf("%s: hitl handler: %w", stageID, err)
		}
		if resp == "" {
			resp = g.DefaultResponse
		}
		return resp, nil, nil
	}
	return "", &session.PauseMarker{
		StageID:         stageID,
		Prompt:          prompt,
		ContextDisplay:  display,
		DefaultResponse: g.DefaultResponse,
	}, nil
}

// seedBranchSteps exposes the branch's own progress as steps[i] inside
// its private scope.
func seedBranchSteps(scope template.Context, steps []session.StageResult) {
	vals := make([]any, len(steps))
	for i, st := range steps {
		vals[i] = stageValue(st)
	}
	scope["steps"] = vals
}

// refreshBranchContext rebuilds the branches namespace from the pattern
// state.
func (r *run) refreshBranchContext(ps *session.PatternState) {
	branches := make(map[string]any, len(ps.Branches))
	for id, steps := range ps.Branches {
		branches[id] = branchValue(steps)
	}
	r.tmpl["branches"] = branches
}
