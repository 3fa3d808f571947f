// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
)

// agentStage renders and executes one agent step against scope. Templates
// render lazily, at the moment the stage is about to run, so they see
// every earlier result. The returned usage has been recorded against the
// budget ledger but not yet into the session; the dispatching executor
// owns session mutation.
func (r *run) agentStage(ctx context.Context, stageID string, step *spec.AgentStep, scope template.Context, startEv, doneEv EventType) (session.StageResult, error) {
	prompt, err := r.renderStageInput(step, scope)
	if err != nil {
		return session.StageResult{}, fmt.Errorf("%s: %w", stageID, err)
	}
	return r.invoke(ctx, stageID, step, prompt, startEv, doneEv)
}

// renderStageInput resolves per-step vars and the input template. Vars
// are themselves templates, rendered against the same scope, so a step
// can alias earlier results under short names.
func (r *run) renderStageInput(step *spec.AgentStep, scope template.Context) (string, error) {
	if len(step.Vars) > 0 {
		widened := make(template.Context, len(scope)+len(step.Vars))
		for k, v := range scope {
			widened[k] = v
		}
		for k, tmpl := range step.Vars {
			v, err := template.Render(tmpl, scope)
			if err != nil {
				return "", err
			}
			widened[k] = v
		}
		scope = widened
	}
	return template.Render(step.InputTemplate, scope)
}

// invoke runs a pre-rendered prompt through the step's agent: budget
// check, cache lookup, retried completion, ledger accounting, events.
func (r *run) invoke(ctx context.Context, stageID string, step *spec.AgentStep, prompt string, startEv, doneEv EventType) (session.StageResult, error) {
	if err := r.budget.Check(); err != nil {
		return session.StageResult{}, err
	}

	ag, err := r.exec.cache.GetOrBuild(r.exec.spec, step.AgentID, step.ToolOverrides)
	if err != nil {
		return session.StageResult{}, fmt.Errorf("%s: %w", stageID, err)
	}

	r.exec.hooks.Emit(Event{
		Type:     startEv,
		Workflow: r.exec.spec.Name,
		Pattern:  string(r.exec.spec.Pattern.Type),
		StageID:  stageID,
	})
	r.exec.logger.Debug("stage started",
		zap.String("stage", stageID),
		zap.String("agent_id", step.AgentID))

	resp, err := ag.Invoke(ctx, prompt)
	if err != nil {
		r.exec.hooks.Emit(Event{Type: EventError, Workflow: r.exec.spec.Name, StageID: stageID, Err: err})
		return session.StageResult{}, fmt.Errorf("%s: %w", stageID, err)
	}
	r.budget.Record(resp.Usage)

	result := session.StageResult{
		Response: resp.Content,
		Tokens:   resp.Usage.Total(),
		Status:   session.StageCompleted,
	}
	r.exec.hooks.Emit(Event{
		Type:       doneEv,
		Workflow:   r.exec.spec.Name,
		Pattern:    string(r.exec.spec.Pattern.Type),
		StageID:    stageID,
		Response:   resp.Content,
		TokenUsage: resp.Usage,
	})
	r.exec.logger.Debug("stage completed",
		zap.String("stage", stageID),
		zap.Int("tokens", resp.Usage.Total()))
	return result, nil
}

// setLastResponse updates the running "most recent agent response" in
// both the template context and the persisted pattern state. HITL
// responses deliberately do not pass through here.
func (r *run) setLastResponse(response string) {
	r.tmpl["last_response"] = response
	r.st.PatternState.LastResponse = response
}

// checkpoint persists the session after a stage. The budget ledger is
// authoritative for token counts across concurrent stages, so the session
// counters are overwritten from it rather than accumulated.
func (r *run) checkpoint() error {
	r.st.TokenUsage = r.budget.Usage()
	return r.exec.sessions.Save(r.st)
}

// gate resolves one human gate. Precedence: a response persisted for this
// stage id (resume path), then the in-process handler, then a durable
// pause.
func (r *run) gate(ctx context.Context, stageID string, g *spec.HITLGate) (string, error) {
	if resp, ok := r.st.PatternState.HITLResponses[stageID]; ok {
		return resp, nil
	}

	prompt, err := template.Render(g.PromptTemplate, r.tmpl)
	if err != nil {
		return "", fmt.Errorf("%s: %w", stageID, err)
	}
	display := ""
	if g.ContextDisplayTemplate != "" {
		display, err = template.Render(g.ContextDisplayTemplate, r.tmpl)
		if err != nil {
			return "", fmt.Errorf("%s: %w", stageID, err)
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
			return "", fmt.Errorf("%s: hitl handler: %w", stageID, err)
		}
		if resp == "" {
			resp = g.DefaultResponse
		}
		if r.st.PatternState.HITLResponses == nil {
			r.st.PatternState.HITLResponses = make(map[string]string)
		}
		r.st.PatternState.HITLResponses[stageID] = resp
		r.tmpl["hitl_response"] = resp
		return resp, nil
	}

	marker := &session.PauseMarker{
		StageID:         stageID,
		Prompt:          prompt,
		ContextDisplay:  display,
		DefaultResponse: g.DefaultResponse,
	}
	if err := r.exec.sessions.Pause(r.st, marker); err != nil {
		return "", err
	}
	return "", &pauseSignal{marker: marker}
}
