// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"fmt"

	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
)

// runChain executes stages strictly in order. Step i renders against
// steps[0..i-1]; completed steps restored from a checkpoint are skipped
// by index and never re-invoked.
func (r *run) runChain(ctx context.Context, p *spec.ChainPattern) error {
	ps := &r.st.PatternState
	for i, stage := range p.Steps {
		if i < len(ps.Steps) {
			continue // already completed before this (resumed) run
		}
		stageID := fmt.Sprintf("steps[%d]", i)

		if stage.Kind() == spec.StageHITL {
			resp, err := r.gate(ctx, stageID, stage.HITL)
			if err != nil {
				return err
			}
			r.appendStep(session.StageResult{Response: resp, Status: session.StageHITL})
			if err := r.checkpoint(); err != nil {
				return err
			}
			continue
		}

		res, err := r.agentStage(ctx, stageID, stage.Agent, r.tmpl, EventStepStart, EventStepComplete)
		if err != nil {
			// Partial progress stays persisted for inspection and resume.
			_ = r.checkpoint()
			return err
		}
		r.appendStep(res)
		r.setLastResponse(res.Response)
		if err := r.checkpoint(); err != nil {
			return err
		}
	}
	return nil
}

// appendStep records one chain step in the pattern state and the
// template context.
func (r *run) appendStep(res session.StageResult) {
	r.st.PatternState.Steps = append(r.st.PatternState.Steps, res)
	steps, _ := r.tmpl["steps"].([]any)
	r.tmpl["steps"] = append(steps, stageValue(res))
}
