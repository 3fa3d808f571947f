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
)

// evaluatorParseRetries bounds clarification retries for the evaluator's
// structured verdict.
const evaluatorParseRetries = 2

// runEvaluatorOptimizer iterates producer and evaluator until the score
// threshold is met or the iteration allowance runs out. Reaching the
// allowance is not an error: the most recent producer output stands.
func (r *run) runEvaluatorOptimizer(ctx context.Context, p *spec.EvaluatorOptimizerPattern) error {
	ps := &r.st.PatternState

	for {
		n := len(ps.Iterations)
		// A record with no evaluation is a checkpointed producer output
		// whose evaluator never ran; pick it up instead of re-producing.
		var rec *session.IterationRecord
		if n > 0 && ps.Iterations[n-1].Evaluation == "" {
			rec = &ps.Iterations[n-1]
		} else {
			if n > 0 {
				last := ps.Iterations[n-1]
				if last.Score >= p.Accept.MinScore || last.Number >= p.Accept.MaxIterations {
					return nil
				}
			}
			number := n + 1
			response, err := r.produce(ctx, p, number)
			if err != nil {
				_ = r.checkpoint()
				return err
			}
			ps.Iterations = append(ps.Iterations, session.IterationRecord{Number: number, Response: response})
			rec = &ps.Iterations[len(ps.Iterations)-1]
			r.setLastResponse(response)
			r.setIterationContext(*rec)
			if err := r.checkpoint(); err != nil {
				return err
			}
		}

		score, evaluation, err := r.evaluate(ctx, p, rec.Number)
		if err != nil {
			_ = r.checkpoint()
			return err
		}
		rec.Score = score
		rec.Evaluation = evaluation
		r.setIterationContext(*rec)
		r.appendIterationHistory(*rec)
		if err := r.checkpoint(); err != nil {
			return err
		}

		r.exec.logger.Info("refinement iteration scored",
			zap.Int("iteration", rec.Number),
			zap.Float64("score", score),
			zap.Float64("min_score", p.Accept.MinScore))

		if score >= p.Accept.MinScore {
			return nil
		}
		if rec.Number >= p.Accept.MaxIterations {
			r.exec.logger.Warn("refinement stopped at iteration allowance without meeting the score threshold",
				zap.Int("iterations", rec.Number),
				zap.Float64("best_score", score))
			return nil
		}
	}
}

// produce runs the producer stage. Iteration 1 uses the producer's own
// input template; later iterations use the revise prompt, which sees the
// previous iteration's response and evaluation.
func (r *run) produce(ctx context.Context, p *spec.EvaluatorOptimizerPattern, number int) (string, error) {
	stageID := fmt.Sprintf("iterations[%d].producer", number-1)
	step := p.Producer
	if number > 1 {
		step.InputTemplate = p.RevisePrompt
	}
	res, err := r.agentStage(ctx, stageID, &step, r.tmpl, EventStepStart, EventStepComplete)
	if err != nil {
		return "", err
	}
	return res.Response, nil
}

// evaluate runs the evaluator over the current iteration's output and
// parses its JSON verdict: a numeric "score" plus free-form issues and
// fixes. Parse failures retry with a clarifying prefix.
func (r *run) evaluate(ctx context.Context, p *spec.EvaluatorOptimizerPattern, number int) (float64, string, error) {
	stageID := fmt.Sprintf("iterations[%d].evaluator", number-1)
	prompt, err := r.renderStageInput(&p.Evaluator, r.tmpl)
	if err != nil {
		return 0, "", fmt.Errorf("%s: %w", stageID, err)
	}

	attempts := evaluatorParseRetries + 1
	var lastDetail string
	for attempt := 0; attempt < attempts; attempt++ {
		attemptPrompt := prompt
		if attempt > 0 {
			attemptPrompt = clarifyInstruction(`object with a numeric "score" field`) + prompt
		}
		res, err := r.invoke(ctx, stageID, &p.Evaluator, attemptPrompt, EventStepStart, EventStepComplete)
		if err != nil {
			return 0, "", err
		}
		obj, perr := extractJSONObject(res.Response)
		if perr != nil {
			lastDetail = perr.Error()
			continue
		}
		score, ok := obj["score"].(float64)
		if !ok {
			lastDetail = `JSON object has no numeric "score"`
			continue
		}
		return score, res.Response, nil
	}
	return 0, "", &ParseError{StageID: stageID, Attempts: attempts, Detail: lastDetail}
}

// setIterationContext exposes the current iteration under "iteration".
func (r *run) setIterationContext(rec session.IterationRecord) {
	r.tmpl["iteration"] = iterationValue(rec)
}

// appendIterationHistory appends a finished iteration to "iterations".
func (r *run) appendIterationHistory(rec session.IterationRecord) {
	hist, _ := r.tmpl["iterations"].([]any)
	r.tmpl["iterations"] = append(hist, iterationValue(rec))
}
