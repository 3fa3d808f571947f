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

// runRouting classifies with the router stage, optionally passes the
// choice through a human review gate, then executes the selected route as
// a nested chain.
func (r *run) runRouting(ctx context.Context, p *spec.RoutingPattern) error {
	ps := &r.st.PatternState

	if ps.Router == nil {
		route, raw, err := r.classify(ctx, p)
		if err != nil {
			return err
		}
		ps.Router = &session.RouterState{ChosenRoute: route, Response: raw}
		r.setRouterContext(ps.Router)
		r.setLastResponse(raw)
		if err := r.checkpoint(); err != nil {
			return err
		}
	} else {
		r.setRouterContext(ps.Router)
	}

	if p.ReviewRouter != nil {
		resp, err := r.gate(ctx, "router_review", p.ReviewRouter)
		if err != nil {
			return err
		}
		override, err := session.ParseReviewResponse(resp)
		if err != nil {
			return err
		}
		if override != "" && override != ps.Router.ChosenRoute {
			r.exec.logger.Info("router choice overridden by review",
				zap.String("was", ps.Router.ChosenRoute),
				zap.String("now", override))
			ps.Router.ChosenRoute = override
			r.setRouterContext(ps.Router)
			if err := r.checkpoint(); err != nil {
				return err
			}
		}
	}

	steps, ok := p.Routes[ps.Router.ChosenRoute]
	if !ok {
		if elseSteps, hasElse := p.Routes["else"]; hasElse {
			steps = elseSteps
		} else {
			return &RoutingError{Route: ps.Router.ChosenRoute}
		}
	}

	return r.runChain(ctx, &spec.ChainPattern{Steps: steps})
}

// classify runs the router stage. The agent must return a JSON object
// with a "route" field; parse failures retry with a clarifying prefix up
// to the pattern's retry allowance.
func (r *run) classify(ctx context.Context, p *spec.RoutingPattern) (route, raw string, err error) {
	prompt, err := r.renderStageInput(&p.Router, r.tmpl)
	if err != nil {
		return "", "", fmt.Errorf("router: %w", err)
	}

	attempts := p.MaxRetries + 1
	var lastDetail string
	for attempt := 0; attempt < attempts; attempt++ {
		attemptPrompt := prompt
		if attempt > 0 {
			attemptPrompt = clarifyInstruction(`object with a "route" field`) + prompt
		}
		res, err := r.invoke(ctx, "router", &p.Router, attemptPrompt, EventStepStart, EventStepComplete)
		if err != nil {
			return "", "", err
		}
		obj, perr := extractJSONObject(res.Response)
		if perr != nil {
			lastDetail = perr.Error()
			continue
		}
		name, _ := obj["route"].(string)
		if name == "" {
			lastDetail = `JSON object has no "route" string`
			continue
		}
		return name, res.Response, nil
	}
	return "", "", &ParseError{StageID: "router", Attempts: attempts, Detail: lastDetail}
}

func (r *run) setRouterContext(router *session.RouterState) {
	r.tmpl["router"] = map[string]any{
		"chosen_route": router.ChosenRoute,
		"response":     router.Response,
	}
}
