// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/condition"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
)

// runGraph walks the conditional state machine: execute the current
// node, probe its edges in declaration order, follow the first satisfied
// condition. A node with no edges, or no satisfied edge, is terminal.
// The iteration counter strictly guards against condition cycles.
func (r *run) runGraph(ctx context.Context, p *spec.GraphPattern) error {
	ps := &r.st.PatternState
	if ps.Nodes == nil {
		ps.Nodes = make(map[string]session.StageResult)
	}
	current := ps.CurrentNode
	if current == "" {
		current = p.StartNode
		ps.CurrentNode = current
	}

	for {
		if ps.IterationCount >= p.MaxIterations {
			return &GraphError{Node: current, MaxIterations: p.MaxIterations}
		}
		node, ok := p.Nodes[current]
		if !ok {
			// Non-strict resume accepts a spec-hash mismatch, so a
			// persisted CurrentNode may name a node the amended spec no
			// longer declares.
			return &session.Error{
				Kind:      session.KindSpecChanged,
				SessionID: r.st.Metadata.SessionID,
				Err:       fmt.Errorf("graph node %q from the session does not exist in the workflow", current),
			}
		}
		stageID := "nodes." + current

		var res session.StageResult
		if node.Stage.Kind() == spec.StageHITL {
			resp, err := r.gate(ctx, stageID, node.Stage.HITL)
			if err != nil {
				return err
			}
			res = session.StageResult{Response: resp, Status: session.StageHITL}
		} else {
			var err error
			res, err = r.agentStage(ctx, stageID, node.Stage.Agent, r.tmpl, EventNodeStart, EventNodeComplete)
			if err != nil {
				_ = r.checkpoint()
				return err
			}
			r.setLastResponse(res.Response)
		}
		ps.Nodes[current] = res
		r.setNodeContext(current, res)
		if err := r.checkpoint(); err != nil {
			return err
		}

		next := ""
		for _, edge := range node.Edges {
			if edge.When == "" {
				next = edge.To
				break
			}
			ok, err := condition.Evaluate(edge.When, r.tmpl)
			if err != nil {
				return err
			}
			if ok {
				next = edge.To
				break
			}
		}
		if next == "" {
			// Terminal: either the node declares no edges or no condition
			// matched.
			r.exec.logger.Debug("graph reached terminal node",
				zap.String("node", current),
				zap.Int("iterations", ps.IterationCount))
			return nil
		}

		r.exec.logger.Debug("graph edge taken",
			zap.String("from", current),
			zap.String("to", next))
		current = next
		ps.CurrentNode = current
		ps.IterationCount++
		if err := r.checkpoint(); err != nil {
			return err
		}
	}
}

// setNodeContext records one node's latest result in the nodes
// namespace. Re-entries overwrite: a graph node's template identity is
// its most recent execution.
func (r *run) setNodeContext(id string, res session.StageResult) {
	nodes, _ := r.tmpl["nodes"].(map[string]any)
	if nodes == nil {
		nodes = make(map[string]any)
		r.tmpl["nodes"] = nodes
	}
	nodes[id] = stageValue(res)
}
