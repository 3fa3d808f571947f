// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package agent owns the runtime agent instances a workflow executes
// against: building them from spec definitions, deduplicating them by
// configuration fingerprint, pooling model clients, retrying transient
// provider failures, and accounting token budgets.
package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/llm"
)

// Agent is one instantiated workflow agent: a system prompt, a tool
// binding, and a pooled model client. Instances are shared; two stages
// whose configuration fingerprints match receive the same *Agent.
type Agent struct {
	ID           string
	SystemPrompt string
	Tools        []string
	Config       llm.Config

	fingerprint string
	client      llm.Client
	retry       *RetryPolicy
	logger      *zap.Logger
}

// Fingerprint returns the agent's configuration fingerprint.
func (a *Agent) Fingerprint() string {
	return a.fingerprint
}

// Invoke performs one completion through the agent's model client,
// retrying transient failures per the agent's retry policy. The returned
// usage has not yet been recorded against any budget; the caller owns
// accounting.
func (a *Agent) Invoke(ctx context.Context, prompt string) (*llm.Response, error) {
	req := llm.Request{System: a.SystemPrompt, Prompt: prompt}
	resp, err := a.retry.Do(ctx, a.logger.With(zap.String("agent_id", a.ID)), func(ctx context.Context) (*llm.Response, error) {
		return a.client.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
