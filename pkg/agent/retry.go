// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"time"

	"context"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/llm"
)

// RetryPolicy wraps LLM invocations with jittered exponential backoff.
// Only transient errors (network, rate limits, provider 5xx) are retried;
// permanent errors fail the attempt immediately.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	Multiplier    float64
	Randomization float64
}

// DefaultRetryPolicy is 3 attempts, 1s base delay, doubling, ±20% jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		Multiplier:    2,
		Randomization: 0.2,
	}
}

// Do runs fn under the policy and returns its first success or the final
// error. Transient failures between attempts are logged at WARN.
func (p *RetryPolicy) Do(ctx context.Context, logger *zap.Logger, fn func(ctx context.Context) (*llm.Response, error)) (*llm.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = p.Randomization

	attempt := 0
	operation := func() (*llm.Response, error) {
		attempt++
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		if !llm.IsTransient(err) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	notify := func(err error, delay time.Duration) {
		logger.Warn("llm call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(notify))
}
