// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package sched provides the concurrency primitives shared by the pattern
// executors: a run-wide limiter bounding in-flight LLM calls, and a
// fail-fast group that cancels siblings on the first failure.
package sched

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of concurrently running tasks. One Limiter is
// shared across all fan-out in a single run, so nested parallelism cannot
// exceed the configured ceiling.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter returns a limiter admitting up to n concurrent tasks. n must
// be positive.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n))}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release returns a slot to the limiter.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Group runs tasks concurrently under a shared Limiter with fail-fast
// semantics: the first task error cancels the group context, and Wait
// returns that first error. Task slots are acquired inside the spawned
// goroutine so submission never blocks the caller.
type Group struct {
	eg  *errgroup.Group
	ctx context.Context
	lim *Limiter
}

// NewGroup derives a fail-fast group from ctx. Tasks receive the group
// context and must return promptly once it is cancelled.
func NewGroup(ctx context.Context, lim *Limiter) *Group {
	eg, gctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, ctx: gctx, lim: lim}
}

// Go submits one task. The task runs once a limiter slot is available; if
// the group is already cancelled the task is never started and the
// cancellation error is recorded instead.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if err := g.lim.Acquire(g.ctx); err != nil {
			return err
		}
		defer g.lim.Release()
		return fn(g.ctx)
	})
}

// Wait blocks until every submitted task has returned and yields the first
// task error, if any.
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// RunBounded executes tasks under limit-bounded, fail-fast parallelism and
// returns once all tasks finish or the first failure has cancelled the
// rest. Results land in submission order: task i writes only its own slot.
func RunBounded[T any](ctx context.Context, lim *Limiter, tasks []func(ctx context.Context) (T, error)) ([]T, error) {
	results := make([]T, len(tasks))
	g := NewGroup(ctx, lim)
	for i, task := range tasks {
		g.Go(func(ctx context.Context) error {
			out, err := task(ctx)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
