// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package orchestration is the pattern execution engine: it instantiates
// agents, threads context between stages, schedules concurrent LLM calls
// under a shared bound, checkpoints sessions so paused workflows can
// resume, and renders output artifacts when a pattern completes.
package orchestration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/sched"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
)

// Executor runs one workflow spec. It owns the agent cache for the
// lifetime of its runs and must be closed when no more runs are expected.
type Executor struct {
	spec     *spec.Spec
	cache    *agent.Cache
	sessions *session.Manager
	hooks    *Hooks
	hitl     session.HITLHandler
	logger   *zap.Logger

	retryPolicy    *agent.RetryPolicy
	strictResume   bool
	keepSessions   bool
	forceOverwrite bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithSessionStore overrides the default file-backed session store.
func WithSessionStore(store session.Store) Option {
	return func(e *Executor) { e.sessions = session.NewManager(store, e.logger) }
}

// WithHITLHandler answers human gates in-process instead of pausing the
// session durably.
func WithHITLHandler(h session.HITLHandler) Option {
	return func(e *Executor) { e.hitl = h }
}

// WithHooks registers lifecycle event handlers.
func WithHooks(handlers ...Handler) Option {
	return func(e *Executor) {
		for _, h := range handlers {
			e.hooks.Register(h)
		}
	}
}

// WithStrictResume makes a spec-hash mismatch on resume fatal instead of
// a warning.
func WithStrictResume() Option {
	return func(e *Executor) { e.strictResume = true }
}

// WithKeepSessions retains completed sessions instead of deleting them.
func WithKeepSessions() Option {
	return func(e *Executor) { e.keepSessions = true }
}

// WithForceOverwrite lets artifact writes replace existing files.
func WithForceOverwrite() Option {
	return func(e *Executor) { e.forceOverwrite = true }
}

// WithLogger sets the executor's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = l
		e.hooks.logger = l
	}
}

// WithRetryPolicy overrides the default transient-error retry policy.
func WithRetryPolicy(p *agent.RetryPolicy) Option {
	return func(e *Executor) { e.retryPolicy = p }
}

// New builds an executor for s. factory supplies model clients for the
// spec's runtime configuration.
func New(s *spec.Spec, factory llm.Factory, opts ...Option) (*Executor, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	e := &Executor{
		spec:   s,
		logger: logger,
		hooks:  NewHooks(logger),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = agent.NewCache(factory, e.retryPolicy, e.logger)
	if e.sessions == nil {
		store, err := defaultSessionStore()
		if err != nil {
			return nil, err
		}
		e.sessions = session.NewManager(store, e.logger)
	}
	return e, nil
}

func defaultSessionStore() (session.Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return session.NewFileStore(filepath.Join(home, ".weft", "sessions"))
}

// Close releases the agent cache and every pooled model client.
// Idempotent.
func (e *Executor) Close() error {
	return e.cache.Close()
}

// run carries the mutable state of one execution: the session being
// checkpointed, the append-only template context, the token ledger, and
// the run-wide concurrency limiter. Only the dispatching executor mutates
// it; concurrent child tasks receive read-only snapshots.
type run struct {
	exec   *Executor
	st     *session.State
	tmpl   template.Context
	budget *agent.BudgetLedger
	lim    *sched.Limiter
}

// Run executes the spec from the beginning with the given input
// variables.
func (e *Executor) Run(ctx context.Context, variables map[string]any) (*RunResult, error) {
	st, err := e.sessions.Create(e.spec, variables)
	if err != nil {
		res := &RunResult{ExitCode: exitCodeFor(err), Err: err}
		return res, err
	}
	r := &run{
		exec:   e,
		st:     st,
		tmpl:   baseContext(e.spec, variables),
		budget: e.newBudget(llm.Usage{}),
		lim:    sched.NewLimiter(e.spec.MaxParallel()),
	}
	return e.execute(ctx, r)
}

// Resume continues a paused or interrupted session. hitlResponse answers
// the gate the session paused at; it is ignored when the session was not
// paused.
func (e *Executor) Resume(ctx context.Context, sessionID, hitlResponse string) (*RunResult, error) {
	st, err := e.sessions.Load(sessionID)
	if err != nil {
		return &RunResult{ExitCode: exitCodeFor(err), SessionID: sessionID, Err: err}, err
	}
	if err := e.sessions.CheckCompatibility(st, e.spec, e.strictResume); err != nil {
		return &RunResult{ExitCode: exitCodeFor(err), SessionID: sessionID, Err: err}, err
	}
	if st.Metadata.Status == session.StatusPaused {
		if err := e.sessions.Resume(st, hitlResponse); err != nil {
			return &RunResult{ExitCode: exitCodeFor(err), SessionID: sessionID, Err: err}, err
		}
	}
	r := &run{
		exec:   e,
		st:     st,
		tmpl:   rebuildContext(e.spec, st),
		budget: e.newBudget(st.TokenUsage),
		lim:    sched.NewLimiter(e.spec.MaxParallel()),
	}
	if hitlResponse != "" {
		r.tmpl["hitl_response"] = hitlResponse
	}
	return e.execute(ctx, r)
}

func (e *Executor) newBudget(seed llm.Usage) *agent.BudgetLedger {
	max := 0
	if e.spec.Runtime.Budgets != nil {
		max = e.spec.Runtime.Budgets.MaxTokens
	}
	b := agent.NewBudgetLedger(max)
	b.Seed(seed)
	return b
}

// execute dispatches to the pattern executor and converts its outcome
// into a RunResult.
func (e *Executor) execute(ctx context.Context, r *run) (*RunResult, error) {
	start := time.Now()
	e.hooks.Emit(Event{
		Type:     EventWorkflowStart,
		Workflow: e.spec.Name,
		Pattern:  string(e.spec.Pattern.Type),
	})
	e.logger.Info("workflow started",
		zap.String("workflow", e.spec.Name),
		zap.String("pattern", string(e.spec.Pattern.Type)),
		zap.String("session_id", r.st.Metadata.SessionID))

	err := e.dispatch(ctx, r)

	result := &RunResult{
		SessionID:       r.st.Metadata.SessionID,
		LastResponse:    r.st.PatternState.LastResponse,
		TokenUsage:      r.st.TokenUsage,
		Context:         r.tmpl,
		DurationSeconds: time.Since(start).Seconds(),
	}

	var pause *pauseSignal
	if errors.As(err, &pause) {
		result.ExitCode = ExitHITLPause
		e.hooks.Emit(Event{
			Type:     EventHITLPause,
			Workflow: e.spec.Name,
			Pattern:  string(e.spec.Pattern.Type),
			StageID:  pause.marker.StageID,
		})
		e.logger.Info("workflow paused for human input",
			zap.String("session_id", r.st.Metadata.SessionID),
			zap.String("stage", pause.marker.StageID))
		return result, nil
	}

	if err != nil {
		if ferr := e.sessions.Fail(r.st, err); ferr != nil {
			e.logger.Error("persisting failed session", zap.Error(ferr))
		}
		result.ExitCode = exitCodeFor(err)
		result.Err = err
		e.hooks.Emit(Event{
			Type:     EventError,
			Workflow: e.spec.Name,
			Pattern:  string(e.spec.Pattern.Type),
			Err:      err,
		})
		e.logger.Error("workflow failed",
			zap.String("session_id", r.st.Metadata.SessionID),
			zap.Error(err))
		return result, err
	}

	written, werr := e.writeArtifacts(r)
	result.ArtifactsWritten = written
	if werr != nil {
		if ferr := e.sessions.Fail(r.st, werr); ferr != nil {
			e.logger.Error("persisting failed session", zap.Error(ferr))
		}
		result.ExitCode = exitCodeFor(werr)
		result.Err = werr
		e.hooks.Emit(Event{Type: EventError, Workflow: e.spec.Name, Err: werr})
		return result, werr
	}

	if e.keepSessions {
		if cerr := e.sessions.Complete(r.st); cerr != nil {
			e.logger.Error("persisting completed session", zap.Error(cerr))
		}
	} else {
		if derr := e.sessions.Delete(r.st.Metadata.SessionID); derr != nil {
			e.logger.Warn("deleting completed session", zap.Error(derr))
		}
	}

	result.Success = true
	result.ExitCode = ExitOK
	result.TokenUsage = r.st.TokenUsage
	e.hooks.Emit(Event{
		Type:       EventWorkflowComplete,
		Workflow:   e.spec.Name,
		Pattern:    string(e.spec.Pattern.Type),
		Response:   result.LastResponse,
		TokenUsage: result.TokenUsage,
	})
	e.logger.Info("workflow completed",
		zap.String("session_id", r.st.Metadata.SessionID),
		zap.Float64("duration_seconds", result.DurationSeconds),
		zap.Int("total_tokens", result.TokenUsage.Total()))
	return result, nil
}

func (e *Executor) dispatch(ctx context.Context, r *run) error {
	p := &e.spec.Pattern
	switch p.Type {
	case spec.PatternChain:
		return r.runChain(ctx, p.Chain)
	case spec.PatternWorkflow:
		return r.runWorkflow(ctx, p.Workflow)
	case spec.PatternRouting:
		return r.runRouting(ctx, p.Routing)
	case spec.PatternParallel:
		return r.runParallel(ctx, p.Parallel)
	case spec.PatternEvaluatorOptimizer:
		return r.runEvaluatorOptimizer(ctx, p.EvaluatorOptimizer)
	case spec.PatternOrchestratorWorkers:
		return r.runOrchestratorWorkers(ctx, p.OrchestratorWorkers)
	case spec.PatternGraph:
		return r.runGraph(ctx, p.Graph)
	}
	return &CapabilityError{Feature: "pattern type " + string(p.Type)}
}

func (e *Executor) writeArtifacts(r *run) ([]string, error) {
	if len(e.spec.Outputs.Artifacts) == 0 {
		return nil, nil
	}
	outDir := e.spec.OutputDir
	if outDir == "" {
		outDir = "."
	}
	w := &artifacts.Writer{
		OutputDir:      outDir,
		ForceOverwrite: e.forceOverwrite,
		Logger:         e.logger,
	}
	return w.Write(e.spec.Outputs.Artifacts, r.tmpl)
}
