// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
)

// stubBehavior decides one completion for the stub model client.
type stubBehavior func(ctx context.Context, req llm.Request) (*llm.Response, error)

type stubClient struct {
	mu       sync.Mutex
	behavior stubBehavior
	prompts  []string
	calls    int
}

func (c *stubClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.calls++
	c.prompts = append(c.prompts, req.Prompt)
	behavior := c.behavior
	c.mu.Unlock()
	return behavior(ctx, req)
}

func (c *stubClient) Close() error { return nil }

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *stubClient) promptLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// reply builds a successful stub response with fixed token usage.
func reply(content string) (*llm.Response, error) {
	return &llm.Response{Content: content, Usage: llm.Usage{InputTokens: 5, OutputTokens: 5}}, nil
}

// echoBehavior returns the prompt verbatim.
func echoBehavior(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return reply(req.Prompt)
}

// upperBehavior returns the prompt uppercased.
func upperBehavior(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return reply(strings.ToUpper(req.Prompt))
}

type harness struct {
	exec   *Executor
	client *stubClient
	store  *session.FileStore
	builds *atomic.Int64
}

func newHarness(t *testing.T, s *spec.Spec, behavior stubBehavior, opts ...Option) *harness {
	t.Helper()
	client := &stubClient{behavior: behavior}
	var builds atomic.Int64
	factory := func(cfg llm.Config) (llm.Client, error) {
		builds.Add(1)
		return client, nil
	}
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)

	all := append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithSessionStore(store),
		WithRetryPolicy(&agent.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1}),
	}, opts...)
	exec, err := New(s, factory, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })
	return &harness{exec: exec, client: client, store: store, builds: &builds}
}

func agentStep(id, tmpl string) spec.Stage {
	return spec.Stage{Agent: &spec.AgentStep{AgentID: id, InputTemplate: tmpl}}
}

func baseSpec(name string, pattern spec.Pattern, agents map[string]spec.AgentSpec) *spec.Spec {
	return &spec.Spec{
		Name:    name,
		Runtime: spec.Runtime{Provider: "stub", Model: "stub-model"},
		Agents:  agents,
		Pattern: pattern,
	}
}

func singleAgent(systemPrompt string) map[string]spec.AgentSpec {
	return map[string]spec.AgentSpec{"worker": {SystemPrompt: systemPrompt}}
}

func TestChainThreadsContext(t *testing.T) {
	s := baseSpec("three-step", spec.Pattern{
		Type: spec.PatternChain,
		Chain: &spec.ChainPattern{Steps: []spec.Stage{
			agentStep("worker", "a {{ topic }}"),
			agentStep("worker", "b {{ steps[0].response }}"),
			agentStep("worker", "c {{ steps[1].response }}"),
		}},
	}, singleAgent("uppercase"))

	h := newHarness(t, s, upperBehavior)
	res, err := h.exec.Run(context.Background(), map[string]any{"topic": "x"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, ExitOK, res.ExitCode)
	assert.Equal(t, "C B A X", res.LastResponse)
	assert.Equal(t, 30, res.TokenUsage.Total())

	// One client and one agent serve all three steps.
	assert.Equal(t, int64(1), h.builds.Load())

	// Completed sessions are deleted by default.
	remaining, err := h.store.List(session.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestWorkflowFanOutFanIn(t *testing.T) {
	s := baseSpec("dag", spec.Pattern{
		Type: spec.PatternWorkflow,
		Workflow: &spec.WorkflowPattern{Tasks: []spec.WorkflowTask{
			{ID: "C", Stage: agentStep("worker", "combine {{ tasks.A.response }} + {{ tasks.B.response }}"), DependsOn: []string{"A", "B"}},
			{ID: "B", Stage: agentStep("worker", "task B: {{ topic }}")},
			{ID: "A", Stage: agentStep("worker", "task A: {{ topic }}")},
		}},
	}, singleAgent("echo"))
	s.Runtime.MaxParallel = 1 // serialize so submission order is observable

	h := newHarness(t, s, echoBehavior)
	res, err := h.exec.Run(context.Background(), map[string]any{"topic": "go"})
	require.NoError(t, err)
	require.True(t, res.Success)

	prompts := h.client.promptLog()
	require.Len(t, prompts, 3)
	// A and B run in the first wave; C strictly after both.
	assert.ElementsMatch(t, []string{"task A: go", "task B: go"}, prompts[:2])
	assert.Equal(t, "combine task A: go + task B: go", prompts[2])

	tasks := res.Context["tasks"].(map[string]any)
	c := tasks["C"].(map[string]any)
	assert.Contains(t, c["response"], "task A: go")
	assert.Contains(t, c["response"], "task B: go")
}

func TestParallelFailFast(t *testing.T) {
	s := baseSpec("fanout", spec.Pattern{
		Type: spec.PatternParallel,
		Parallel: &spec.ParallelPattern{Branches: []spec.ParallelBranch{
			{ID: "b1", Steps: []spec.Stage{agentStep("worker", "slow one")}},
			{ID: "b2", Steps: []spec.Stage{agentStep("worker", "boom")}},
			{ID: "b3", Steps: []spec.Stage{agentStep("worker", "slow three")}},
		}},
	}, singleAgent("mixed"))

	behavior := func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Prompt, "boom") {
			time.Sleep(10 * time.Millisecond)
			return nil, llm.Permanent(fmt.Errorf("model rejected the request"))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return reply("too late")
		}
	}

	h := newHarness(t, s, behavior)
	start := time.Now()
	res, err := h.exec.Run(context.Background(), nil)
	require.Error(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, ExitRuntime, res.ExitCode)
	var pe *llm.PermanentError
	assert.ErrorAs(t, err, &pe)
	assert.Less(t, time.Since(start), time.Second, "siblings must be cancelled, not awaited")

	// Failed runs leave the session behind for inspection.
	st, err := h.store.Get(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, st.Metadata.Status)
	assert.NotEmpty(t, st.Metadata.Error)
}

func TestEvaluatorOptimizerConvergence(t *testing.T) {
	s := baseSpec("refine", spec.Pattern{
		Type: spec.PatternEvaluatorOptimizer,
		EvaluatorOptimizer: &spec.EvaluatorOptimizerPattern{
			Producer:     spec.AgentStep{AgentID: "producer", InputTemplate: "write about {{ topic }}"},
			Evaluator:    spec.AgentStep{AgentID: "evaluator", InputTemplate: "score {{ iteration.response }}"},
			RevisePrompt: "revise draft {{ iteration.response }} per {{ iteration.evaluation }}",
			Accept:       spec.AcceptCriteria{MinScore: 8, MaxIterations: 3},
		},
	}, map[string]spec.AgentSpec{
		"producer":  {SystemPrompt: "produce"},
		"evaluator": {SystemPrompt: "evaluate"},
	})

	var produced, evaluated atomic.Int64
	behavior := func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if req.System == "produce" {
			return reply(fmt.Sprintf("draft v%d", produced.Add(1)))
		}
		return reply(fmt.Sprintf(`{"score": %d}`, evaluated.Add(1)*4))
	}

	h := newHarness(t, s, behavior)
	res, err := h.exec.Run(context.Background(), map[string]any{"topic": "go"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, int64(2), produced.Load(), "score 4 then 8 meets min_score on iteration 2")
	assert.Equal(t, int64(2), evaluated.Load())
	assert.Equal(t, "draft v2", res.LastResponse, "the accepted producer output is surfaced")

	iters := res.Context["iterations"].([]any)
	require.Len(t, iters, 2)
	assert.Equal(t, 8.0, iters[1].(map[string]any)["score"])
}

func TestGraphCycleBound(t *testing.T) {
	s := baseSpec("pingpong", spec.Pattern{
		Type: spec.PatternGraph,
		Graph: &spec.GraphPattern{
			StartNode:     "A",
			MaxIterations: 5,
			Nodes: map[string]spec.GraphNode{
				"A": {Stage: agentStep("worker", "at A"), Edges: []spec.Edge{{To: "B"}}},
				"B": {Stage: agentStep("worker", "at B"), Edges: []spec.Edge{{To: "A"}}},
			},
		},
	}, singleAgent("echo"))

	h := newHarness(t, s, echoBehavior)
	res, err := h.exec.Run(context.Background(), nil)
	require.Error(t, err)

	var ge *GraphError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 5, ge.MaxIterations)
	assert.False(t, res.Success)
	assert.Equal(t, 5, h.client.callCount(), "exactly max_iterations node executions")
}

func TestGraphConditionalTermination(t *testing.T) {
	s := baseSpec("review-loop", spec.Pattern{
		Type: spec.PatternGraph,
		Graph: &spec.GraphPattern{
			StartNode:     "draft",
			MaxIterations: 10,
			Nodes: map[string]spec.GraphNode{
				"draft": {
					Stage: agentStep("worker", "draft it"),
					Edges: []spec.Edge{{To: "review"}},
				},
				"review": {
					Stage: agentStep("worker", "review it"),
					Edges: []spec.Edge{
						{To: "draft", When: `"{{ nodes.review.response }}" == "REJECTED"`},
					},
				},
			},
		},
	}, singleAgent("reviewer"))

	var reviews atomic.Int64
	behavior := func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Prompt, "review") {
			if reviews.Add(1) < 2 {
				return reply("REJECTED")
			}
			return reply("APPROVED")
		}
		return reply("a draft")
	}

	h := newHarness(t, s, behavior)
	res, err := h.exec.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, int64(2), reviews.Load(), "loop exits once the edge condition stops matching")
	assert.Equal(t, "APPROVED", res.LastResponse)
}

func TestHITLPauseAndResume(t *testing.T) {
	s := baseSpec("gated", spec.Pattern{
		Type: spec.PatternChain,
		Chain: &spec.ChainPattern{Steps: []spec.Stage{
			agentStep("worker", "a {{ topic }}"),
			{HITL: &spec.HITLGate{PromptTemplate: "approve? {{ steps[0].response }}"}},
			agentStep("worker", "c {{ steps[1].response }}"),
		}},
	}, singleAgent("echo"))

	h := newHarness(t, s, echoBehavior)

	res, err := h.exec.Run(context.Background(), map[string]any{"topic": "x"})
	require.NoError(t, err, "a pause is not an error")
	assert.True(t, res.Paused())
	assert.Equal(t, ExitHITLPause, res.ExitCode)
	require.NotEmpty(t, res.SessionID)

	st, err := h.store.Get(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPaused, st.Metadata.Status)
	require.NotNil(t, st.PatternState.PausedAt)
	assert.Equal(t, "steps[1]", st.PatternState.PausedAt.StageID)
	assert.Equal(t, "approve? a x", st.PatternState.PausedAt.Prompt)

	resumed, err := h.exec.Resume(context.Background(), res.SessionID, "yes")
	require.NoError(t, err)
	assert.True(t, resumed.Success)
	assert.Equal(t, ExitOK, resumed.ExitCode)
	assert.Contains(t, resumed.LastResponse, "yes", "step 3 sees the human response")
	assert.Equal(t, 2, h.client.callCount(), "step 1 is not re-invoked on resume")
}

func TestRoutingReviewOverride(t *testing.T) {
	routerResponse := `{"route": "technical"}`
	s := baseSpec("triage", spec.Pattern{
		Type: spec.PatternRouting,
		Routing: &spec.RoutingPattern{
			Router:     spec.AgentStep{AgentID: "router", InputTemplate: "classify {{ ticket }}"},
			MaxRetries: 2,
			Routes: map[string][]spec.Stage{
				"technical": {agentStep("worker", "tech path")},
				"billing":   {agentStep("worker", "billing path")},
			},
			ReviewRouter: &spec.HITLGate{PromptTemplate: "router chose {{ router.chosen_route }}; approve?"},
		},
	}, map[string]spec.AgentSpec{
		"router": {SystemPrompt: "classify"},
		"worker": {SystemPrompt: "handle"},
	})

	behavior := func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if req.System == "classify" {
			return reply(routerResponse)
		}
		return reply(req.Prompt)
	}

	var gateSeen session.HITLState
	handler := func(ctx context.Context, state session.HITLState) (string, error) {
		gateSeen = state
		return "route:billing", nil
	}

	h := newHarness(t, s, behavior, WithHITLHandler(handler))
	res, err := h.exec.Run(context.Background(), map[string]any{"ticket": "my invoice is wrong"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "billing path", res.LastResponse)
	assert.Equal(t, "router chose technical; approve?", gateSeen.Prompt)

	router := res.Context["router"].(map[string]any)
	assert.Equal(t, "billing", router["chosen_route"])
	assert.Equal(t, routerResponse, router["response"], "the raw router output is preserved")
}

func TestRoutingElseFallback(t *testing.T) {
	s := baseSpec("triage", spec.Pattern{
		Type: spec.PatternRouting,
		Routing: &spec.RoutingPattern{
			Router:     spec.AgentStep{AgentID: "router", InputTemplate: "classify"},
			MaxRetries: 1,
			Routes: map[string][]spec.Stage{
				"known": {agentStep("worker", "known path")},
				"else":  {agentStep("worker", "fallback path")},
			},
		},
	}, map[string]spec.AgentSpec{
		"router": {SystemPrompt: "classify"},
		"worker": {SystemPrompt: "handle"},
	})

	behavior := func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if req.System == "classify" {
			return reply(`{"route": "mystery"}`)
		}
		return reply(req.Prompt)
	}

	h := newHarness(t, s, behavior)
	res, err := h.exec.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback path", res.LastResponse)
}

func TestRoutingParseRetries(t *testing.T) {
	s := baseSpec("triage", spec.Pattern{
		Type: spec.PatternRouting,
		Routing: &spec.RoutingPattern{
			Router:     spec.AgentStep{AgentID: "router", InputTemplate: "classify"},
			MaxRetries: 2,
			Routes: map[string][]spec.Stage{
				"ok": {agentStep("worker", "handled")},
			},
		},
	}, map[string]spec.AgentSpec{
		"router": {SystemPrompt: "classify"},
		"worker": {SystemPrompt: "handle"},
	})

	var calls atomic.Int64
	behavior := func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if req.System != "classify" {
			return reply(req.Prompt)
		}
		switch calls.Add(1) {
		case 1:
			return reply("I think this is a support issue.")
		case 2:
			return reply("Sorry, here it is: ```json\n{\"route\": \"ok\"}\n```")
		default:
			return reply(`{"route": "ok"}`)
		}
	}

	h := newHarness(t, s, behavior)
	res, err := h.exec.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(2), calls.Load(), "fenced JSON on the second attempt parses")
	assert.Equal(t, "handled", res.LastResponse)
}

func TestRoutingUnparseableExhaustsRetries(t *testing.T) {
	s := baseSpec("triage", spec.Pattern{
		Type: spec.PatternRouting,
		Routing: &spec.RoutingPattern{
			Router:     spec.AgentStep{AgentID: "router", InputTemplate: "classify"},
			MaxRetries: 2,
			Routes: map[string][]spec.Stage{
				"ok": {agentStep("worker", "handled")},
			},
		},
	}, map[string]spec.AgentSpec{
		"router": {SystemPrompt: "classify"},
		"worker": {SystemPrompt: "handle"},
	})

	h := newHarness(t, s, func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return reply("no structure here at all")
	})
	_, err := h.exec.Run(context.Background(), nil)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
}

func TestOrchestratorWorkers(t *testing.T) {
	s := baseSpec("research", spec.Pattern{
		Type: spec.PatternOrchestratorWorkers,
		OrchestratorWorkers: &spec.OrchestratorWorkersPattern{
			Orchestrator: spec.AgentStep{AgentID: "orchestrator", InputTemplate: "plan {{ goal }}"},
			Limits:       spec.WorkerLimits{MaxWorkers: 4, MaxRounds: 1},
			WorkerTemplate: spec.WorkerTemplate{
				Agent:         "worker",
				InputTemplate: "do: {{ task }}",
			},
			Reduce: &spec.AgentStep{AgentID: "orchestrator", InputTemplate: "reduce {% for w in workers %}[{{ w.response }}]{% endfor %}"},
		},
	}, map[string]spec.AgentSpec{
		"orchestrator": {SystemPrompt: "plan"},
		"worker":       {SystemPrompt: "work"},
	})

	behavior := func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if req.System == "plan" {
			if strings.HasPrefix(req.Prompt, "plan") {
				return reply(`[{"task": "alpha"}, {"task": "beta"}]`)
			}
			return reply(req.Prompt) // reduce
		}
		if strings.Contains(req.Prompt, "beta") {
			return nil, llm.Permanent(fmt.Errorf("worker rejected"))
		}
		return reply("done " + req.Prompt)
	}

	h := newHarness(t, s, behavior)
	res, err := h.exec.Run(context.Background(), map[string]any{"goal": "find things"})
	require.NoError(t, err)

	assert.True(t, res.Success, "a failed worker is excluded, not fatal")
	assert.Contains(t, res.LastResponse, "done do: alpha")
	assert.NotContains(t, res.LastResponse, "beta", "failed workers stay out of the reduce context")
}

func TestBudgetEnforcement(t *testing.T) {
	s := baseSpec("budgeted", spec.Pattern{
		Type: spec.PatternChain,
		Chain: &spec.ChainPattern{Steps: []spec.Stage{
			agentStep("worker", "one"),
			agentStep("worker", "two"),
		}},
	}, singleAgent("echo"))
	s.Runtime.Budgets = &spec.Budgets{MaxTokens: 8}

	h := newHarness(t, s, echoBehavior)
	res, err := h.exec.Run(context.Background(), nil)
	require.Error(t, err)

	assert.Equal(t, ExitBudget, res.ExitCode)
	assert.True(t, agent.IsBudgetError(err))
	assert.Equal(t, 1, h.client.callCount(), "the overshooting call is the last one admitted")
	assert.Equal(t, 10, res.TokenUsage.Total())
}

func TestHooksFireInOrder(t *testing.T) {
	s := baseSpec("observed", spec.Pattern{
		Type: spec.PatternChain,
		Chain: &spec.ChainPattern{Steps: []spec.Stage{
			agentStep("worker", "only step"),
		}},
	}, singleAgent("echo"))

	var mu sync.Mutex
	var seen []EventType
	record := func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	}
	panicky := func(ev Event) {
		panic("handler bug")
	}

	h := newHarness(t, s, echoBehavior, WithHooks(panicky, record))
	_, err := h.exec.Run(context.Background(), nil)
	require.NoError(t, err, "a panicking handler must not abort the workflow")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{
		EventWorkflowStart,
		EventStepStart,
		EventStepComplete,
		EventWorkflowComplete,
	}, seen)
}

func TestRunKeepSessions(t *testing.T) {
	s := baseSpec("kept", spec.Pattern{
		Type: spec.PatternChain,
		Chain: &spec.ChainPattern{Steps: []spec.Stage{
			agentStep("worker", "go"),
		}},
	}, singleAgent("echo"))

	h := newHarness(t, s, echoBehavior, WithKeepSessions())
	res, err := h.exec.Run(context.Background(), nil)
	require.NoError(t, err)

	st, err := h.store.Get(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, st.Metadata.Status)
}

func TestResumeUnknownSession(t *testing.T) {
	s := baseSpec("missing", spec.Pattern{
		Type: spec.PatternChain,
		Chain: &spec.ChainPattern{Steps: []spec.Stage{
			agentStep("worker", "go"),
		}},
	}, singleAgent("echo"))

	h := newHarness(t, s, echoBehavior)
	res, err := h.exec.Resume(context.Background(), "no-such-session", "")
	require.Error(t, err)
	assert.Equal(t, ExitSession, res.ExitCode)
	assert.True(t, session.IsNotFound(err))
}

func TestStrictResumeRejectsChangedSpec(t *testing.T) {
	build := func(prompt string) *spec.Spec {
		return baseSpec("strict", spec.Pattern{
			Type: spec.PatternChain,
			Chain: &spec.ChainPattern{Steps: []spec.Stage{
				agentStep("worker", "a"),
				{HITL: &spec.HITLGate{PromptTemplate: "continue?"}},
				agentStep("worker", "b"),
			}},
		}, singleAgent(prompt))
	}
	s := build("echo")

	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	client := &stubClient{behavior: echoBehavior}
	factory := func(cfg llm.Config) (llm.Client, error) { return client, nil }

	exec1, err := New(s, factory, WithLogger(zaptest.NewLogger(t)), WithSessionStore(store))
	require.NoError(t, err)
	defer exec1.Close()

	res, err := exec1.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, res.Paused())

	amended := build("echo, but different")
	exec2, err := New(amended, factory, WithLogger(zaptest.NewLogger(t)), WithSessionStore(store), WithStrictResume())
	require.NoError(t, err)
	defer exec2.Close()

	res2, err := exec2.Resume(context.Background(), res.SessionID, "yes")
	require.Error(t, err)
	assert.Equal(t, ExitSession, res2.ExitCode)
	se, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, session.KindSpecChanged, se.Kind)
}

func TestResumeGraphNodeRemovedFromSpec(t *testing.T) {
	build := func(gateNode string) *spec.Spec {
		return baseSpec("amended-graph", spec.Pattern{
			Type: spec.PatternGraph,
			Graph: &spec.GraphPattern{
				StartNode:     "draft",
				MaxIterations: 5,
				Nodes: map[string]spec.GraphNode{
					"draft":  {Stage: agentStep("worker", "draft it"), Edges: []spec.Edge{{To: gateNode}}},
					gateNode: {Stage: spec.Stage{HITL: &spec.HITLGate{PromptTemplate: "ship it?"}}},
				},
			},
		}, singleAgent("echo"))
	}

	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	client := &stubClient{behavior: echoBehavior}
	factory := func(cfg llm.Config) (llm.Client, error) { return client, nil }

	exec1, err := New(build("gate"), factory, WithLogger(zaptest.NewLogger(t)), WithSessionStore(store))
	require.NoError(t, err)
	defer exec1.Close()

	res, err := exec1.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, res.Paused())

	// Rename the paused node; the default resume policy accepts the hash
	// mismatch, so the stale CurrentNode must surface as an error.
	exec2, err := New(build("approval"), factory, WithLogger(zaptest.NewLogger(t)), WithSessionStore(store))
	require.NoError(t, err)
	defer exec2.Close()

	var res2 *RunResult
	var rerr error
	require.NotPanics(t, func() {
		res2, rerr = exec2.Resume(context.Background(), res.SessionID, "yes")
	})
	require.Error(t, rerr)
	assert.False(t, res2.Success)
	assert.Equal(t, ExitSession, res2.ExitCode)
	se, ok := session.AsError(rerr)
	require.True(t, ok)
	assert.Equal(t, session.KindSpecChanged, se.Kind)
	assert.Contains(t, rerr.Error(), `"gate"`)

	st, err := store.Get(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, st.Metadata.Status)
}

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"budget", &agent.BudgetError{Used: 10, Max: 5}, ExitBudget},
		{"session", &session.Error{Kind: session.KindNotFound}, ExitSession},
		{"hitl", &session.HITLError{Response: "x", Reason: "bad"}, ExitSession},
		{"capability", &CapabilityError{Feature: "x"}, ExitUnsupported},
		{"transient", llm.Transient(errors.New("x")), ExitRuntime},
		{"permanent", llm.Permanent(errors.New("x")), ExitRuntime},
		{"wrapped permanent", fmt.Errorf("steps[0]: %w", llm.Permanent(errors.New("x"))), ExitRuntime},
		{"unclassified", errors.New("x"), ExitUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	obj, err := extractJSONObject(`{"route": "a"}`)
	require.NoError(t, err)
	assert.Equal(t, "a", obj["route"])

	obj, err = extractJSONObject("Sure! Here you go:\n```json\n{\"route\": \"b\"}\n```\nHope that helps.")
	require.NoError(t, err)
	assert.Equal(t, "b", obj["route"])

	obj, err = extractJSONObject(`The answer is {"route": "c"} as requested.`)
	require.NoError(t, err)
	assert.Equal(t, "c", obj["route"])

	_, err = extractJSONObject("no json anywhere")
	require.Error(t, err)

	arr, err := extractJSONArray(`Tasks: [{"task": "a"}, {"task": "b"}]`)
	require.NoError(t, err)
	require.Len(t, arr, 2)
	assert.Equal(t, "b", arr[1]["task"])
}
