// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package spec defines the validated workflow specification consumed by the
// execution engine: runtime configuration, agent definitions, the pattern
// union, and output artifact declarations.
package spec

import (
	"github.com/teradata-labs/weft/pkg/llm"
)

// DefaultMaxParallel bounds concurrent LLM calls when the spec does not say
// otherwise.
const DefaultMaxParallel = 5

// Spec is a complete, validated workflow description. It is immutable once
// loaded; executors never mutate it.
type Spec struct {
	Name    string `yaml:"name" json:"name"`
	Runtime Runtime `yaml:"runtime" json:"runtime"`

	// Agents maps agent id to its definition. Every agent referenced from the
	// pattern must exist here.
	Agents map[string]AgentSpec `yaml:"agents" json:"agents"`

	// Tools declares tools that agents may bind by name.
	Tools map[string]ToolSpec `yaml:"tools,omitempty" json:"tools,omitempty"`

	Pattern Pattern `yaml:"pattern" json:"pattern"`

	Outputs   Outputs `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	OutputDir string  `yaml:"output_dir,omitempty" json:"output_dir,omitempty"`
}

// Runtime holds the default model configuration and execution limits.
type Runtime struct {
	Provider    string   `yaml:"provider" json:"provider"`
	Model       string   `yaml:"model" json:"model"`
	Region      string   `yaml:"region,omitempty" json:"region,omitempty"`
	Host        string   `yaml:"host,omitempty" json:"host,omitempty"`
	Temperature float64  `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP        float64  `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	MaxParallel int      `yaml:"max_parallel,omitempty" json:"max_parallel,omitempty"`
	Budgets     *Budgets `yaml:"budgets,omitempty" json:"budgets,omitempty"`
}

// Budgets caps resource consumption for a single run.
type Budgets struct {
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// LLMConfig resolves the runtime defaults, with an optional per-agent model
// override, into a model-client configuration.
func (r Runtime) LLMConfig(modelOverride string) llm.Config {
	model := r.Model
	if modelOverride != "" {
		model = modelOverride
	}
	return llm.Config{
		Provider:    r.Provider,
		Model:       model,
		Region:      r.Region,
		Host:        r.Host,
		Temperature: r.Temperature,
		TopP:        r.TopP,
	}
}

// AgentSpec defines one agent: its system prompt, bound tools, and optional
// model override.
type AgentSpec struct {
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt"`
	Tools        []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	Model        string   `yaml:"model,omitempty" json:"model,omitempty"`
}

// ToolSpec declares a tool the engine can bind to agents. The engine never
// executes tools itself; it only threads these bindings through to the
// runtime adapter.
type ToolSpec struct {
	Kind    string            `yaml:"kind" json:"kind"` // "callable" or "http"
	Target  string            `yaml:"target,omitempty" json:"target,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Outputs declares artifacts rendered after pattern completion.
type Outputs struct {
	Artifacts []Artifact `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
}

// Artifact is one output file: both path and content are templates rendered
// against the final execution context.
type Artifact struct {
	PathTemplate    string `yaml:"path_template" json:"path_template"`
	ContentTemplate string `yaml:"content_template" json:"content_template"`
}

// StageKind discriminates agent steps from human gates.
type StageKind string

const (
	StageAgent StageKind = "agent"
	StageHITL  StageKind = "hitl"
)

// Stage is a single addressable unit inside a pattern: exactly one of Agent
// or HITL is set.
type Stage struct {
	Agent *AgentStep `yaml:"agent,omitempty" json:"agent,omitempty"`
	HITL  *HITLGate  `yaml:"hitl,omitempty" json:"hitl,omitempty"`
}

// Kind reports which variant the stage holds.
func (s Stage) Kind() StageKind {
	if s.HITL != nil {
		return StageHITL
	}
	return StageAgent
}

// AgentStep invokes an agent with a rendered input template.
type AgentStep struct {
	AgentID       string            `yaml:"agent_id" json:"agent_id"`
	InputTemplate string            `yaml:"input_template" json:"input_template"`
	Vars          map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`
	ToolOverrides []string          `yaml:"tool_overrides,omitempty" json:"tool_overrides,omitempty"`
}

// HITLGate pauses the pattern for a human response. TimeoutSeconds is
// metadata only; the engine does not enforce it.
type HITLGate struct {
	PromptTemplate         string `yaml:"prompt_template" json:"prompt_template"`
	ContextDisplayTemplate string `yaml:"context_display_template,omitempty" json:"context_display_template,omitempty"`
	DefaultResponse        string `yaml:"default_response,omitempty" json:"default_response,omitempty"`
	TimeoutSeconds         int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// PatternType names one of the seven orchestration shapes.
type PatternType string

const (
	PatternChain               PatternType = "chain"
	PatternWorkflow            PatternType = "workflow"
	PatternRouting             PatternType = "routing"
	PatternParallel            PatternType = "parallel"
	PatternEvaluatorOptimizer  PatternType = "evaluator_optimizer"
	PatternOrchestratorWorkers PatternType = "orchestrator_workers"
	PatternGraph               PatternType = "graph"
)

// Pattern is a tagged union: Type selects which member is set. Validate
// rejects specs where the tag and the populated member disagree.
type Pattern struct {
	Type PatternType `yaml:"type" json:"type"`

	Chain               *ChainPattern               `yaml:"chain,omitempty" json:"chain,omitempty"`
	Workflow            *WorkflowPattern            `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	Routing             *RoutingPattern             `yaml:"routing,omitempty" json:"routing,omitempty"`
	Parallel            *ParallelPattern            `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	EvaluatorOptimizer  *EvaluatorOptimizerPattern  `yaml:"evaluator_optimizer,omitempty" json:"evaluator_optimizer,omitempty"`
	OrchestratorWorkers *OrchestratorWorkersPattern `yaml:"orchestrator_workers,omitempty" json:"orchestrator_workers,omitempty"`
	Graph               *GraphPattern               `yaml:"graph,omitempty" json:"graph,omitempty"`
}

// ChainPattern runs stages strictly in order.
type ChainPattern struct {
	Steps []Stage `yaml:"steps" json:"steps"`
}

// WorkflowPattern is a DAG of tasks scheduled by dependency readiness.
type WorkflowPattern struct {
	Tasks []WorkflowTask `yaml:"tasks" json:"tasks"`
}

// WorkflowTask is one DAG node.
type WorkflowTask struct {
	ID        string   `yaml:"id" json:"id"`
	Stage     Stage    `yaml:"stage" json:"stage"`
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// RoutingPattern classifies with a router stage and runs the selected route.
type RoutingPattern struct {
	Router       AgentStep          `yaml:"router" json:"router"`
	MaxRetries   int                `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Routes       map[string][]Stage `yaml:"routes" json:"routes"`
	ReviewRouter *HITLGate          `yaml:"review_router,omitempty" json:"review_router,omitempty"`
}

// ParallelPattern fans out independent branches and optionally reduces.
type ParallelPattern struct {
	Branches []ParallelBranch `yaml:"branches" json:"branches"`
	Reduce   *AgentStep       `yaml:"reduce,omitempty" json:"reduce,omitempty"`
}

// ParallelBranch is one independent chain of stages.
type ParallelBranch struct {
	ID    string  `yaml:"id" json:"id"`
	Steps []Stage `yaml:"steps" json:"steps"`
}

// EvaluatorOptimizerPattern iterates producer/evaluator until the score
// threshold or the iteration cap is reached.
type EvaluatorOptimizerPattern struct {
	Producer     AgentStep      `yaml:"producer" json:"producer"`
	Evaluator    AgentStep      `yaml:"evaluator" json:"evaluator"`
	Accept       AcceptCriteria `yaml:"accept" json:"accept"`
	RevisePrompt string         `yaml:"revise_prompt" json:"revise_prompt"`
}

// AcceptCriteria terminates the refinement loop.
type AcceptCriteria struct {
	MinScore      float64 `yaml:"min_score" json:"min_score"`
	MaxIterations int     `yaml:"max_iterations" json:"max_iterations"`
}

// OrchestratorWorkersPattern decomposes work dynamically: the orchestrator
// stage emits a task list, workers execute it in parallel, and optional
// reduce/writeup stages synthesize the results.
type OrchestratorWorkersPattern struct {
	Orchestrator        AgentStep      `yaml:"orchestrator" json:"orchestrator"`
	Limits              WorkerLimits   `yaml:"limits" json:"limits"`
	WorkerTemplate      WorkerTemplate `yaml:"worker_template" json:"worker_template"`
	Reduce              *AgentStep     `yaml:"reduce,omitempty" json:"reduce,omitempty"`
	Writeup             *AgentStep     `yaml:"writeup,omitempty" json:"writeup,omitempty"`
	DecompositionReview *HITLGate      `yaml:"decomposition_review,omitempty" json:"decomposition_review,omitempty"`
	ReduceReview        *HITLGate      `yaml:"reduce_review,omitempty" json:"reduce_review,omitempty"`
}

// WorkerLimits bounds dynamic fan-out.
type WorkerLimits struct {
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`
	MaxRounds  int `yaml:"max_rounds,omitempty" json:"max_rounds,omitempty"`
}

// WorkerTemplate instantiates one worker per orchestrator-emitted task.
type WorkerTemplate struct {
	Agent         string   `yaml:"agent" json:"agent"`
	InputTemplate string   `yaml:"input_template" json:"input_template"`
	Tools         []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// GraphPattern is a conditional state machine over nodes.
type GraphPattern struct {
	StartNode     string               `yaml:"start_node" json:"start_node"`
	Nodes         map[string]GraphNode `yaml:"nodes" json:"nodes"`
	MaxIterations int                  `yaml:"max_iterations" json:"max_iterations"`
}

// GraphNode pairs a stage with its outgoing edges. A node with no edges is
// terminal.
type GraphNode struct {
	Stage Stage  `yaml:"stage" json:"stage"`
	Edges []Edge `yaml:"edges,omitempty" json:"edges,omitempty"`
}

// Edge is probed in declaration order; the first satisfied condition wins.
// An edge with an empty When is the default/else edge.
type Edge struct {
	To   string `yaml:"to" json:"to"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

// MaxParallel returns the effective concurrency bound.
func (s *Spec) MaxParallel() int {
	if s.Runtime.MaxParallel > 0 {
		return s.Runtime.MaxParallel
	}
	return DefaultMaxParallel
}
