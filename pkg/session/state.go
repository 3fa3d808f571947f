// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package session persists workflow execution state: the durable session
// store, the checkpoint manager bridging executors to it, and the
// human-in-the-loop pause markers that make paused workflows resumable.
package session

import (
	"time"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/spec"
)

// SchemaVersion is bumped on any breaking change to the session file
// layout. Field additions are backward-compatible and do not bump it.
const SchemaVersion = 1

// Status is the session lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Metadata identifies a session and tracks its lifecycle.
type Metadata struct {
	SessionID     string    `json:"session_id"`
	SpecHash      string    `json:"spec_hash"`
	SpecName      string    `json:"spec_name"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	SchemaVersion int       `json:"schema_version"`
	Error         string    `json:"error,omitempty"`
}

// State is one persisted session document. Top-level keys (metadata,
// pattern_state, token_usage, variables) are stable; renames are breaking
// changes versioned through Metadata.SchemaVersion.
type State struct {
	Metadata     Metadata       `json:"metadata"`
	PatternState PatternState   `json:"pattern_state"`
	TokenUsage   llm.Usage      `json:"token_usage"`
	Variables    map[string]any `json:"variables"`
}

// StageResult is the persisted outcome of one completed stage.
type StageResult struct {
	Response string `json:"response"`
	Tokens   int    `json:"tokens"`
	Status   string `json:"status"`
}

// Stage result statuses.
const (
	StageCompleted = "completed"
	StageFailed    = "failed"
	StageHITL      = "hitl"
)

// RouterState records the routing pattern's classification.
type RouterState struct {
	ChosenRoute string `json:"chosen_route"`
	Response    string `json:"response"`
}

// IterationRecord is one producer/evaluator round of the
// evaluator-optimizer pattern.
type IterationRecord struct {
	Number     int     `json:"number"`
	Response   string  `json:"response"`
	Evaluation string  `json:"evaluation"`
	Score      float64 `json:"score"`
}

// RoundRecord is one orchestrator round: the decomposed task list and the
// worker results gathered for it.
type RoundRecord struct {
	Tasks   []map[string]any `json:"tasks"`
	Workers []StageResult    `json:"workers"`
}

// PauseMarker records where a run stopped for human input.
type PauseMarker struct {
	StageID         string `json:"stage_id"`
	Prompt          string `json:"prompt"`
	ContextDisplay  string `json:"context_display,omitempty"`
	DefaultResponse string `json:"default_response,omitempty"`
}

// PatternState is the pattern-tagged resume record: the completed stage
// results plus the in-flight indices an executor needs to skip finished
// work. Only the fields of the tagged pattern are populated.
type PatternState struct {
	Pattern spec.PatternType `json:"pattern"`

	// Chain and routing-route progress, dense by step index.
	Steps []StageResult `json:"steps,omitempty"`

	// Workflow progress by task id.
	Tasks map[string]StageResult `json:"tasks,omitempty"`

	// Parallel progress by branch id, dense by step index within a branch.
	Branches map[string][]StageResult `json:"branches,omitempty"`
	Reduce   *StageResult             `json:"reduce,omitempty"`

	Router *RouterState `json:"router,omitempty"`

	Iterations []IterationRecord `json:"iterations,omitempty"`

	Rounds  []RoundRecord `json:"rounds,omitempty"`
	Writeup *StageResult  `json:"writeup,omitempty"`

	// Graph progress: per-node last result (re-entries overwrite), the
	// node to execute next, and the visit counter.
	Nodes          map[string]StageResult `json:"nodes,omitempty"`
	CurrentNode    string                 `json:"current_node,omitempty"`
	IterationCount int                    `json:"iteration_count,omitempty"`

	// LastResponse is the most recent agent response, preserved on
	// failure so callers can inspect context at the failure point.
	LastResponse string `json:"last_response,omitempty"`

	// PausedAt is set while the session waits on human input.
	PausedAt *PauseMarker `json:"paused_at,omitempty"`

	// HITLResponses holds the human responses supplied so far, keyed by
	// stage identity, so resumed runs can rebuild the full context.
	HITLResponses map[string]string `json:"hitl_responses,omitempty"`
}
