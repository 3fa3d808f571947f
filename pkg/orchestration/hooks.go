// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/llm"
)

// EventType names one lifecycle event.
type EventType string

const (
	EventWorkflowStart    EventType = "workflow_start"
	EventWorkflowComplete EventType = "workflow_complete"
	EventStepStart        EventType = "step_start"
	EventStepComplete     EventType = "step_complete"
	EventTaskStart        EventType = "task_start"
	EventTaskComplete     EventType = "task_complete"
	EventBranchStart      EventType = "branch_start"
	EventBranchComplete   EventType = "branch_complete"
	EventNodeStart        EventType = "node_start"
	EventNodeComplete     EventType = "node_complete"
	EventHITLPause        EventType = "hitl_pause"
	EventError            EventType = "error"
)

// Event is one lifecycle notification. Response is populated on
// completion events; Err on error events.
type Event struct {
	Type       EventType
	Workflow   string
	Pattern    string
	StageID    string
	Response   string
	TokenUsage llm.Usage
	Err        error
}

// Handler observes lifecycle events. Handlers run synchronously on the
// emitting goroutine; parallel branches and worker pools emit from their
// own goroutines, so a handler must be safe for concurrent use. Handlers
// must not block for long.
type Handler func(Event)

// Hooks is a callback registry. Handlers fire in registration order; a
// panicking handler is caught and logged and never aborts the workflow.
type Hooks struct {
	handlers []Handler
	logger   *zap.Logger
}

// NewHooks returns an empty registry.
func NewHooks(logger *zap.Logger) *Hooks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hooks{logger: logger}
}

// Register appends a handler.
func (h *Hooks) Register(fn Handler) {
	h.handlers = append(h.handlers, fn)
}

// Emit delivers ev to every handler in registration order.
func (h *Hooks) Emit(ev Event) {
	for _, fn := range h.handlers {
		h.fire(fn, ev)
	}
}

func (h *Hooks) fire(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked",
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r))
		}
	}()
	fn(ev)
}
