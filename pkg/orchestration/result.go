// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"errors"

	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/template"
)

// Exit codes returned in RunResult. Values are part of the public
// contract; tooling depends on them.
const (
	ExitOK          = 0  // completed successfully
	ExitRuntime     = 10 // provider or network failure after retries
	ExitIO          = 12 // artifact write failure
	ExitSession     = 17 // session load/save failure or strict spec mismatch
	ExitUnsupported = 18 // spec feature not supported by this engine
	ExitHITLPause   = 19 // paused at a human gate; session id populated
	ExitBudget      = 20 // token budget exceeded
	ExitUnknown     = 70 // unclassified error
)

// RunResult is the outcome of one run or resume call.
type RunResult struct {
	Success          bool
	ExitCode         int
	LastResponse     string
	DurationSeconds  float64
	ArtifactsWritten []string
	SessionID        string
	TokenUsage       llm.Usage
	Context          template.Context
	Err              error
}

// Paused reports whether the run stopped at a human gate.
func (r *RunResult) Paused() bool {
	return r.ExitCode == ExitHITLPause
}

// exitCodeFor maps a terminal error to its exit code. Errors without a
// dedicated code fall through to ExitUnknown.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	if agent.IsBudgetError(err) {
		return ExitBudget
	}
	if _, ok := session.AsError(err); ok {
		return ExitSession
	}
	if session.IsHITLError(err) {
		return ExitSession
	}
	if _, ok := artifacts.IsError(err); ok {
		return ExitIO
	}
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ExitUnsupported
	}
	var te *llm.TransientError
	var pe *llm.PermanentError
	if errors.As(err, &te) || errors.As(err, &pe) {
		return ExitRuntime
	}
	return ExitUnknown
}
