// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/teradata-labs/weft/pkg/llm"
)

// BudgetError reports that the run's token allowance is spent. The
// executor maps it to its own exit code, distinct from runtime failures.
type BudgetError struct {
	Used int
	Max  int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("token budget exceeded: %d tokens used of %d allowed", e.Used, e.Max)
}

// IsBudgetError reports whether err is (or wraps) a BudgetError.
func IsBudgetError(err error) bool {
	var be *BudgetError
	return errors.As(err, &be)
}

// BudgetLedger accumulates token usage across a run and gates each
// invocation against the spec's token allowance. A zero or negative max
// disables enforcement. Safe for concurrent use.
type BudgetLedger struct {
	mu   sync.Mutex
	max  int
	used llm.Usage
}

// NewBudgetLedger returns a ledger enforcing maxTokens.
func NewBudgetLedger(maxTokens int) *BudgetLedger {
	return &BudgetLedger{max: maxTokens}
}

// Check fails with a BudgetError when the recorded usage has already
// reached the allowance. It is called before every LLM invocation, so an
// overshooting call is the last one admitted.
func (b *BudgetLedger) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && b.used.Total() >= b.max {
		return &BudgetError{Used: b.used.Total(), Max: b.max}
	}
	return nil
}

// Record adds one invocation's usage to the ledger.
func (b *BudgetLedger) Record(u llm.Usage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used.Add(u)
}

// Usage returns the accumulated usage so far.
func (b *BudgetLedger) Usage() llm.Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Seed pre-loads usage from a resumed session so the allowance spans the
// whole logical run, not just the current process.
func (b *BudgetLedger) Seed(u llm.Usage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = u
}
