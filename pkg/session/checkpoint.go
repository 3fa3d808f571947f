// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/spec"
)

// Manager bridges pattern executors and the session store: it mints
// sessions, merges stage deltas, and enforces resume compatibility.
type Manager struct {
	store  Store
	logger *zap.Logger
}

// NewManager wraps a store.
func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}
}

// Store exposes the underlying backend for listing and deletion.
func (m *Manager) Store() Store { return m.store }

// Create mints a session id and persists the initial running state.
func (m *Manager) Create(s *spec.Spec, variables map[string]any) (*State, error) {
	now := time.Now().UTC()
	st := &State{
		Metadata: Metadata{
			SessionID:     uuid.NewString(),
			SpecHash:      s.Hash(),
			SpecName:      s.Name,
			Status:        StatusRunning,
			CreatedAt:     now,
			UpdatedAt:     now,
			SchemaVersion: SchemaVersion,
		},
		PatternState: PatternState{Pattern: s.Pattern.Type},
		Variables:    variables,
	}
	if err := m.store.Put(st); err != nil {
		return nil, err
	}
	m.logger.Info("session created",
		zap.String("session_id", st.Metadata.SessionID),
		zap.String("workflow", s.Name),
		zap.String("pattern", string(s.Pattern.Type)))
	return st, nil
}

// Load fetches a session by id.
func (m *Manager) Load(sessionID string) (*State, error) {
	return m.store.Get(sessionID)
}

// CheckCompatibility compares the session's spec hash with the current
// spec. A mismatch warns by default, since the author may intentionally
// have amended the tail of the workflow; in strict mode it is fatal.
func (m *Manager) CheckCompatibility(st *State, s *spec.Spec, strict bool) error {
	if st.Metadata.SpecHash == s.Hash() {
		return nil
	}
	if strict {
		return &Error{Kind: KindSpecChanged, SessionID: st.Metadata.SessionID}
	}
	m.logger.Warn("spec changed since session was created; resuming anyway",
		zap.String("session_id", st.Metadata.SessionID),
		zap.String("workflow", s.Name))
	return nil
}

// SaveAfterStage merges one stage's token usage into the session counters
// and persists the current pattern state.
func (m *Manager) SaveAfterStage(st *State, usage llm.Usage) error {
	st.TokenUsage.Add(usage)
	return m.Save(st)
}

// Save persists the session, bumping its update time.
func (m *Manager) Save(st *State) error {
	st.Metadata.UpdatedAt = time.Now().UTC()
	return m.store.Put(st)
}

// Pause marks the session paused at the given gate and persists it.
func (m *Manager) Pause(st *State, marker *PauseMarker) error {
	st.Metadata.Status = StatusPaused
	st.PatternState.PausedAt = marker
	if err := m.Save(st); err != nil {
		return err
	}
	m.logger.Info("session paused for human input",
		zap.String("session_id", st.Metadata.SessionID),
		zap.String("stage", marker.StageID))
	return nil
}

// Resume transitions a paused session back to running and records the
// human response under the paused stage's identity. An empty response
// falls back to the gate's declared default, matching the in-process
// handler path.
func (m *Manager) Resume(st *State, response string) error {
	if st.PatternState.PausedAt != nil {
		if response == "" {
			response = st.PatternState.PausedAt.DefaultResponse
		}
		if st.PatternState.HITLResponses == nil {
			st.PatternState.HITLResponses = make(map[string]string)
		}
		st.PatternState.HITLResponses[st.PatternState.PausedAt.StageID] = response
		st.PatternState.PausedAt = nil
	}
	st.Metadata.Status = StatusRunning
	return m.Save(st)
}

// Complete marks the session completed and persists it.
func (m *Manager) Complete(st *State) error {
	st.Metadata.Status = StatusCompleted
	st.Metadata.Error = ""
	return m.Save(st)
}

// Fail marks the session failed with an error summary and persists it.
func (m *Manager) Fail(st *State, cause error) error {
	st.Metadata.Status = StatusFailed
	if cause != nil {
		st.Metadata.Error = cause.Error()
	}
	return m.Save(st)
}

// Delete removes the session entirely; used after successful runs that
// do not keep history.
func (m *Manager) Delete(sessionID string) error {
	return m.store.Delete(sessionID)
}
