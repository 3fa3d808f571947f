// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/spec"
)

func testSpec(name string) *spec.Spec {
	return &spec.Spec{
		Name:    name,
		Runtime: spec.Runtime{Provider: "ollama", Model: "llama3"},
		Agents: map[string]spec.AgentSpec{
			"writer": {SystemPrompt: "write"},
		},
		Pattern: spec.Pattern{
			Type: spec.PatternChain,
			Chain: &spec.ChainPattern{Steps: []spec.Stage{
				{Agent: &spec.AgentStep{AgentID: "writer", InputTemplate: "go"}},
			}},
		},
	}
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	st := &State{
		Metadata: Metadata{
			SessionID:     "abc-123",
			SpecHash:      "deadbeef",
			SpecName:      "demo",
			Status:        StatusRunning,
			CreatedAt:     time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
			UpdatedAt:     time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC),
			SchemaVersion: SchemaVersion,
		},
		PatternState: PatternState{
			Pattern: spec.PatternChain,
			Steps: []StageResult{
				{Response: "first", Tokens: 30, Status: StageCompleted},
			},
			LastResponse: "first",
			HITLResponses: map[string]string{
				"steps[1]": "yes",
			},
		},
		TokenUsage: llm.Usage{InputTokens: 20, OutputTokens: 10},
		Variables:  map[string]any{"topic": "databases"},
	}
	require.NoError(t, store.Put(st))

	got, err := store.Get("abc-123")
	require.NoError(t, err)
	assert.Equal(t, st.Metadata, got.Metadata)
	assert.Equal(t, st.PatternState, got.PatternState)
	assert.Equal(t, st.TokenUsage, got.TokenUsage)
	assert.Equal(t, st.Variables, got.Variables)
}

func TestFileStoreNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("missing")
	assert.True(t, IsNotFound(err))
}

func TestFileStoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))

	_, err = store.Get("bad")
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindCorrupt, se.Kind)
}

func TestFileStoreDeleteMissing(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Delete("never-existed"))
}

func TestFileStoreAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	st := &State{Metadata: Metadata{SessionID: "s1", Status: StatusRunning, SchemaVersion: SchemaVersion}}
	require.NoError(t, store.Put(st))
	st.Metadata.Status = StatusCompleted
	require.NoError(t, store.Put(st))

	// No temp droppings left behind after successful writes.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1.json", entries[0].Name())
}

func TestFileStoreList(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	put := func(id string, status Status, age time.Duration) {
		require.NoError(t, store.Put(&State{Metadata: Metadata{
			SessionID:     id,
			Status:        status,
			UpdatedAt:     base.Add(age),
			SchemaVersion: SchemaVersion,
		}}))
	}
	put("old-paused", StatusPaused, 0)
	put("mid-completed", StatusCompleted, time.Hour)
	put("new-paused", StatusPaused, 2*time.Hour)

	all, err := store.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new-paused", all[0].Metadata.SessionID, "newest first")

	paused, err := store.List(ListFilter{Status: StatusPaused})
	require.NoError(t, err)
	require.Len(t, paused, 2)
	assert.Equal(t, "new-paused", paused[0].Metadata.SessionID)
	assert.Equal(t, "old-paused", paused[1].Metadata.SessionID)

	page, err := store.List(ListFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "mid-completed", page[0].Metadata.SessionID)

	empty, err := store.List(ListFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestManagerLifecycle(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, zaptest.NewLogger(t))
	s := testSpec("demo")

	st, err := m.Create(s, map[string]any{"topic": "go"})
	require.NoError(t, err)
	assert.NotEmpty(t, st.Metadata.SessionID)
	assert.Equal(t, StatusRunning, st.Metadata.Status)
	assert.Equal(t, s.Hash(), st.Metadata.SpecHash)
	assert.Equal(t, SchemaVersion, st.Metadata.SchemaVersion)
	assert.Equal(t, spec.PatternChain, st.PatternState.Pattern)

	st.PatternState.Steps = append(st.PatternState.Steps, StageResult{Response: "r1", Tokens: 15, Status: StageCompleted})
	require.NoError(t, m.SaveAfterStage(st, llm.Usage{InputTokens: 10, OutputTokens: 5}))

	loaded, err := m.Load(st.Metadata.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 15, loaded.TokenUsage.Total())
	require.Len(t, loaded.PatternState.Steps, 1)
	assert.Equal(t, "r1", loaded.PatternState.Steps[0].Response)

	require.NoError(t, m.Complete(st))
	loaded, err = m.Load(st.Metadata.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Metadata.Status)

	require.NoError(t, m.Delete(st.Metadata.SessionID))
	_, err = m.Load(st.Metadata.SessionID)
	assert.True(t, IsNotFound(err))
}

func TestManagerPauseResume(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, zaptest.NewLogger(t))

	st, err := m.Create(testSpec("demo"), nil)
	require.NoError(t, err)

	marker := &PauseMarker{StageID: "steps[1]", Prompt: "Continue?", DefaultResponse: "yes"}
	require.NoError(t, m.Pause(st, marker))

	loaded, err := m.Load(st.Metadata.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, loaded.Metadata.Status)
	require.NotNil(t, loaded.PatternState.PausedAt)
	assert.Equal(t, "steps[1]", loaded.PatternState.PausedAt.StageID)

	require.NoError(t, m.Resume(loaded, "yes"))
	assert.Equal(t, StatusRunning, loaded.Metadata.Status)
	assert.Nil(t, loaded.PatternState.PausedAt)
	assert.Equal(t, "yes", loaded.PatternState.HITLResponses["steps[1]"])
}

func TestManagerResumeEmptyResponseUsesDefault(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, zaptest.NewLogger(t))

	st, err := m.Create(testSpec("demo"), nil)
	require.NoError(t, err)

	marker := &PauseMarker{StageID: "steps[1]", Prompt: "Continue?", DefaultResponse: "approved"}
	require.NoError(t, m.Pause(st, marker))
	require.NoError(t, m.Resume(st, ""))
	assert.Equal(t, "approved", st.PatternState.HITLResponses["steps[1]"],
		"an empty answer takes the gate's declared default")

	st2, err := m.Create(testSpec("demo"), nil)
	require.NoError(t, err)
	require.NoError(t, m.Pause(st2, &PauseMarker{StageID: "steps[1]", DefaultResponse: "approved"}))
	require.NoError(t, m.Resume(st2, "rejected"))
	assert.Equal(t, "rejected", st2.PatternState.HITLResponses["steps[1]"],
		"an explicit answer wins over the default")
}

func TestManagerFailPreservesContext(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, zaptest.NewLogger(t))

	st, err := m.Create(testSpec("demo"), nil)
	require.NoError(t, err)
	st.PatternState.LastResponse = "partial output"

	require.NoError(t, m.Fail(st, assert.AnError))

	loaded, err := m.Load(st.Metadata.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, loaded.Metadata.Status)
	assert.NotEmpty(t, loaded.Metadata.Error)
	assert.Equal(t, "partial output", loaded.PatternState.LastResponse)
}

func TestCheckCompatibility(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, zaptest.NewLogger(t))

	original := testSpec("demo")
	st, err := m.Create(original, nil)
	require.NoError(t, err)

	require.NoError(t, m.CheckCompatibility(st, original, true))

	amended := testSpec("demo")
	amended.Agents["writer"] = spec.AgentSpec{SystemPrompt: "write differently"}

	// Default mode warns and proceeds.
	require.NoError(t, m.CheckCompatibility(st, amended, false))

	// Strict mode refuses.
	err = m.CheckCompatibility(st, amended, true)
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindSpecChanged, se.Kind)
}

func TestParseReviewResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		override string
		wantErr  bool
	}{
		{"approved", "approved", "", false},
		{"approved with whitespace", "  approved\n", "", false},
		{"route override", "route:billing", "billing", false},
		{"route override with spaces", "route: billing ", "billing", false},
		{"empty route", "route:", "", true},
		{"freeform text", "looks good to me", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			override, err := ParseReviewResponse(tt.response)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsHITLError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.override, override)
		})
	}
}
