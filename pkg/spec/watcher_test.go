// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type watchUpdate struct {
	path string
	spec *Spec
	err  error
}

func startWatcher(t *testing.T, dir string) (*Watcher, chan watchUpdate) {
	t.Helper()
	updates := make(chan watchUpdate, 16)
	w, err := NewWatcher([]string{dir}, WatcherConfig{
		DebounceMs: 50,
		Logger:     zaptest.NewLogger(t),
		OnUpdate: func(path string, s *Spec, err error) {
			updates <- watchUpdate{path: path, spec: s, err: err}
		},
	})
	require.NoError(t, err)
	w.Start()
	t.Cleanup(w.Stop)
	return w, updates
}

func waitUpdate(t *testing.T, updates chan watchUpdate) watchUpdate {
	t.Helper()
	select {
	case u := <-updates:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a reload callback")
		return watchUpdate{}
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	_, updates := startWatcher(t, dir)

	path := filepath.Join(dir, "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainYAML), 0o644))

	u := waitUpdate(t, updates)
	require.NoError(t, u.err)
	require.NotNil(t, u.spec)
	assert.Equal(t, path, u.path)
	assert.Equal(t, "summarize", u.spec.Name)
}

func TestWatcherReportsLoadFailure(t *testing.T) {
	dir := t.TempDir()
	_, updates := startWatcher(t, dir)

	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o644))

	u := waitUpdate(t, updates)
	assert.Error(t, u.err)
	assert.Nil(t, u.spec)
}

func TestWatcherIgnoresNonSpecFiles(t *testing.T) {
	dir := t.TempDir()
	_, updates := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wf.yaml"), []byte(chainYAML), 0o644))

	u := waitUpdate(t, updates)
	assert.Equal(t, filepath.Join(dir, "wf.yaml"), u.path)
}

func TestWatcherStopIdempotent(t *testing.T) {
	w, _ := startWatcher(t, t.TempDir())
	w.Stop()
	w.Stop()
}

func TestWatcherMissingPath(t *testing.T) {
	_, err := NewWatcher([]string{filepath.Join(t.TempDir(), "nope")}, WatcherConfig{})
	assert.Error(t, err)
}
