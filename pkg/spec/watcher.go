// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// UpdateCallback is invoked when a watched spec file is rewritten. On
// successful reload the new spec is passed; on load failure the spec is nil
// and err describes the problem (the previous spec stays in effect).
type UpdateCallback func(path string, s *Spec, err error)

// WatcherConfig configures hot-reload behavior for spec files.
type WatcherConfig struct {
	DebounceMs int // debounce delay in milliseconds (default: 500ms)
	Logger     *zap.Logger
	OnUpdate   UpdateCallback
}

// Watcher reloads workflow spec files when they change on disk. Long-running
// hosts use it to pick up spec edits without restarting.
type Watcher struct {
	watcher *fsnotify.Watcher
	config  WatcherConfig
	logger  *zap.Logger

	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex
}

// NewWatcher creates a watcher over the given spec files or directories.
func NewWatcher(paths []string, config WatcherConfig) (*Watcher, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.DebounceMs == 0 {
		config.DebounceMs = 500
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	for _, p := range paths {
		if err := fw.Add(p); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}

	return &Watcher{
		watcher:        fw,
		config:         config,
		logger:         config.Logger,
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Start begins watching. It returns immediately; events are handled on a
// background goroutine until Stop is called.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			w.debounce(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("spec watcher error", zap.Error(err))
		}
	}
}

// debounce coalesces rapid-fire editor writes into a single reload.
func (w *Watcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounceTimers[path]; ok {
		timer.Stop()
	}
	w.debounceTimers[path] = time.AfterFunc(time.Duration(w.config.DebounceMs)*time.Millisecond, func() {
		w.reload(path)
	})
}

func (w *Watcher) reload(path string) {
	s, err := Load(path)
	if err != nil {
		w.logger.Warn("spec reload failed; previous spec stays in effect",
			zap.String("path", path),
			zap.Error(err))
	} else {
		w.logger.Info("spec reloaded",
			zap.String("path", path),
			zap.String("name", s.Name),
			zap.String("spec_hash", s.Hash()[:12]))
	}
	if w.config.OnUpdate != nil {
		w.config.OnUpdate(path, s, err)
	}
}

// Stop shuts the watcher down and waits for the event loop to exit.
// Idempotent.
func (w *Watcher) Stop() {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	w.debounceMu.Unlock()
}
