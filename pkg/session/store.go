// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the durable session backend: a namespaced key space keyed by
// session id.
type Store interface {
	Get(sessionID string) (*State, error)
	Put(state *State) error
	Delete(sessionID string) error
	List(filter ListFilter) ([]*State, error)
}

// ListFilter narrows and pages List results. A zero Limit means no cap.
type ListFilter struct {
	Status Status
	Offset int
	Limit  int
}

// readCacheTTL bounds staleness of the in-memory read cache.
const readCacheTTL = 2 * time.Second

// FileStore persists one JSON document per session under a directory.
// Writes go through a temp file, fsync, and rename, so a crash mid-write
// never corrupts an existing session. A short-TTL read cache absorbs the
// re-reads executors issue between checkpoints.
type FileStore struct {
	dir string

	mu    sync.Mutex
	cache map[string]cachedState
}

type cachedState struct {
	data    []byte
	fetched time.Time
}

// NewFileStore creates the backing directory if needed and returns a
// store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Kind: KindIO, Err: fmt.Errorf("creating session directory: %w", err)}
	}
	return &FileStore{dir: dir, cache: make(map[string]cachedState)}, nil
}

// Get loads one session. Missing sessions return a KindNotFound error.
func (s *FileStore) Get(sessionID string) (*State, error) {
	data, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &Error{Kind: KindCorrupt, SessionID: sessionID, Err: err}
	}
	return &st, nil
}

func (s *FileStore) read(sessionID string) ([]byte, error) {
	s.mu.Lock()
	if c, ok := s.cache[sessionID]; ok && time.Since(c.fetched) < readCacheTTL {
		s.mu.Unlock()
		return c.data, nil
	}
	s.mu.Unlock()

	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: KindNotFound, SessionID: sessionID}
		}
		return nil, &Error{Kind: KindIO, SessionID: sessionID, Err: err}
	}

	s.mu.Lock()
	s.cache[sessionID] = cachedState{data: data, fetched: time.Now()}
	s.mu.Unlock()
	return data, nil
}

// Put atomically replaces the session document.
func (s *FileStore) Put(state *State) error {
	id := state.Metadata.SessionID
	if id == "" {
		return &Error{Kind: KindIO, Err: fmt.Errorf("state has no session id")}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &Error{Kind: KindIO, SessionID: id, Err: err}
	}

	target := s.path(id)
	tmp, err := os.CreateTemp(s.dir, id+".tmp-*")
	if err != nil {
		return &Error{Kind: KindIO, SessionID: id, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Kind: KindIO, SessionID: id, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Kind: KindIO, SessionID: id, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: KindIO, SessionID: id, Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: KindIO, SessionID: id, Err: err}
	}

	s.mu.Lock()
	s.cache[id] = cachedState{data: data, fetched: time.Now()}
	s.mu.Unlock()
	return nil
}

// Delete removes the session file. Deleting a missing session is not an
// error.
func (s *FileStore) Delete(sessionID string) error {
	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()

	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: KindIO, SessionID: sessionID, Err: err}
	}
	return nil
}

// List returns sessions matching the filter, newest first by update time.
// Unreadable entries are skipped rather than failing the listing.
func (s *FileStore) List(filter ListFilter) ([]*State, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &Error{Kind: KindIO, Err: err}
	}

	var states []*State
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		st, err := s.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if filter.Status != "" && st.Metadata.Status != filter.Status {
			continue
		}
		states = append(states, st)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].Metadata.UpdatedAt.After(states[j].Metadata.UpdatedAt)
	})

	if filter.Offset >= len(states) {
		return nil, nil
	}
	states = states[filter.Offset:]
	if filter.Limit > 0 && len(states) > filter.Limit {
		states = states[:filter.Limit]
	}
	return states, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}
