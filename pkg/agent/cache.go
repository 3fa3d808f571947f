// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"container/list"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/spec"
)

// DefaultClientPoolSize bounds the model-client pool.
const DefaultClientPoolSize = 16

// Cache deduplicates agent instances by configuration fingerprint and
// pools model clients by runtime fingerprint. It is owned by a single
// Executor, shared by that run's concurrent tasks, and closed on teardown.
type Cache struct {
	factory llm.Factory
	retry   *RetryPolicy
	logger  *zap.Logger

	mu     sync.Mutex
	agents map[string]*agentEntry
	pool   *clientPool
	closed bool
}

// agentEntry is the single-flight slot for one fingerprint: concurrent
// misses on the same key wait on ready and observe one build.
type agentEntry struct {
	ready chan struct{}
	agent *Agent
	err   error
}

// NewCache builds a cache around the given client factory. A nil retry
// policy gets the default transient-error policy.
func NewCache(factory llm.Factory, retry *RetryPolicy, logger *zap.Logger) *Cache {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		factory: factory,
		retry:   retry,
		logger:  logger,
		agents:  make(map[string]*agentEntry),
		pool:    newClientPool(DefaultClientPoolSize, factory, logger),
	}
}

// GetOrBuild returns the agent for agentID as declared in s, building it
// on first use. toolOverrides, when non-nil, replaces the agent's declared
// tool binding for this stage. Concurrent calls with an equal fingerprint
// return the same instance.
func (c *Cache) GetOrBuild(s *spec.Spec, agentID string, toolOverrides []string) (*Agent, error) {
	def, ok := s.Agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %q is not declared in the workflow spec", agentID)
	}
	tools := def.Tools
	if toolOverrides != nil {
		tools = toolOverrides
	}
	cfg := s.Runtime.LLMConfig(def.Model)
	fp := Fingerprint(agentID, def.SystemPrompt, tools, cfg)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("agent cache is closed")
	}
	if e, ok := c.agents[fp]; ok {
		c.mu.Unlock()
		<-e.ready
		return e.agent, e.err
	}
	e := &agentEntry{ready: make(chan struct{})}
	c.agents[fp] = e
	c.mu.Unlock()

	agent, err := c.build(agentID, def.SystemPrompt, tools, cfg, fp)
	e.agent, e.err = agent, err
	close(e.ready)
	if err != nil {
		// Drop the failed slot so a later call can retry the build.
		c.mu.Lock()
		delete(c.agents, fp)
		c.mu.Unlock()
	}
	return agent, err
}

func (c *Cache) build(agentID, systemPrompt string, tools []string, cfg llm.Config, fp string) (*Agent, error) {
	client, err := c.pool.get(cfg)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("built agent",
		zap.String("agent_id", agentID),
		zap.String("fingerprint", fp[:12]),
		zap.String("model", cfg.Model))
	return &Agent{
		ID:           agentID,
		SystemPrompt: systemPrompt,
		Tools:        tools,
		Config:       cfg,
		fingerprint:  fp,
		client:       client,
		retry:        c.retry,
		logger:       c.logger,
	}, nil
}

// ModelClient returns the pooled client for cfg, building one on first
// use.
func (c *Cache) ModelClient(cfg llm.Config) (llm.Client, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("agent cache is closed")
	}
	c.mu.Unlock()
	return c.pool.get(cfg)
}

// Close closes every pooled client and drops all references. Idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.agents = make(map[string]*agentEntry)
	c.mu.Unlock()
	return c.pool.close()
}

// clientPool is a small LRU over model clients keyed by runtime
// fingerprint. Eviction closes the client before the reference is
// released.
type clientPool struct {
	mu      sync.Mutex
	cap     int
	factory llm.Factory
	logger  *zap.Logger
	order   *list.List               // front = most recently used
	entries map[string]*list.Element // fingerprint -> element holding *poolEntry
}

type poolEntry struct {
	key    string
	client llm.Client
}

func newClientPool(capacity int, factory llm.Factory, logger *zap.Logger) *clientPool {
	if capacity <= 0 {
		capacity = DefaultClientPoolSize
	}
	return &clientPool{
		cap:     capacity,
		factory: factory,
		logger:  logger,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (p *clientPool) get(cfg llm.Config) (llm.Client, error) {
	key := RuntimeFingerprint(cfg)

	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.entries[key]; ok {
		p.order.MoveToFront(el)
		return el.Value.(*poolEntry).client, nil
	}

	client, err := p.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("building model client for %s/%s: %w", cfg.Provider, cfg.Model, err)
	}

	el := p.order.PushFront(&poolEntry{key: key, client: client})
	p.entries[key] = el

	for p.order.Len() > p.cap {
		oldest := p.order.Back()
		entry := oldest.Value.(*poolEntry)
		if err := entry.client.Close(); err != nil {
			p.logger.Warn("closing evicted model client", zap.Error(err))
		}
		p.order.Remove(oldest)
		delete(p.entries, entry.key)
	}
	return client, nil
}

func (p *clientPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for el := p.order.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*poolEntry).client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.order.Init()
	p.entries = make(map[string]*list.Element)
	return firstErr
}
