// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/teradata-labs/weft/pkg/llm"
)

// agentKey is the canonical form hashed into an agent fingerprint. The
// agent id participates so two distinct ids never collide even when their
// resolved configuration is identical.
type agentKey struct {
	AgentID      string     `json:"agent_id"`
	SystemPrompt string     `json:"system_prompt"`
	Tools        []string   `json:"tools"`
	Config       llm.Config `json:"config"`
}

// Fingerprint computes the cache key for one resolved agent
// configuration. The tool list is sorted first, so binding order does not
// fragment the cache.
func Fingerprint(agentID, systemPrompt string, tools []string, cfg llm.Config) string {
	sorted := append([]string(nil), tools...)
	sort.Strings(sorted)
	return hashKey(agentKey{
		AgentID:      agentID,
		SystemPrompt: systemPrompt,
		Tools:        sorted,
		Config:       cfg,
	})
}

// RuntimeFingerprint computes the pool key for one model-client
// configuration.
func RuntimeFingerprint(cfg llm.Config) string {
	return hashKey(cfg)
}

// hashKey freezes v into canonical JSON and hashes the bytes.
// encoding/json emits struct fields in declaration order and sorts map
// keys, so equal values always produce equal bytes.
func hashKey(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Keys are plain data; this cannot fail for well-formed configs.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
