// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package llm defines the model-client capability consumed by the engine.
// Provider adapters (Bedrock, OpenAI, Ollama, Gemini) implement Client; the
// engine itself never speaks to an LLM API directly.
package llm

import "context"

// Config identifies one provider endpoint and its sampling parameters.
// Clients are pooled by the canonical fingerprint of this struct.
type Config struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Model       string  `yaml:"model" json:"model"`
	Region      string  `yaml:"region,omitempty" json:"region,omitempty"`
	Host        string  `yaml:"host,omitempty" json:"host,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP        float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// Usage reports token consumption for a single invocation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Request is a single completion request.
type Request struct {
	System string
	Prompt string
}

// Response is the model's reply to a Request.
type Response struct {
	Content string
	Usage   Usage
}

// Client is a model client bound to one Config.
type Client interface {
	// Complete performs one completion. Implementations must honor context
	// cancellation at network boundaries.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Close releases the client's network resources. Must be idempotent.
	Close() error
}

// Factory builds a Client for the given configuration. Provider adapters
// register a Factory with the agent cache.
type Factory func(cfg Config) (Client, error)
