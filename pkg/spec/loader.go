// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Custom errors for spec loading.
var (
	ErrFileNotFound       = fmt.Errorf("workflow file not found")
	ErrInvalidPermissions = fmt.Errorf("insufficient permissions to read workflow file")
	ErrInvalidYAML        = fmt.Errorf("invalid YAML syntax in workflow file")
)

// Load reads, parses, normalizes, and validates a workflow spec from a YAML
// file.
func Load(path string) (*Spec, error) {
	data, err := readSpecFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses a workflow spec from YAML bytes, applies defaults, and
// validates it.
func Parse(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidYAML, err.Error())
	}
	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// readSpecFile reads the workflow file from disk.
func readSpecFile(path string) ([]byte, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPermissions, path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// normalize fills in defaults the YAML may omit.
func (s *Spec) normalize() {
	if s.Runtime.MaxParallel <= 0 {
		s.Runtime.MaxParallel = DefaultMaxParallel
	}
	if s.Pattern.Type == PatternRouting && s.Pattern.Routing != nil && s.Pattern.Routing.MaxRetries <= 0 {
		s.Pattern.Routing.MaxRetries = 2
	}
	if s.Pattern.Type == PatternOrchestratorWorkers && s.Pattern.OrchestratorWorkers != nil {
		if s.Pattern.OrchestratorWorkers.Limits.MaxRounds <= 0 {
			s.Pattern.OrchestratorWorkers.Limits.MaxRounds = 1
		}
	}
}
